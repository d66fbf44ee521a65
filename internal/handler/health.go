package handler

import (
	"net/http"

	"quotekeeper/internal/health"

	"github.com/gin-gonic/gin"
)

// Health godoc
// @Summary      Health check
// @Description  Probes every registered dependency and returns the aggregate status. Pass service to probe a single dependency, and force=true to bypass the memoized result.
// @Tags         health
// @Produce      json
// @Param        service  query  string  false  "Probe only this dependency"
// @Param        force    query  bool    false  "Bypass the memoized result"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Failure      503  {object}  map[string]interface{}
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.health")
	defer span.End()

	force := c.Query("force") == "true"

	var results []health.Result
	if service := c.Query("service"); service != "" {
		res, err := h.checker.Check(ctx, service, force)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		results = []health.Result{res}
	} else {
		results = h.checker.CheckAll(ctx)
	}

	status := health.StatusHealthy
	for _, r := range results {
		switch r.Status {
		case health.StatusUnhealthy:
			status = health.StatusUnhealthy
		case health.StatusDegraded:
			if status == health.StatusHealthy {
				status = health.StatusDegraded
			}
		}
	}

	code := http.StatusOK
	if status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "services": results})
}
