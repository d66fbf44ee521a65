package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetStats godoc
// @Summary      Error and resilience statistics
// @Description  Returns accumulated error counts, circuit breaker states, and the latest health check results
// @Tags         stats
// @Produce      json
// @Success      200  {object}  stats.Snapshot
// @Router       /api/stats [get]
func (h *Handler) GetStats(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-stats")
	defer span.End()

	c.JSON(http.StatusOK, h.stats.Snapshot())
}
