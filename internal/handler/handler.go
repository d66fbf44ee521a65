package handler

import (
	"quotekeeper/internal/health"
	"quotekeeper/internal/service"
	"quotekeeper/internal/stats"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type Handler struct {
	tracer       trace.Tracer
	quoteService *service.QuoteService
	checker      *health.Checker
	stats        *stats.Registry
}

func New(tracer trace.Tracer, quoteService *service.QuoteService, checker *health.Checker, statsRegistry *stats.Registry) *Handler {
	return &Handler{
		tracer:       tracer,
		quoteService: quoteService,
		checker:      checker,
		stats:        statsRegistry,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/api/quotes/:symbol", h.GetQuote)
	r.GET("/api/market/summary", h.GetMarketSummary)
	r.GET("/api/stats", h.GetStats)
}
