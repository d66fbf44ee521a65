package handler

import (
	"errors"
	"net/http"
	"strings"

	"quotekeeper/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// GetQuote godoc
// @Summary      Get current quote for a crypto asset
// @Description  Returns the best available quote across all configured sources
// @Tags         quotes
// @Produce      json
// @Param        symbol  path  string  true  "Asset symbol (e.g., BTC, ETH)"
// @Success      200  {object}  domain.Quote
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/quotes/{symbol} [get]
func (h *Handler) GetQuote(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-quote")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	if !domain.IsSupportedSymbol(symbol) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "unsupported symbol: " + symbol,
			"supported_symbols": domain.SupportedSymbols,
		})
		return
	}

	quote, err := h.quoteService.GetQuote(ctx, symbol)
	if err != nil {
		var asf *domain.AllSourcesFailedError
		switch {
		case errors.As(err, &asf):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		case domain.IsFatal(err):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, quote)
}

// GetMarketSummary godoc
// @Summary      Get quotes for all supported assets
// @Description  Returns the best available quote per tracked symbol; unresolvable symbols are listed under missing
// @Tags         quotes
// @Produce      json
// @Success      200  {object}  domain.MarketSummary
// @Failure      503  {object}  map[string]string
// @Router       /api/market/summary [get]
func (h *Handler) GetMarketSummary(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-market-summary")
	defer span.End()

	summary, err := h.quoteService.GetMarketSummary(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}
