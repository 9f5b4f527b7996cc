package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradesys/exchange/internal/store"
)

// PriceHandler serves /prices, the price-history tail spec.md §6 lists
// as a public, unauthenticated endpoint.
type PriceHandler struct {
	store  *store.Store
	symbol string
	logger *zap.Logger
}

// NewPriceHandler builds a PriceHandler over st for symbol.
func NewPriceHandler(st *store.Store, symbol string, logger *zap.Logger) *PriceHandler {
	return &PriceHandler{store: st, symbol: symbol, logger: logger}
}

// RegisterRoutes wires GET /prices under router.
func (h *PriceHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/prices", h.Recent)
}

type priceView struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Recent implements GET /prices?limit=.
func (h *PriceHandler) Recent(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 100)

	rows, err := h.store.RecentPrices(c.Request.Context(), h.symbol, limit)
	if err != nil {
		h.logger.Error("failed to list price history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list prices"})
		return
	}

	views := make([]priceView, 0, len(rows))
	for _, r := range rows {
		views = append(views, priceView{Price: r.Price, Timestamp: r.CreatedAt})
	}
	c.JSON(http.StatusOK, views)
}
