// Package handlers implements the REST boundary surface: thin gin
// handlers that validate a request, translate it into an
// orderservice.Service call, and map the result/error back to a
// response. Grounded on internal/api/handlers/order_handler.go.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradesys/exchange/internal/auth"
	"github.com/tradesys/exchange/internal/matching"
	"github.com/tradesys/exchange/internal/orderservice"
)

// OrderHandler serves /orders.
type OrderHandler struct {
	service *orderservice.Service
	logger  *zap.Logger
}

// NewOrderHandler builds an OrderHandler over service.
func NewOrderHandler(service *orderservice.Service, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{service: service, logger: logger}
}

// RegisterRoutes wires /orders/* under router, all requiring auth;
// recent-trades additionally requires the admin role (spec.md §6).
func (h *OrderHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/orders/place", h.PlaceOrder)
	router.DELETE("/orders/cancel/:order_id", h.CancelOrder)
	router.GET("/orders/my-orders", h.MyOrders)
	router.GET("/orders/book", h.Book)
	router.GET("/orders/recent-trades", auth.AdminOnly(), h.RecentTrades)
	router.GET("/orders/:order_id", h.GetOrder)
}

// placeOrderRequest mirrors CreateOrderRequest's binding-tag style.
type placeOrderRequest struct {
	Side      string `json:"side" binding:"required,oneof=BUY SELL buy sell"`
	OrderType string `json:"order_type" binding:"required,oneof=LIMIT MARKET limit market"`
	Quantity  string `json:"quantity" binding:"required"`
	Price     string `json:"price"`
}

func userID(c *gin.Context) (string, bool) {
	v, ok := c.Get("user_id")
	if !ok {
		return "", false
	}
	return v.(string), true
}

// PlaceOrder implements POST /orders/place.
func (h *OrderHandler) PlaceOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	uid, ok := userID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	side := matching.Side(strings.ToUpper(req.Side))
	typ := matching.Type(strings.ToUpper(req.OrderType))

	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil || qty.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity must be a positive decimal"})
		return
	}

	var price *decimal.Decimal
	if req.Price != "" {
		p, err := decimal.NewFromString(req.Price)
		if err != nil || p.Sign() <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "price must be a positive decimal"})
			return
		}
		price = &p
	}
	if typ == matching.TypeLimit && price == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price is required for limit orders"})
		return
	}
	if typ == matching.TypeMarket && price != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price must be absent for market orders"})
		return
	}

	result, err := h.service.PlaceOrder(c.Request.Context(), uid, side, typ, price, qty)
	if err != nil {
		h.logger.Error("failed to place order", zap.Error(err))
		if errors.Is(err, orderservice.ErrInvalidOrder) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to place order"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":          result.Order,
		"trades":         result.Trades,
		"order_executed": result.OrderExecuted,
	})
}

// CancelOrder implements DELETE /orders/cancel/:order_id.
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	orderID := c.Param("order_id")
	uid, ok := userID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.service.CancelOrder(c.Request.Context(), uid, orderID); err != nil {
		if errors.Is(err, orderservice.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		h.logger.Error("failed to cancel order", zap.Error(err), zap.String("order_id", orderID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel order"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "order canceled", "order_id": orderID})
}

// MyOrders implements GET /orders/my-orders?active_only=.
func (h *OrderHandler) MyOrders(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	orders, err := h.service.GetUserOrders(c.Request.Context(), uid)
	if err != nil {
		h.logger.Error("failed to list orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list orders"})
		return
	}

	if c.Query("active_only") == "true" {
		filtered := make([]orderservice.OrderView, 0, len(orders))
		for _, o := range orders {
			if o.Active {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}

	c.JSON(http.StatusOK, orders)
}

// GetOrder implements GET /orders/:order_id — supplemented per
// SPEC_FULL.md §12 from the original's single-order lookup route.
func (h *OrderHandler) GetOrder(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	order, err := h.service.GetOrder(c.Request.Context(), uid, c.Param("order_id"))
	if err != nil {
		if errors.Is(err, orderservice.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get order"})
		return
	}
	c.JSON(http.StatusOK, order)
}

// Book implements GET /orders/book, folding the market-stats fields
// (best_bid, best_ask, spread) into the raw snapshot per SPEC_FULL.md
// §12.
func (h *OrderHandler) Book(c *gin.Context) {
	snapshot := h.service.BookSnapshot()
	stats := h.service.Stats()
	c.JSON(http.StatusOK, gin.H{
		"bids":             snapshot.Bids,
		"asks":             snapshot.Asks,
		"last_trade_price": snapshot.LastTradePrice,
		"best_bid":         stats.BestBid,
		"best_ask":         stats.BestAsk,
		"spread":           stats.Spread,
	})
}

// RecentTrades implements GET /orders/recent-trades?limit=.
func (h *OrderHandler) RecentTrades(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)

	trades, err := h.service.RecentTrades(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list recent trades", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list trades"})
		return
	}
	c.JSON(http.StatusOK, trades)
}

func parseLimit(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
