// Package api wires the REST/WebSocket boundary surface: gin routing,
// security middleware, and the handlers that translate HTTP requests
// into orderservice/auth calls. Grounded on internal/api/routes.go and
// internal/api/handlers/routes.go.
package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tradesys/exchange/internal/api/handlers"
	"github.com/tradesys/exchange/internal/api/middleware"
	"github.com/tradesys/exchange/internal/auth"
	"github.com/tradesys/exchange/internal/orderservice"
	"github.com/tradesys/exchange/internal/publisher"
	"github.com/tradesys/exchange/internal/store"
)

// Deps bundles everything the router needs to build its handlers.
type Deps struct {
	AuthService  *auth.Service
	OrderService *orderservice.Service
	Store        *store.Store
	Publisher    *publisher.Publisher
	Upgrader     *auth.Upgrader
	Symbol       string
	Logger       *zap.Logger
}

// NewRouter builds the fully-wired gin engine.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	sec := middleware.New(deps.Logger, 100)
	router.Use(sec.RequestID(), sec.CORS(), sec.SecurityHeaders(), sec.RateLimiter())

	authHandler := handlers.NewAuthHandler(deps.AuthService, deps.Logger)
	authHandler.RegisterRoutes(router)

	priceHandler := handlers.NewPriceHandler(deps.Store, deps.Symbol, deps.Logger)
	priceHandler.RegisterRoutes(router)

	wsHandler := handlers.NewWebSocketHandler(deps.Upgrader, deps.Publisher, deps.Logger)
	wsHandler.RegisterRoutes(router)

	authenticated := router.Group("/")
	authenticated.Use(auth.Middleware(deps.AuthService, deps.Logger))

	orderHandler := handlers.NewOrderHandler(deps.OrderService, deps.Logger)
	orderHandler.RegisterRoutes(authenticated)

	return router
}
