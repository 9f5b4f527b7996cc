// Command exchange-server is the composition root: it loads
// configuration, opens the database, rebuilds the matching engine from
// durable state, and serves the REST/WebSocket boundary surface until
// signaled to shut down. Grounded on cmd/server/main.go's
// flag/signal/graceful-shutdown shape.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tradesys/exchange/internal/api"
	"github.com/tradesys/exchange/internal/auth"
	"github.com/tradesys/exchange/internal/config"
	"github.com/tradesys/exchange/internal/matching"
	"github.com/tradesys/exchange/internal/orderservice"
	"github.com/tradesys/exchange/internal/publisher"
	"github.com/tradesys/exchange/internal/recovery"
	"github.com/tradesys/exchange/internal/store"
)

const (
	appName    = "exchange-server"
	appVersion = "v1.0.0"
)

func main() {
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("%s %s\n", appName, appVersion)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := config.InitLogger(cfg)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}

	st := store.New(db, logger)
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		logger.Fatal("failed to migrate schema", zap.Error(err))
	}

	defaultPrice, err := decimal.NewFromString(cfg.DefaultPrice)
	if err != nil {
		logger.Fatal("invalid DEFAULT_PRICE", zap.Error(err))
	}

	engine := matching.New(cfg.Symbol, defaultPrice, logger)

	// §4.5/§7: startup replay is fatal on failure — the process must
	// not serve traffic with an engine state that cannot be trusted.
	result, err := recovery.Run(ctx, st, engine, cfg.Symbol, defaultPrice, logger)
	if err != nil {
		logger.Fatal("startup recovery failed", zap.Error(err))
	}
	logger.Info("startup recovery complete",
		zap.Int("orders_replayed", result.OrdersReplayed),
		zap.Int("trades_generated", result.TradesGenerated))

	pub := publisher.New(logger)
	orderSvc := orderservice.New(cfg.Symbol, engine, st, pub, logger)
	authSvc := auth.New(st, auth.NewJWTService(auth.JWTConfig{
		SecretKey:     cfg.JWTSecretKey,
		TokenDuration: cfg.TokenDuration(),
		Issuer:        appName,
	}))
	upgrader := auth.NewUpgrader(authSvc, logger)

	go watchPriceChanges(engine, pub)

	router := api.NewRouter(api.Deps{
		AuthService:  authSvc,
		OrderService: orderSvc,
		Store:        st,
		Publisher:    pub,
		Upgrader:     upgrader,
		Symbol:       cfg.Symbol,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// watchPriceChanges relays the engine's last-trade-price observer
// stream to the publisher's price_change broadcast for the lifetime of
// the process, per §4.7. The price-history row itself is already
// persisted transactionally by orderservice.persistTrades; this
// goroutine only handles the best-effort notification half of the
// callback, and it never blocks matching since the engine only ever
// performs a non-blocking send into this channel.
func watchPriceChanges(engine *matching.Engine, pub *publisher.Publisher) {
	for price := range engine.PriceChanges() {
		pub.BroadcastPriceChange(price)
	}
}
