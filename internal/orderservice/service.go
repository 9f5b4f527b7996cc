package orderservice

import (
	"context"
	"errors"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/google/uuid"
	"github.com/tradesys/exchange/internal/matching"
	"github.com/tradesys/exchange/internal/store"
)

// ErrOrderNotFound is returned when a lookup or cancel targets an order
// that doesn't exist or isn't owned by the caller.
var ErrOrderNotFound = errors.New("orderservice: order not found")

// ErrInvalidOrder is returned for malformed order requests (e.g. a
// LIMIT order with no price, or a non-positive quantity).
var ErrInvalidOrder = errors.New("orderservice: invalid order")

// Service drives the matching engine and the durable store together
// for a single symbol, following the teacher's orders.OrderService
// shape but replacing its in-memory index with the durable store and
// its trade bookkeeping with the exact transaction shape of
// original_source's order_book_service.py::place_order.
type Service struct {
	symbol    string
	engine    *matching.Engine
	store     *store.Store
	publisher Publisher
	logger    *zap.Logger

	orderCache *cache.Cache
	breaker    *gobreaker.CircuitBreaker
}

// New builds a Service for symbol, wired to engine, store, and
// publisher.
func New(symbol string, engine *matching.Engine, st *store.Store, pub Publisher, logger *zap.Logger) *Service {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "store-" + symbol,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("store circuit breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &Service{
		symbol:     symbol,
		engine:     engine,
		store:      st,
		publisher:  pub,
		logger:     logger,
		orderCache: cache.New(5*time.Minute, 10*time.Minute),
		breaker:    cb,
	}
}

// PlaceOrder submits a new order. MARKET orders are checked against
// current liquidity *before* any database write: with no opposing
// resting order, the request never reaches the engine and a terminal
// CANCELED row is persisted directly, exactly mirroring
// order_book_service.py::place_order's pre-check.
func (s *Service) PlaceOrder(ctx context.Context, userID string, side matching.Side, typ matching.Type, price *decimal.Decimal, qty decimal.Decimal) (*PlaceResult, error) {
	if qty.Sign() <= 0 {
		return nil, ErrInvalidOrder
	}
	if typ == matching.TypeLimit && price == nil {
		return nil, ErrInvalidOrder
	}

	now := time.Now().UTC()

	if typ == matching.TypeMarket {
		var liquid bool
		if side == matching.SideBuy {
			liquid = s.engine.BestAsk() != nil
		} else {
			liquid = s.engine.BestBid() != nil
		}
		if !liquid {
			row := &store.OrderRow{
				ID:        uuid.New().String(),
				UserID:    userID,
				Symbol:    s.symbol,
				Side:      string(side),
				Type:      string(typ),
				Quantity:  qty,
				Remaining: decimal.Zero,
				Status:    string(matching.StatusCanceled),
				Active:    false,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if _, err := s.withBreaker(func() (interface{}, error) {
				return nil, s.store.CreateOrder(s.store.DB(), row)
			}); err != nil {
				return nil, err
			}
			return &PlaceResult{Order: viewOrder(row), Trades: nil, OrderExecuted: false}, nil
		}
	}

	row := &store.OrderRow{
		ID:        uuid.New().String(),
		UserID:    userID,
		Symbol:    s.symbol,
		Side:      string(side),
		Type:      string(typ),
		Price:     price,
		Quantity:  qty,
		Remaining: qty,
		Status:    string(matching.StatusOpen),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrInvalidOrder
	}

	engineOrder := &matching.Order{
		ID:        uuid.MustParse(row.ID),
		UserID:    uid,
		Side:      side,
		Type:      typ,
		Price:     price,
		Quantity:  qty,
		Remaining: qty,
		Status:    matching.StatusOpen,
		Active:    true,
		CreatedAt: now,
	}

	// Captured before the engine is touched so a failure anywhere in the
	// surrounding transaction can discard this call's in-memory effects
	// atomically — the newly matched trades, the touched counterparties,
	// and engineOrder's own resting insert — restoring the engine to
	// exactly the state the (still-authoritative) database reflects
	// (§4.3 step 4, §7).
	preState := s.engine.CaptureState()

	var trades []matching.Trade
	var touchedOrders map[string]*store.OrderRow
	txErr := s.store.WithinTx(ctx, func(tx *gorm.DB) error {
		if err := s.store.CreateOrder(tx, row); err != nil {
			return err
		}

		var engErr error
		trades, engErr = s.engine.AddOrder(engineOrder)
		if engErr != nil {
			return engErr
		}
		// engineOrder's own post-match state is reflected in row below
		// for the in-memory view; persistTrades below also persists it
		// to the database, since it is a leg of every trade it generated.
		syncOrderRow(row, engineOrder)

		var persistErr error
		touchedOrders, persistErr = s.persistTrades(tx, trades, engineOrder)
		return persistErr
	})
	if txErr != nil {
		s.engine.Restore(preState)
		s.logger.Error("order transaction failed, engine state reverted to pre-match snapshot",
			zap.Error(txErr), zap.String("order_id", row.ID))
		return nil, txErr
	}

	s.orderCache.Delete(row.ID)
	s.publishResult(row, trades, touchedOrders)

	return &PlaceResult{
		Order:         viewOrder(row),
		Trades:        viewTrades(trades),
		OrderExecuted: len(trades) > 0,
	}, nil
}

// counterpartyUpdate is the post-fill remaining/status a trade leaves
// behind for one of its two legs.
type counterpartyUpdate struct {
	remaining decimal.Decimal
	status    matching.Status
}

// persistTrades writes trade rows and syncs every order touched across
// the batch, within the same transaction as the triggering order's own
// insert/update. Where an order appears in more than one trade (a
// partial fill matched against several counterparties in one call),
// the last trade in the batch determines its final persisted state —
// trades are already produced by the engine in execution order.
//
// incoming, if non-nil, is the order that was just submitted to the
// engine. Its final engine-side status always wins over whatever its
// last trade leg recorded: a MARKET order that partially fills and then
// finds the opposite side empty is forced to CANCELED with its residual
// discarded (§4.2 step 8) *after* its last trade already recorded it as
// PARTIALLY_FILLED, so the trade-derived status alone would under-report
// the cancellation.
// persistTrades returns every order row it updated, keyed by order ID, so
// the caller can fan out an order-status event to both counterparties of
// each trade (§4.3 step 5) without a second round-trip to the store.
func (s *Service) persistTrades(tx *gorm.DB, trades []matching.Trade, incoming *matching.Order) (map[string]*store.OrderRow, error) {
	updates := make(map[string]counterpartyUpdate)
	order := make([]string, 0, len(trades)*2)

	for _, t := range trades {
		tradeRow := &store.TradeRow{
			ID:          uuid.New().String(),
			Symbol:      s.symbol,
			Price:       t.Price,
			Quantity:    t.Quantity,
			BuyOrderID:  t.BuyOrderID.String(),
			SellOrderID: t.SellOrderID.String(),
			BuyUserID:   t.BuyUserID.String(),
			SellUserID:  t.SellUserID.String(),
			ExecutedAt:  t.Timestamp,
		}
		if err := s.store.CreateTrade(tx, tradeRow); err != nil {
			return nil, err
		}
		if err := s.store.CreatePriceHistory(tx, &store.PriceHistoryRow{
			Symbol:    s.symbol,
			Price:     t.Price,
			CreatedAt: t.Timestamp,
		}); err != nil {
			return nil, err
		}

		buyID, sellID := t.BuyOrderID.String(), t.SellOrderID.String()
		if _, ok := updates[buyID]; !ok {
			order = append(order, buyID)
		}
		updates[buyID] = counterpartyUpdate{remaining: t.BuyRemaining, status: t.BuyStatus}
		if _, ok := updates[sellID]; !ok {
			order = append(order, sellID)
		}
		updates[sellID] = counterpartyUpdate{remaining: t.SellRemaining, status: t.SellStatus}
	}

	if incoming != nil {
		id := incoming.ID.String()
		if _, wasTouched := updates[id]; wasTouched {
			updates[id] = counterpartyUpdate{remaining: incoming.Remaining, status: incoming.Status}
		}
	}

	rows := make(map[string]*store.OrderRow, len(order))
	for _, id := range order {
		row, err := s.loadOrderForTx(tx, id)
		if err != nil {
			return nil, err
		}
		u := updates[id]
		row.Remaining = u.remaining
		row.Status = string(u.status)
		row.Active = u.status == matching.StatusOpen || u.status == matching.StatusPartiallyFilled
		row.UpdatedAt = time.Now().UTC()
		if err := s.store.UpdateOrder(tx, row); err != nil {
			return nil, err
		}
		rows[id] = row
	}
	return rows, nil
}

func (s *Service) loadOrderForTx(tx *gorm.DB, id string) (*store.OrderRow, error) {
	var row store.OrderRow
	if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// CancelOrder cancels userID's order if it is currently active.
// A second cancel of an already-terminal order returns ErrOrderNotFound
// (SPEC_FULL.md §12's idempotency resolution).
func (s *Service) CancelOrder(ctx context.Context, userID, orderID string) error {
	row, err := s.store.FindOrderForUser(ctx, orderID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrOrderNotFound
	}
	if err != nil {
		return err
	}
	if !row.Active {
		return ErrOrderNotFound
	}

	// Captured before the engine removes the order so a failed commit
	// below can re-insert it exactly as it was resting, rather than
	// leaving it gone from the in-memory book while the store still
	// shows active=true (§4.4, §7).
	preState := s.engine.CaptureState()

	if err := s.engine.CancelOrder(orderID); err != nil {
		return ErrOrderNotFound
	}

	txErr := s.store.WithinTx(ctx, func(tx *gorm.DB) error {
		row.Status = string(matching.StatusCanceled)
		row.Active = false
		row.UpdatedAt = time.Now().UTC()
		return s.store.UpdateOrder(tx, row)
	})
	if txErr != nil {
		s.engine.Restore(preState)
		s.logger.Error("cancel transaction failed, engine state reverted to pre-cancel snapshot",
			zap.Error(txErr), zap.String("order_id", orderID))
		return txErr
	}
	return nil
}

// GetOrder returns an order owned by userID, using a short-lived cache
// to absorb repeated polling for the same order.
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (OrderView, error) {
	if cached, ok := s.orderCache.Get(orderID); ok {
		row := cached.(*store.OrderRow)
		if row.UserID == userID {
			return viewOrder(row), nil
		}
	}

	row, err := s.store.FindOrderForUser(ctx, orderID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return OrderView{}, ErrOrderNotFound
	}
	if err != nil {
		return OrderView{}, err
	}
	s.orderCache.Set(orderID, row, cache.DefaultExpiration)
	return viewOrder(row), nil
}

// GetUserOrders returns all of a user's orders, newest first.
func (s *Service) GetUserOrders(ctx context.Context, userID string) ([]OrderView, error) {
	rows, err := s.store.FindOrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]OrderView, 0, len(rows))
	for _, r := range rows {
		views = append(views, viewOrder(r))
	}
	return views, nil
}

// RecentTrades returns the most recent executed trades.
func (s *Service) RecentTrades(ctx context.Context, limit int) ([]TradeView, error) {
	rows, err := s.store.RecentTrades(ctx, s.symbol, limit)
	if err != nil {
		return nil, err
	}
	views := make([]TradeView, 0, len(rows))
	for _, r := range rows {
		views = append(views, TradeView{
			ID:          r.ID,
			Price:       r.Price,
			Quantity:    r.Quantity,
			BuyOrderID:  r.BuyOrderID,
			SellOrderID: r.SellOrderID,
			ExecutedAt:  r.ExecutedAt,
		})
	}
	return views, nil
}

// BookSnapshot returns the current top-of-book aggregate snapshot.
func (s *Service) BookSnapshot() matching.Snapshot {
	return s.engine.Snapshot()
}

// Stats returns the derived market-data fields SPEC_FULL.md §12 adds.
func (s *Service) Stats() MarketStats {
	bid := s.engine.BestBid()
	ask := s.engine.BestAsk()
	stats := MarketStats{BestBid: bid, BestAsk: ask, LastTradePrice: s.engine.LastTradePrice()}
	if bid != nil && ask != nil {
		spread := ask.Sub(*bid)
		stats.Spread = &spread
	}
	return stats
}

// publishResult fans out the post-commit events for one PlaceOrder call:
// a trade event plus an order-status event to both counterparties for
// each trade (§4.3 step 5), then a single book snapshot. touched holds
// every order row persistTrades updated, keyed by order ID; it also
// carries the placed order itself whenever that order took part in at
// least one trade, so row itself is only reported when the placed order
// traded with nobody.
func (s *Service) publishResult(row *store.OrderRow, trades []matching.Trade, touched map[string]*store.OrderRow) {
	if s.publisher == nil {
		return
	}
	notified := make(map[string]bool, len(trades)*2)
	for _, t := range trades {
		s.publisher.BroadcastTrade(TradeView{
			Price: t.Price, Quantity: t.Quantity,
			BuyOrderID: t.BuyOrderID.String(), SellOrderID: t.SellOrderID.String(),
			ExecutedAt: t.Timestamp,
		})
		for _, id := range []string{t.BuyOrderID.String(), t.SellOrderID.String()} {
			if notified[id] {
				continue
			}
			if counterpartyRow, ok := touched[id]; ok {
				s.publisher.SendOrderStatus(counterpartyRow.UserID, viewOrder(counterpartyRow))
				notified[id] = true
			}
		}
	}
	if !notified[row.ID] {
		s.publisher.SendOrderStatus(row.UserID, viewOrder(row))
	}
	s.publisher.BroadcastBookUpdate(s.engine.Snapshot())
}

func (s *Service) withBreaker(fn func() (interface{}, error)) (interface{}, error) {
	return s.breaker.Execute(fn)
}

func syncOrderRow(row *store.OrderRow, o *matching.Order) {
	row.Remaining = o.Remaining
	row.Status = string(o.Status)
	row.Active = o.Active
	row.UpdatedAt = time.Now().UTC()
}

func viewOrder(row *store.OrderRow) OrderView {
	return OrderView{
		ID:        row.ID,
		UserID:    row.UserID,
		Side:      row.Side,
		Type:      row.Type,
		Price:     row.Price,
		Quantity:  row.Quantity,
		Remaining: row.Remaining,
		Status:    row.Status,
		Active:    row.Active,
		CreatedAt: row.CreatedAt,
	}
}

func viewTrades(trades []matching.Trade) []TradeView {
	views := make([]TradeView, 0, len(trades))
	for _, t := range trades {
		views = append(views, TradeView{
			Price:       t.Price,
			Quantity:    t.Quantity,
			BuyOrderID:  t.BuyOrderID.String(),
			SellOrderID: t.SellOrderID.String(),
			ExecutedAt:  t.Timestamp,
		})
	}
	return views
}
