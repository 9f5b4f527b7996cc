package orderservice

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tradesys/exchange/internal/matching"
	"github.com/tradesys/exchange/internal/store"
)

// fakePublisher records every call instead of touching a network
// connection, so PlaceOrder's post-commit notify step can be asserted
// on without a live websocket.
type fakePublisher struct {
	trades   []TradeView
	books    int
	statuses []OrderView
}

func (f *fakePublisher) BroadcastTrade(t TradeView)               { f.trades = append(f.trades, t) }
func (f *fakePublisher) BroadcastBookUpdate(matching.Snapshot)     { f.books++ }
func (f *fakePublisher) SendOrderStatus(userID string, o OrderView) { f.statuses = append(f.statuses, o) }

func newTestService(t *testing.T) (*Service, *fakePublisher) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	st := store.New(db, zap.NewNop())
	require.NoError(t, st.Migrate(context.Background()))

	engine := matching.New("BTC-USD", decimal.RequireFromString("100"), zap.NewNop())
	pub := &fakePublisher{}
	svc := New("BTC-USD", engine, st, pub, zap.NewNop())
	return svc, pub
}

func newUser() string { return uuid.New().String() }

// S1: a resting limit order is exactly filled by an opposite limit order.
func TestPlaceOrder_LimitCrossFullFill(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()
	buyer, seller := newUser(), newUser()

	price := decimal.RequireFromString("1.0")
	_, err := svc.PlaceOrder(ctx, buyer, matching.SideBuy, matching.TypeLimit, &price, decimal.RequireFromString("100"))
	require.NoError(t, err)

	// The resting placement publishes its own status and book events;
	// only the crossing placement's events are counted below.
	*pub = fakePublisher{}

	result, err := svc.PlaceOrder(ctx, seller, matching.SideSell, matching.TypeLimit, &price, decimal.RequireFromString("100"))
	require.NoError(t, err)

	require.True(t, result.OrderExecuted)
	require.Len(t, result.Trades, 1)
	assert.True(t, result.Trades[0].Quantity.Equal(decimal.RequireFromString("100")))
	assert.Equal(t, "FILLED", result.Order.Status)
	assert.Len(t, pub.trades, 1)
	assert.Equal(t, 1, pub.books)

	// §4.3 step 5: both counterparties get an order-status event, not
	// just the order that was just placed.
	require.Len(t, pub.statuses, 2)
	notified := map[string]bool{}
	for _, s := range pub.statuses {
		notified[s.UserID] = true
		assert.Equal(t, "FILLED", s.Status)
	}
	assert.True(t, notified[buyer])
	assert.True(t, notified[seller])

	snap := svc.BookSnapshot()
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
}

// S2: an incoming market order partially fills against a larger resting
// limit order; the market order takes the resting limit's price.
func TestPlaceOrder_MarketAgainstLimitPartial(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seller, buyer := newUser(), newUser()

	sellPrice := decimal.RequireFromString("101")
	_, err := svc.PlaceOrder(ctx, seller, matching.SideSell, matching.TypeLimit, &sellPrice, decimal.RequireFromString("2.0"))
	require.NoError(t, err)

	result, err := svc.PlaceOrder(ctx, buyer, matching.SideBuy, matching.TypeMarket, nil, decimal.RequireFromString("1.5"))
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	assert.True(t, result.Trades[0].Price.Equal(sellPrice))
	assert.Equal(t, "FILLED", result.Order.Status)

	sellerOrders, err := svc.GetUserOrders(ctx, seller)
	require.NoError(t, err)
	require.Len(t, sellerOrders, 1)
	assert.Equal(t, "PARTIALLY_FILLED", sellerOrders[0].Status)
	assert.True(t, sellerOrders[0].Remaining.Equal(decimal.RequireFromString("0.5")))
}

// S3: a market order with no opposing liquidity is persisted as a
// terminal CANCELED row, never reaching the engine's book.
func TestPlaceOrder_MarketNoLiquidityCancelsImmediately(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()
	trader := newUser()

	result, err := svc.PlaceOrder(ctx, trader, matching.SideSell, matching.TypeMarket, nil, decimal.RequireFromString("1"))
	require.NoError(t, err)

	assert.False(t, result.OrderExecuted)
	assert.Empty(t, result.Trades)
	assert.Equal(t, "CANCELED", result.Order.Status)
	assert.True(t, result.Order.Remaining.IsZero())
	assert.Empty(t, pub.trades)
}

// Regression: a MARKET order that partially fills and then finds the
// opposite side empty must persist as CANCELED, not PARTIALLY_FILLED —
// its trade leg alone would under-report the forced residual cancel.
func TestPlaceOrder_MarketPartialFillThenResidualPersistsCanceled(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seller, buyer := newUser(), newUser()

	sellPrice := decimal.RequireFromString("50")
	_, err := svc.PlaceOrder(ctx, seller, matching.SideSell, matching.TypeLimit, &sellPrice, decimal.RequireFromString("1"))
	require.NoError(t, err)

	result, err := svc.PlaceOrder(ctx, buyer, matching.SideBuy, matching.TypeMarket, nil, decimal.RequireFromString("3"))
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	assert.Equal(t, "CANCELED", result.Order.Status)
	assert.True(t, result.Order.Remaining.Equal(decimal.RequireFromString("2")))

	persisted, err := svc.GetOrder(ctx, buyer, result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "CANCELED", persisted.Status)
	assert.True(t, persisted.Remaining.Equal(decimal.RequireFromString("2")))
}

// S5: canceling an order removes it from the book so a later crossing
// order generates no trade.
func TestCancelOrder_ThenCrossingOrderDoesNotMatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	buyer, seller := newUser(), newUser()

	price := decimal.RequireFromString("10")
	placed, err := svc.PlaceOrder(ctx, buyer, matching.SideBuy, matching.TypeLimit, &price, decimal.RequireFromString("1"))
	require.NoError(t, err)

	require.NoError(t, svc.CancelOrder(ctx, buyer, placed.Order.ID))

	result, err := svc.PlaceOrder(ctx, seller, matching.SideSell, matching.TypeLimit, &price, decimal.RequireFromString("1"))
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	assert.Equal(t, "OPEN", result.Order.Status)

	err = svc.CancelOrder(ctx, buyer, placed.Order.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

// §4.3 step 4 / §7: if the transaction wrapping a match fails after the
// engine has already mutated the live book, the engine's in-memory
// state must revert to exactly what it was before the call — not leave
// a phantom partial fill or resting order the database never saw.
func TestPlaceOrder_CommitFailureRevertsEngineState(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	st := store.New(db, zap.NewNop())
	require.NoError(t, st.Migrate(context.Background()))

	engine := matching.New("BTC-USD", decimal.RequireFromString("100"), zap.NewNop())
	pub := &fakePublisher{}
	svc := New("BTC-USD", engine, st, pub, zap.NewNop())
	ctx := context.Background()

	seller := newUser()
	price := decimal.RequireFromString("10")
	_, err = svc.PlaceOrder(ctx, seller, matching.SideSell, matching.TypeLimit, &price, decimal.RequireFromString("5"))
	require.NoError(t, err)

	// Force the upcoming trade persistence to fail mid-transaction.
	require.NoError(t, db.Migrator().DropTable("trades"))

	buyer := newUser()
	_, err = svc.PlaceOrder(ctx, buyer, matching.SideBuy, matching.TypeLimit, &price, decimal.RequireFromString("5"))
	require.Error(t, err)

	// The resting sell order is exactly as it was before the failed
	// match attempt: still OPEN, still resting for its full quantity.
	ask := engine.BestAsk()
	require.NotNil(t, ask)
	assert.True(t, ask.Equal(price))

	sellerOrders, err := svc.GetUserOrders(ctx, seller)
	require.NoError(t, err)
	require.Len(t, sellerOrders, 1)
	assert.Equal(t, "OPEN", sellerOrders[0].Status)
	assert.True(t, sellerOrders[0].Remaining.Equal(decimal.RequireFromString("5")))

	// The buy order's own resting insert is also discarded.
	assert.Nil(t, engine.BestBid())
}

// §4.4/§7: the same reconciliation applies to CancelOrder — a failed
// commit must leave the order resting in the engine exactly as before.
// The failure is injected with a GORM callback scoped to UPDATE
// statements only, so the preceding lookup (a SELECT, via
// FindOrderForUser) still succeeds and CancelOrder reaches the engine
// mutation before the simulated commit failure — unlike dropping the
// whole table, which would fail the lookup itself and never exercise
// the revert path this test is for.
func TestCancelOrder_CommitFailureRevertsEngineState(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	st := store.New(db, zap.NewNop())
	require.NoError(t, st.Migrate(context.Background()))

	engine := matching.New("BTC-USD", decimal.RequireFromString("100"), zap.NewNop())
	pub := &fakePublisher{}
	svc := New("BTC-USD", engine, st, pub, zap.NewNop())
	ctx := context.Background()

	buyer := newUser()
	price := decimal.RequireFromString("10")
	placed, err := svc.PlaceOrder(ctx, buyer, matching.SideBuy, matching.TypeLimit, &price, decimal.RequireFromString("5"))
	require.NoError(t, err)

	require.NoError(t, db.Callback().Update().Before("gorm:update").
		Register("test:force_order_update_failure", func(tx *gorm.DB) {
			if tx.Statement.Table == "orders" {
				tx.AddError(errors.New("simulated update failure"))
			}
		}))

	err = svc.CancelOrder(ctx, buyer, placed.Order.ID)
	require.Error(t, err)

	bid := engine.BestBid()
	require.NotNil(t, bid)
	assert.True(t, bid.Equal(price))
}

func TestPlaceOrder_RejectsNonPositiveQuantity(t *testing.T) {
	svc, _ := newTestService(t)
	price := decimal.RequireFromString("10")
	_, err := svc.PlaceOrder(context.Background(), newUser(), matching.SideBuy, matching.TypeLimit, &price, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestPlaceOrder_RejectsLimitWithoutPrice(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.PlaceOrder(context.Background(), newUser(), matching.SideBuy, matching.TypeLimit, nil, decimal.RequireFromString("1"))
	assert.ErrorIs(t, err, ErrInvalidOrder)
}
