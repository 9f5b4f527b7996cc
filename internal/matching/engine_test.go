package matching

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(s string) *decimal.Decimal {
	p := decimal.RequireFromString(s)
	return &p
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestOrder(side Side, typ Type, p *decimal.Decimal, q string, createdAt time.Time) *Order {
	return &Order{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Side:      side,
		Type:      typ,
		Price:     p,
		Quantity:  qty(q),
		Remaining: qty(q),
		Status:    StatusOpen,
		Active:    true,
		CreatedAt: createdAt,
	}
}

func newTestEngine() *Engine {
	return New("BTC-USD", qty("100"), nil)
}

// S1: a resting limit order is filled exactly by an opposite market order.
func TestAddOrder_MarketFillsRestingLimitExactly(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	sell := newTestOrder(SideSell, TypeLimit, price("10"), "5", now)
	_, err := e.AddOrder(sell)
	require.NoError(t, err)

	buy := newTestOrder(SideBuy, TypeMarket, nil, "5", now.Add(time.Millisecond))
	trades, err := e.AddOrder(buy)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	assert.True(t, trades[0].Price.Equal(qty("10")))
	assert.True(t, trades[0].Quantity.Equal(qty("5")))
	assert.Equal(t, StatusFilled, buy.Status)
	assert.False(t, buy.Active)
	assert.Equal(t, StatusFilled, sell.Status)
	assert.False(t, sell.Active)
	assert.True(t, e.LastTradePrice().Equal(qty("10")))
}

// S2: price-time priority — two resting bids at the same price, earlier
// one fills first.
func TestAddOrder_PriceTimePriorityAtSamePrice(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	first := newTestOrder(SideBuy, TypeLimit, price("10"), "3", now)
	second := newTestOrder(SideBuy, TypeLimit, price("10"), "3", now.Add(time.Second))
	_, err := e.AddOrder(first)
	require.NoError(t, err)
	_, err = e.AddOrder(second)
	require.NoError(t, err)

	sell := newTestOrder(SideSell, TypeLimit, price("10"), "3", now.Add(2*time.Second))
	trades, err := e.AddOrder(sell)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, first.ID, trades[0].BuyOrderID)
	assert.Equal(t, StatusFilled, first.Status)
	assert.Equal(t, StatusOpen, second.Status)
}

// S3: higher bid price has priority over an earlier, lower bid.
func TestAddOrder_HigherPriceBeatsEarlierLowerPrice(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	low := newTestOrder(SideBuy, TypeLimit, price("10"), "3", now)
	high := newTestOrder(SideBuy, TypeLimit, price("11"), "3", now.Add(time.Second))
	_, err := e.AddOrder(low)
	require.NoError(t, err)
	_, err = e.AddOrder(high)
	require.NoError(t, err)

	sell := newTestOrder(SideSell, TypeLimit, price("10"), "3", now.Add(2*time.Second))
	trades, err := e.AddOrder(sell)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, high.ID, trades[0].BuyOrderID)
}

// S4: a market order with no opposing liquidity never rests; it is
// canceled immediately with its full quantity unfilled.
func TestAddOrder_MarketWithNoLiquidityCancelsResidual(t *testing.T) {
	e := newTestEngine()
	buy := newTestOrder(SideBuy, TypeMarket, nil, "5", time.Now())

	trades, err := e.AddOrder(buy)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, StatusCanceled, buy.Status)
	assert.False(t, buy.Active)
	assert.True(t, buy.Remaining.Equal(qty("5")))

	assert.Nil(t, e.BestBid())
}

// S5: a partial fill leaves the remainder resting and matchable by a
// subsequent order.
func TestAddOrder_PartialFillRestsRemainder(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	buy := newTestOrder(SideBuy, TypeLimit, price("10"), "10", now)
	_, err := e.AddOrder(buy)
	require.NoError(t, err)

	sell1 := newTestOrder(SideSell, TypeLimit, price("10"), "4", now.Add(time.Second))
	trades, err := e.AddOrder(sell1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, StatusPartiallyFilled, buy.Status)
	assert.True(t, buy.Active)
	assert.True(t, buy.Remaining.Equal(qty("6")))

	sell2 := newTestOrder(SideSell, TypeLimit, price("10"), "6", now.Add(2*time.Second))
	trades, err = e.AddOrder(sell2)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, StatusFilled, buy.Status)
	assert.False(t, buy.Active)
	assert.True(t, buy.Remaining.IsZero())
}

// S6: canceling a PARTIALLY_FILLED order removes it from the book and a
// second cancel reports not-found.
func TestCancelOrder_PartiallyFilledThenIdempotent(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	buy := newTestOrder(SideBuy, TypeLimit, price("10"), "10", now)
	_, err := e.AddOrder(buy)
	require.NoError(t, err)

	sell := newTestOrder(SideSell, TypeLimit, price("10"), "4", now.Add(time.Second))
	_, err = e.AddOrder(sell)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyFilled, buy.Status)

	err = e.CancelOrder(buy.ID.String())
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, buy.Status)
	assert.False(t, buy.Active)

	err = e.CancelOrder(buy.ID.String())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestAddOrder_RejectsLimitWithoutPrice(t *testing.T) {
	e := newTestEngine()
	order := newTestOrder(SideBuy, TypeLimit, nil, "1", time.Now())
	_, err := e.AddOrder(order)
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestSnapshot_AggregatesBySideAndCapsAtTenLevels(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	for i := 0; i < 12; i++ {
		p := price(decimal.New(int64(100+i), 0).String())
		o := newTestOrder(SideSell, TypeLimit, p, "1", now.Add(time.Duration(i)*time.Millisecond))
		_, err := e.AddOrder(o)
		require.NoError(t, err)
	}

	snap := e.Snapshot()
	assert.Len(t, snap.Asks, maxSnapshotLevels)
	assert.True(t, snap.Asks[0].Price.Equal(qty("100")))
}

// §7: CaptureState/Restore let a caller discard an AddOrder call's
// effects atomically if the persistence transaction around it fails —
// matched counterparties, their status/remaining changes, and the
// incoming order's own resting insert must all revert together.
func TestCaptureStateAndRestore_UndoesAddOrderEffects(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	resting := newTestOrder(SideSell, TypeLimit, price("10"), "10", now)
	_, err := e.AddOrder(resting)
	require.NoError(t, err)

	state := e.CaptureState()

	incoming := newTestOrder(SideBuy, TypeLimit, price("10"), "4", now.Add(time.Second))
	trades, err := e.AddOrder(incoming)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, StatusPartiallyFilled, resting.Status)
	require.True(t, resting.Remaining.Equal(qty("6")))

	e.Restore(state)

	// The partial fill against resting is undone: the book shows the
	// full original resting quantity and knows nothing of incoming.
	ask := e.asks.bestActive()
	require.NotNil(t, ask)
	assert.Equal(t, resting.ID, ask.ID)
	assert.True(t, ask.Remaining.Equal(qty("10")))
	assert.Equal(t, StatusOpen, ask.Status)
	assert.Nil(t, e.bids.bestActive())

	err = e.CancelOrder(incoming.ID.String())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

// §4.4/§7: Restore also re-inserts an order that CancelOrder had
// already removed from its ladder.
func TestCaptureStateAndRestore_UndoesCancelOrder(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	resting := newTestOrder(SideBuy, TypeLimit, price("10"), "5", now)
	_, err := e.AddOrder(resting)
	require.NoError(t, err)

	state := e.CaptureState()

	require.NoError(t, e.CancelOrder(resting.ID.String()))
	assert.Nil(t, e.BestBid())

	e.Restore(state)

	bid := e.bids.bestActive()
	require.NotNil(t, bid)
	assert.Equal(t, resting.ID, bid.ID)
	assert.Equal(t, StatusOpen, bid.Status)
	assert.True(t, bid.Active)
}

func TestCanMatch_MarketAlwaysMatchesAndLimitRequiresCross(t *testing.T) {
	bid := newTestOrder(SideBuy, TypeLimit, price("10"), "1", time.Now())
	ask := newTestOrder(SideSell, TypeLimit, price("11"), "1", time.Now())
	assert.False(t, canMatch(bid, ask))

	ask.Price = price("9")
	assert.True(t, canMatch(bid, ask))

	marketBid := newTestOrder(SideBuy, TypeMarket, nil, "1", time.Now())
	ask.Price = price("1000")
	assert.True(t, canMatch(marketBid, ask))
}
