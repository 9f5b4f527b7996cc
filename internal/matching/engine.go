package matching

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrOrderNotFound is returned by CancelOrder when the order is unknown or
	// already inactive.
	ErrOrderNotFound = errors.New("matching: order not found")
	// ErrInvalidOrder is returned when AddOrder receives a LIMIT order with
	// no price, or a nil order.
	ErrInvalidOrder = errors.New("matching: invalid order")
)

// Engine is the single-symbol, single-writer matching engine. It is the
// sole in-memory authority over resting order state while the process
// runs; the durable store is updated by the caller after each call
// returns, never concurrently with it (§5).
type Engine struct {
	mu     sync.Mutex
	symbol string
	bids   *ladder
	asks   *ladder
	byID   map[string]*Order

	lastTradePrice decimal.Decimal
	tradeSeq       uint64

	priceCh chan decimal.Decimal
	logger  *zap.Logger
}

// New builds an empty engine for symbol, seeded with defaultPrice as the
// last traded price until a real trade or a recovered history overrides
// it (§9 "single authoritative snapshot source").
func New(symbol string, defaultPrice decimal.Decimal, logger *zap.Logger) *Engine {
	return &Engine{
		symbol:         symbol,
		bids:           newLadder(true),
		asks:           newLadder(false),
		byID:           make(map[string]*Order),
		lastTradePrice: defaultPrice,
		priceCh:        make(chan decimal.Decimal, 64),
		logger:         logger,
	}
}

// PriceChanges exposes the last-trade-price observer stream. A channel is
// used instead of a synchronous callback so the engine never blocks on a
// slow subscriber while holding its lock (§9).
func (e *Engine) PriceChanges() <-chan decimal.Decimal { return e.priceCh }

// LastTradePrice returns the most recent trade price known to the engine.
func (e *Engine) LastTradePrice() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTradePrice
}

// SetLastTradePrice overrides the last trade price without generating a
// trade. Used during recovery to seed the engine from price history.
func (e *Engine) SetLastTradePrice(p decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastTradePrice = p
}

// AddOrder submits a new order to the engine and returns any trades it
// generated. MARKET orders that still have remaining quantity once the
// opposing side is exhausted never rest: their status is forced to
// CANCELED, generalizing original_source's no-liquidity pre-check to the
// partial-liquidity case, since a resting MARKET order would violate the
// "MARKET orders never rest" invariant.
func (e *Engine) AddOrder(o *Order) ([]Trade, error) {
	if o == nil {
		return nil, ErrInvalidOrder
	}
	if o.Type == TypeLimit && o.Price == nil {
		return nil, ErrInvalidOrder
	}
	if o.Remaining.IsZero() {
		o.Remaining = o.Quantity
	}
	if o.Status == "" {
		o.Status = StatusOpen
	}
	o.Active = true

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	e.byID[o.ID.String()] = o

	var trades []Trade
	if o.Side == SideBuy {
		trades = e.matchBuy(o)
	} else {
		trades = e.matchSell(o)
	}

	switch {
	case o.Type == TypeMarket && o.Remaining.IsPositive():
		o.Status = StatusCanceled
		o.Active = false
		delete(e.byID, o.ID.String())
	case o.Type == TypeLimit && o.Remaining.IsPositive():
		if o.Side == SideBuy {
			heap.Push(e.bids, o)
		} else {
			heap.Push(e.asks, o)
		}
	}

	if e.logger != nil {
		e.logger.Debug("order processed",
			zap.String("order_id", o.ID.String()),
			zap.String("side", string(o.Side)),
			zap.String("type", string(o.Type)),
			zap.Int("trades", len(trades)),
			zap.Duration("processing_time", time.Since(start)))
	}

	return trades, nil
}

func canMatch(a, b *Order) bool {
	if a.Type == TypeMarket || b.Type == TypeMarket {
		return true
	}
	return a.Price.GreaterThanOrEqual(*b.Price)
}

func (e *Engine) matchBuy(buyOrder *Order) []Trade {
	var trades []Trade
	for buyOrder.Remaining.IsPositive() {
		sellOrder := e.asks.bestActive()
		if sellOrder == nil || !canMatch(buyOrder, sellOrder) {
			break
		}
		heap.Pop(e.asks)

		trade := e.execute(buyOrder, sellOrder)
		trades = append(trades, trade)

		if sellOrder.Remaining.IsPositive() {
			heap.Push(e.asks, sellOrder)
		} else {
			delete(e.byID, sellOrder.ID.String())
		}
	}
	return trades
}

func (e *Engine) matchSell(sellOrder *Order) []Trade {
	var trades []Trade
	for sellOrder.Remaining.IsPositive() {
		buyOrder := e.bids.bestActive()
		if buyOrder == nil || !canMatch(buyOrder, sellOrder) {
			break
		}
		heap.Pop(e.bids)

		trade := e.execute(buyOrder, sellOrder)
		trades = append(trades, trade)

		if buyOrder.Remaining.IsPositive() {
			heap.Push(e.bids, buyOrder)
		} else {
			delete(e.byID, buyOrder.ID.String())
		}
	}
	return trades
}

// execute fills the two orders against each other for min(remaining,
// remaining) quantity, discovers the trade price, and updates both
// orders' status/active flags. Price discovery and status transitions
// mirror original_source's _execute_trade exactly: a MARKET order always
// takes the resting LIMIT order's price; between two LIMIT orders, the
// order that arrived first sets the price.
func (e *Engine) execute(buyOrder, sellOrder *Order) Trade {
	qty := decimal.Min(buyOrder.Remaining, sellOrder.Remaining)

	var price decimal.Decimal
	switch {
	case buyOrder.Type == TypeMarket:
		price = *sellOrder.Price
	case sellOrder.Type == TypeMarket:
		price = *buyOrder.Price
	case buyOrder.CreatedAt.Before(sellOrder.CreatedAt):
		price = *buyOrder.Price
	default:
		price = *sellOrder.Price
	}

	buyOrder.Remaining = buyOrder.Remaining.Sub(qty)
	sellOrder.Remaining = sellOrder.Remaining.Sub(qty)
	applyFillStatus(buyOrder)
	applyFillStatus(sellOrder)

	e.lastTradePrice = price
	e.tradeSeq++

	select {
	case e.priceCh <- price:
	default:
		if e.logger != nil {
			e.logger.Warn("price change channel full, dropping update",
				zap.String("symbol", e.symbol))
		}
	}

	return Trade{
		Seq:           e.tradeSeq,
		Price:         price,
		Quantity:      qty,
		BuyOrderID:    buyOrder.ID,
		SellOrderID:   sellOrder.ID,
		BuyUserID:     buyOrder.UserID,
		SellUserID:    sellOrder.UserID,
		BuyRemaining:  buyOrder.Remaining,
		SellRemaining: sellOrder.Remaining,
		BuyStatus:     buyOrder.Status,
		SellStatus:    sellOrder.Status,
		Timestamp:     time.Now().UTC(),
	}
}

// applyFillStatus updates an order's status/active flag after a fill,
// matching the DAG in spec §3: remaining==0 -> FILLED (inactive);
// remaining<quantity -> PARTIALLY_FILLED (still active).
func applyFillStatus(o *Order) {
	switch {
	case o.Remaining.IsZero():
		o.Status = StatusFilled
		o.Active = false
	case o.Remaining.LessThan(o.Quantity):
		o.Status = StatusPartiallyFilled
		o.Active = true
	}
}

// CancelOrder removes a resting order from its ladder and marks it
// canceled. Permitted from OPEN or PARTIALLY_FILLED, matching the DAG.
func (e *Engine) CancelOrder(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.byID[id]
	if !ok {
		return ErrOrderNotFound
	}

	var removed bool
	if o.Side == SideBuy {
		removed = e.bids.remove(id)
	} else {
		removed = e.asks.remove(id)
	}
	if !removed {
		return ErrOrderNotFound
	}

	o.Status = StatusCanceled
	o.Active = false
	delete(e.byID, id)
	return nil
}

// Snapshot returns the top maxSnapshotLevels aggregated price levels per
// side plus the last trade price.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Snapshot{
		Bids:           aggregate(e.bids),
		Asks:           aggregate(e.asks),
		LastTradePrice: e.lastTradePrice,
	}
}

func aggregate(l *ladder) []PriceLevel {
	byPrice := make(map[string]*PriceLevel)
	var order []string
	for _, o := range l.orders {
		if !o.Active || !o.Remaining.IsPositive() {
			continue
		}
		if o.Status != StatusOpen && o.Status != StatusPartiallyFilled {
			continue
		}
		key := o.Price.String()
		if lvl, ok := byPrice[key]; ok {
			lvl.Quantity = lvl.Quantity.Add(o.Remaining)
		} else {
			byPrice[key] = &PriceLevel{Price: *o.Price, Quantity: o.Remaining}
			order = append(order, key)
		}
	}

	levels := make([]PriceLevel, 0, len(byPrice))
	for _, k := range order {
		levels = append(levels, *byPrice[k])
	}
	for i := 0; i < len(levels)-1; i++ {
		for j := 0; j < len(levels)-1-i; j++ {
			var swap bool
			if l.isBid {
				swap = levels[j].Price.LessThan(levels[j+1].Price)
			} else {
				swap = levels[j].Price.GreaterThan(levels[j+1].Price)
			}
			if swap {
				levels[j], levels[j+1] = levels[j+1], levels[j]
			}
		}
	}
	if len(levels) > maxSnapshotLevels {
		levels = levels[:maxSnapshotLevels]
	}
	return levels
}

// State is an opaque, copied snapshot of every resting order plus
// the last-trade-price and trade-sequence counters, taken immediately
// before a risky AddOrder/CancelOrder call so the caller can discard
// that call's in-memory effects atomically if the persistence
// transaction surrounding it then fails (§7's "journalable snapshot"
// strategy: "execute engine changes on a journalable snapshot so
// rollback is an atomic discard").
type State struct {
	bids           []Order
	asks           []Order
	lastTradePrice decimal.Decimal
	tradeSeq       uint64
}

// CaptureState returns a copy of the engine's current resting
// orders and sequencing counters. Price discovery never mutates an
// order's Price pointer in place (only Remaining, a value field), so a
// shallow copy of each Order is sufficient to isolate the snapshot from
// subsequent matching.
func (e *Engine) CaptureState() *State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &State{
		bids:           copyOrders(e.bids.orders),
		asks:           copyOrders(e.asks.orders),
		lastTradePrice: e.lastTradePrice,
		tradeSeq:       e.tradeSeq,
	}
}

func copyOrders(in []*Order) []Order {
	out := make([]Order, len(in))
	for i, o := range in {
		out[i] = *o
	}
	return out
}

// Restore discards every mutation made to the book since state was
// captured, rebuilding both ladders and the order index from scratch.
// Used when a database transaction fails after AddOrder or CancelOrder
// has already mutated the live book, so the in-memory engine never
// diverges from the durable store it lost the race against (§4.3 step
// 4, §4.4, §7).
func (e *Engine) Restore(state *State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.bids = newLadder(true)
	e.asks = newLadder(false)
	e.byID = make(map[string]*Order, len(state.bids)+len(state.asks))
	e.lastTradePrice = state.lastTradePrice
	e.tradeSeq = state.tradeSeq

	for i := range state.bids {
		o := state.bids[i]
		e.byID[o.ID.String()] = &o
		heap.Push(e.bids, &o)
	}
	for i := range state.asks {
		o := state.asks[i]
		e.byID[o.ID.String()] = &o
		heap.Push(e.asks, &o)
	}
}

// BestBid returns the best live bid price, or nil if the bid side is
// empty.
func (e *Engine) BestBid() *decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	o := e.bids.bestActive()
	if o == nil {
		return nil
	}
	p := *o.Price
	return &p
}

// BestAsk returns the best live ask price, or nil if the ask side is
// empty.
func (e *Engine) BestAsk() *decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	o := e.asks.bestActive()
	if o == nil {
		return nil
	}
	p := *o.Price
	return &p
}
