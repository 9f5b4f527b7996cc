// Package matching implements the single-symbol, price-time-priority
// limit order book. It holds no durable state: the engine is rebuilt at
// startup by internal/recovery and is otherwise the sole in-memory owner
// of the book while the process runs.
package matching

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Type distinguishes limit orders, which rest in the book, from market
// orders, which never do.
type Type string

const (
	TypeLimit  Type = "LIMIT"
	TypeMarket Type = "MARKET"
)

// Status is the lifecycle state of an order. Legal transitions form the
// DAG OPEN -> {PARTIALLY_FILLED, FILLED, CANCELED},
// PARTIALLY_FILLED -> {FILLED, CANCELED}.
type Status string

const (
	StatusOpen             Status = "OPEN"
	StatusPartiallyFilled  Status = "PARTIALLY_FILLED"
	StatusFilled           Status = "FILLED"
	StatusCanceled         Status = "CANCELED"
)

// Order is the engine's in-memory view of a resting or incoming order.
// LIMIT orders always carry a non-nil Price; MARKET orders never do.
type Order struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Side      Side
	Type      Type
	Price     *decimal.Decimal
	Quantity  decimal.Decimal // original requested quantity, never mutated
	Remaining decimal.Decimal
	Status    Status
	Active    bool
	CreatedAt time.Time
}

// Fresh reports whether the order has not yet been touched by matching.
func (o *Order) Fresh() bool {
	return o.Remaining.Equal(o.Quantity)
}

// Trade is an immutable execution record produced by the engine. It
// carries both orders' post-fill remaining/status so a caller can
// persist the counterparty update without a second lookup into the
// engine — mirrors original_source's TradeResult dataclass, which
// carries buy_order_remaining/sell_order_remaining/buy_order_status/
// sell_order_status for exactly this reason.
type Trade struct {
	Seq             uint64
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	BuyOrderID      uuid.UUID
	SellOrderID     uuid.UUID
	BuyUserID       uuid.UUID
	SellUserID      uuid.UUID
	BuyRemaining    decimal.Decimal
	SellRemaining   decimal.Decimal
	BuyStatus       Status
	SellStatus      Status
	Timestamp       time.Time
}

// PriceLevel is one aggregated rung of the book.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"total_qty"`
}

// Snapshot is a point-in-time, top-10-levels-per-side view of the book.
type Snapshot struct {
	Bids           []PriceLevel    `json:"bids"`
	Asks           []PriceLevel    `json:"asks"`
	LastTradePrice decimal.Decimal `json:"last_trade_price"`
}

// maxSnapshotLevels bounds the aggregate snapshot per side, per spec §4.1.
const maxSnapshotLevels = 10
