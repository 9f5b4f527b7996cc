// Package orderservice is the transactional façade over the matching
// engine and the durable store: it is the only component that drives
// both, so a trade is never recorded in one without the other.
package orderservice

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradesys/exchange/internal/matching"
)

// PlaceResult is what PlaceOrder returns to its caller.
type PlaceResult struct {
	Order         OrderView    `json:"order"`
	Trades        []TradeView  `json:"trades"`
	OrderExecuted bool         `json:"order_executed"`
}

// OrderView is the REST/WS-facing projection of an order row.
type OrderView struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Side      string           `json:"side"`
	Type      string           `json:"type"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Remaining decimal.Decimal  `json:"remaining"`
	Status    string           `json:"status"`
	Active    bool             `json:"active"`
	CreatedAt time.Time        `json:"created_at"`
}

// TradeView is the REST/WS-facing projection of a trade.
type TradeView struct {
	ID          string          `json:"id"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// MarketStats summarizes current book state, supplementing the raw
// snapshot per SPEC_FULL.md §12.
type MarketStats struct {
	BestBid        *decimal.Decimal `json:"best_bid,omitempty"`
	BestAsk        *decimal.Decimal `json:"best_ask,omitempty"`
	Spread         *decimal.Decimal `json:"spread,omitempty"`
	LastTradePrice decimal.Decimal  `json:"last_trade_price"`
}

// Publisher is the subset of the websocket fan-out the order service
// depends on. Defined here (consumer side) so internal/publisher has no
// reason to import internal/orderservice.
type Publisher interface {
	BroadcastTrade(trade TradeView)
	BroadcastBookUpdate(snapshot matching.Snapshot)
	SendOrderStatus(userID string, order OrderView)
}
