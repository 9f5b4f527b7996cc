// Package publisher fans out order/trade/book events to subscribed
// websocket clients. It is lock-free-best-effort from the caller's
// perspective (§5): a send failure evicts that session but never blocks
// or returns an error to the order service.
package publisher

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradesys/exchange/internal/matching"
	"github.com/tradesys/exchange/internal/orderservice"
)

// event names sent over the wire, matching the vocabulary spec.md §4.6
// names verbatim: order_book_update, trade_executed, order_status,
// price_change, connected, error.
const (
	eventConnected   = "connected"
	eventTrade       = "trade_executed"
	eventBookUpdate  = "order_book_update"
	eventOrderStatus = "order_status"
	eventPriceChange = "price_change"
	eventPing        = "ping"
)

type message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// session is one subscribed websocket connection.
type session struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex // serializes concurrent writes to one connection
}

func (s *session) send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(v)
}

// Publisher holds every subscribed session, indexed both by user (for
// targeted order-status pushes) and in a flat set (for broadcasts).
// Grounded on internal/api/websocket/pairs_ws.go's
// map[*websocket.Conn]... + sync.RWMutex client registry, generalized
// to evict a session from both indexes the first time a send to it
// fails.
type Publisher struct {
	mu     sync.RWMutex
	byUser map[string]map[*session]struct{}
	all    map[*session]struct{}
	logger *zap.Logger
}

// New builds an empty Publisher.
func New(logger *zap.Logger) *Publisher {
	return &Publisher{
		byUser: make(map[string]map[*session]struct{}),
		all:    make(map[*session]struct{}),
		logger: logger,
	}
}

// Register adds a newly-upgraded connection to the fan-out set and
// sends it the initial "connected" event.
func (p *Publisher) Register(conn *websocket.Conn, userID string) {
	s := &session{conn: conn, userID: userID}

	p.mu.Lock()
	p.all[s] = struct{}{}
	if p.byUser[userID] == nil {
		p.byUser[userID] = make(map[*session]struct{})
	}
	p.byUser[userID][s] = struct{}{}
	p.mu.Unlock()

	if err := s.send(message{Type: eventConnected, Data: nil}); err != nil {
		p.evict(s)
	}
}

// Unregister removes conn's session from both indexes, e.g. on a
// client-initiated close.
func (p *Publisher) Unregister(conn *websocket.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for s := range p.all {
		if s.conn == conn {
			p.removeLocked(s)
			return
		}
	}
}

func (p *Publisher) evict(s *session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(s)
}

func (p *Publisher) removeLocked(s *session) {
	delete(p.all, s)
	if users, ok := p.byUser[s.userID]; ok {
		delete(users, s)
		if len(users) == 0 {
			delete(p.byUser, s.userID)
		}
	}
}

// snapshot returns a stable slice of live sessions to iterate without
// holding the lock across network I/O.
func (p *Publisher) snapshot() []*session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*session, 0, len(p.all))
	for s := range p.all {
		out = append(out, s)
	}
	return out
}

func (p *Publisher) snapshotFor(userID string) []*session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	users := p.byUser[userID]
	out := make([]*session, 0, len(users))
	for s := range users {
		out = append(out, s)
	}
	return out
}

func (p *Publisher) broadcast(msg message) {
	for _, s := range p.snapshot() {
		if err := s.send(msg); err != nil {
			p.logger.Debug("dropping subscriber after write failure", zap.Error(err))
			p.evict(s)
		}
	}
}

// BroadcastTrade sends a trade execution to every subscriber.
func (p *Publisher) BroadcastTrade(trade orderservice.TradeView) {
	p.broadcast(message{Type: eventTrade, Data: trade})
}

// BroadcastBookUpdate sends the latest order book snapshot to every
// subscriber.
func (p *Publisher) BroadcastBookUpdate(snapshot matching.Snapshot) {
	p.broadcast(message{Type: eventBookUpdate, Data: snapshot})
}

// BroadcastPriceChange sends the engine's new last-trade-price to every
// subscriber, satisfying §4.7's price-change callback without coupling
// the engine itself to the publisher.
func (p *Publisher) BroadcastPriceChange(price decimal.Decimal) {
	p.broadcast(message{Type: eventPriceChange, Data: map[string]decimal.Decimal{"price": price}})
}

// SendOrderStatus pushes an order-status update only to sessions
// belonging to userID.
func (p *Publisher) SendOrderStatus(userID string, order orderservice.OrderView) {
	msg := message{Type: eventOrderStatus, Data: order}
	for _, s := range p.snapshotFor(userID) {
		if err := s.send(msg); err != nil {
			p.logger.Debug("dropping subscriber after write failure", zap.Error(err))
			p.evict(s)
		}
	}
}

// Ping sends a keep-alive frame to every subscriber, evicting any that
// no longer accept writes.
func (p *Publisher) Ping() {
	p.broadcast(message{Type: eventPing, Data: nil})
}
