package store

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// Store wraps a *gorm.DB with the repository operations the order
// service and recovery path need. Grounded on
// internal/db/repositories/order_repository.go, stripped of the
// query.Builder/Optimizer indirection (that package was deleted as
// out-of-scope infrastructure — see DESIGN.md) in favor of calling
// gorm directly, which is how the teacher's own Position/Trade paths
// already work.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New wraps db for use by the order service and recovery path.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Migrate creates/updates the schema for all four tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&OrderRow{}, &TradeRow{}, &PriceHistoryRow{}, &UserRow{})
}

// DB exposes the underlying handle for callers (the order service) that
// need to run their own multi-statement transaction.
func (s *Store) DB() *gorm.DB { return s.db }

// WithinTx runs fn inside a database transaction, rolling back on panic
// or error and committing otherwise. Mirrors the
// begin/defer-recover-rollback/commit shape of
// OrderRepository.UpdatePosition, generalized to an arbitrary body.
func (s *Store) WithinTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// CreateOrder inserts order within the given transaction handle (pass
// s.DB() outside a transaction).
func (s *Store) CreateOrder(tx *gorm.DB, order *OrderRow) error {
	if err := tx.Create(order).Error; err != nil {
		s.logger.Error("failed to create order", zap.Error(err), zap.String("order_id", order.ID))
		return err
	}
	return nil
}

// UpdateOrder persists the full row (status/remaining/active changes).
func (s *Store) UpdateOrder(tx *gorm.DB, order *OrderRow) error {
	if err := tx.Save(order).Error; err != nil {
		s.logger.Error("failed to update order", zap.Error(err), zap.String("order_id", order.ID))
		return err
	}
	return nil
}

// FindOrderByID returns ErrNotFound when no row matches.
func (s *Store) FindOrderByID(ctx context.Context, id string) (*OrderRow, error) {
	var row OrderRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FindOrderForUser returns the order only if it belongs to userID,
// otherwise ErrNotFound — callers must not leak existence of other
// users' orders.
func (s *Store) FindOrderForUser(ctx context.Context, id, userID string) (*OrderRow, error) {
	var row OrderRow
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FindActiveOrders returns all active orders for symbol ordered by
// creation time ascending — the order recovery replays them in.
func (s *Store) FindActiveOrders(ctx context.Context, symbol string) ([]*OrderRow, error) {
	var rows []*OrderRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND active = ?", symbol, true).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		s.logger.Error("failed to load active orders", zap.Error(err), zap.String("symbol", symbol))
		return nil, err
	}
	return rows, nil
}

// FindOrdersByUser returns a user's orders newest first.
func (s *Store) FindOrdersByUser(ctx context.Context, userID string) ([]*OrderRow, error) {
	var rows []*OrderRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CreateTrade inserts a trade row within tx.
func (s *Store) CreateTrade(tx *gorm.DB, trade *TradeRow) error {
	if err := tx.Create(trade).Error; err != nil {
		s.logger.Error("failed to create trade", zap.Error(err))
		return err
	}
	return nil
}

// RecentTrades returns the most recent trades for symbol, newest first.
func (s *Store) RecentTrades(ctx context.Context, symbol string, limit int) ([]*TradeRow, error) {
	var rows []*TradeRow
	err := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("executed_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CreatePriceHistory records a price point within tx.
func (s *Store) CreatePriceHistory(tx *gorm.DB, row *PriceHistoryRow) error {
	return tx.Create(row).Error
}

// LastPrice returns the most recent price_history entry for symbol, or
// ErrNotFound if none exists — the engine falls back further to the
// most recent trade, then to a configured default (§4.5).
func (s *Store) LastPrice(ctx context.Context, symbol string) (*PriceHistoryRow, error) {
	var row PriceHistoryRow
	err := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// LastTrade returns the most recent trade for symbol, or ErrNotFound.
func (s *Store) LastTrade(ctx context.Context, symbol string) (*TradeRow, error) {
	var row TradeRow
	err := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("executed_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// RecentPrices returns the most recent price_history entries for
// symbol, newest first.
func (s *Store) RecentPrices(ctx context.Context, symbol string, limit int) ([]*PriceHistoryRow, error) {
	var rows []*PriceHistoryRow
	err := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CreateUser inserts a new user account.
func (s *Store) CreateUser(ctx context.Context, user *UserRow) error {
	return s.db.WithContext(ctx).Create(user).Error
}

// FindUserByUsername returns ErrNotFound when no account exists.
func (s *Store) FindUserByUsername(ctx context.Context, username string) (*UserRow, error) {
	var row UserRow
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
