// Package recovery rebuilds the matching engine's in-memory state from
// the durable store at startup, so a process restart never loses a
// resting order or drops a trade that should have already matched
// against one, grounded on original_source's
// OrderMatchingEngine.restore_from_database and
// OrderBookService._restore_order_book_from_db.
package recovery

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tradesys/exchange/internal/matching"
	"github.com/tradesys/exchange/internal/store"
)

// Result reports what recovery did, for the composition root to log.
type Result struct {
	OrdersReplayed int
	TradesGenerated int
}

// Run seeds engine's last-trade-price (price history tail, else most
// recent trade, else defaultPrice — §4.5/§9) and replays every active
// order for symbol, oldest first, through engine. Any trades generated
// during replay (orders that should already have matched before the
// process stopped) are persisted in a single transaction, exactly as
// original_source's restore_from_database collects all trades and
// commits them together at the end.
func Run(ctx context.Context, st *store.Store, engine *matching.Engine, symbol string, defaultPrice decimal.Decimal, logger *zap.Logger) (Result, error) {
	seedLastTradePrice(ctx, st, engine, symbol, defaultPrice, logger)

	rows, err := st.FindActiveOrders(ctx, symbol)
	if err != nil {
		return Result{}, err
	}

	var trades []matching.Trade

	for _, row := range rows {
		order, err := toEngineOrder(row)
		if err != nil {
			logger.Warn("skipping unrecoverable order during replay",
				zap.String("order_id", row.ID), zap.Error(err))
			continue
		}

		generated, err := engine.AddOrder(order)
		if err != nil {
			logger.Warn("failed to replay order", zap.String("order_id", row.ID), zap.Error(err))
			continue
		}
		trades = append(trades, generated...)
	}

	if len(trades) == 0 {
		logger.Info("recovery replayed orders with no resulting trades",
			zap.Int("orders", len(rows)))
		return Result{OrdersReplayed: len(rows)}, nil
	}

	byID := make(map[string]*store.OrderRow, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}

	txErr := st.WithinTx(ctx, func(tx *gorm.DB) error {
		for _, t := range trades {
			tradeRow := &store.TradeRow{
				ID:          uuid.New().String(),
				Symbol:      symbol,
				Price:       t.Price,
				Quantity:    t.Quantity,
				BuyOrderID:  t.BuyOrderID.String(),
				SellOrderID: t.SellOrderID.String(),
				BuyUserID:   t.BuyUserID.String(),
				SellUserID:  t.SellUserID.String(),
				ExecutedAt:  t.Timestamp,
			}
			if err := st.CreateTrade(tx, tradeRow); err != nil {
				return err
			}
			if err := st.CreatePriceHistory(tx, &store.PriceHistoryRow{
				Symbol: symbol, Price: t.Price, CreatedAt: t.Timestamp,
			}); err != nil {
				return err
			}

			applyTo := func(id string, remaining decimal.Decimal, status matching.Status) error {
				row, ok := byID[id]
				if !ok {
					return nil
				}
				row.Remaining = remaining
				row.Status = string(status)
				row.Active = status == matching.StatusOpen || status == matching.StatusPartiallyFilled
				return st.UpdateOrder(tx, row)
			}
			if err := applyTo(t.BuyOrderID.String(), t.BuyRemaining, t.BuyStatus); err != nil {
				return err
			}
			if err := applyTo(t.SellOrderID.String(), t.SellRemaining, t.SellStatus); err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		return Result{}, txErr
	}

	logger.Info("recovery replay produced trades",
		zap.Int("orders", len(rows)), zap.Int("trades", len(trades)))
	return Result{OrdersReplayed: len(rows), TradesGenerated: len(trades)}, nil
}

// seedLastTradePrice mirrors OrderBookService.__init__: prefer the most
// recent price_history entry, fall back to the most recent trade, fall
// back to defaultPrice.
func seedLastTradePrice(ctx context.Context, st *store.Store, engine *matching.Engine, symbol string, defaultPrice decimal.Decimal, logger *zap.Logger) {
	if row, err := st.LastPrice(ctx, symbol); err == nil {
		engine.SetLastTradePrice(row.Price)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Warn("failed to load last price history entry", zap.Error(err))
	}

	if row, err := st.LastTrade(ctx, symbol); err == nil {
		engine.SetLastTradePrice(row.Price)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Warn("failed to load last trade", zap.Error(err))
	}

	engine.SetLastTradePrice(defaultPrice)
}

func toEngineOrder(row *store.OrderRow) (*matching.Order, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(row.UserID)
	if err != nil {
		return nil, err
	}
	return &matching.Order{
		ID:        id,
		UserID:    userID,
		Side:      matching.Side(row.Side),
		Type:      matching.Type(row.Type),
		Price:     row.Price,
		Quantity:  row.Quantity,
		Remaining: row.Remaining,
		Status:    matching.Status(row.Status),
		Active:    row.Active,
		CreatedAt: row.CreatedAt,
	}, nil
}
