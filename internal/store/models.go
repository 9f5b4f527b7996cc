// Package store is the durable layer: GORM models and repositories for
// orders, trades, price history, and users.
package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// OrderRow is the persisted representation of an order. Field names
// follow the teacher's db/models/order.go layout, trimmed to the
// columns this spec actually needs.
type OrderRow struct {
	ID        string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string          `gorm:"type:varchar(36);index" json:"user_id"`
	Symbol    string          `gorm:"type:varchar(20);index" json:"symbol"`
	Side      string          `gorm:"type:varchar(10);index" json:"side"`
	Type      string          `gorm:"type:varchar(20);index" json:"type"`
	Price     *decimal.Decimal `gorm:"type:decimal(20,8)" json:"price"`
	Quantity  decimal.Decimal `gorm:"type:decimal(20,8)" json:"quantity"`
	Remaining decimal.Decimal `gorm:"type:decimal(20,8)" json:"remaining"`
	Status    string          `gorm:"type:varchar(20);index" json:"status"`
	Active    bool            `gorm:"index" json:"active"`
	CreatedAt time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (OrderRow) TableName() string { return "orders" }

// BeforeCreate mirrors the teacher's Order.BeforeCreate hook: assign an
// opaque identifier if the caller left it empty.
func (o *OrderRow) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	return nil
}

// TradeRow is the persisted representation of an executed trade.
type TradeRow struct {
	ID          string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Symbol      string          `gorm:"type:varchar(20);index" json:"symbol"`
	Price       decimal.Decimal `gorm:"type:decimal(20,8)" json:"price"`
	Quantity    decimal.Decimal `gorm:"type:decimal(20,8)" json:"quantity"`
	BuyOrderID  string          `gorm:"type:varchar(36);index" json:"buy_order_id"`
	SellOrderID string          `gorm:"type:varchar(36);index" json:"sell_order_id"`
	BuyUserID   string          `gorm:"type:varchar(36);index" json:"buy_user_id"`
	SellUserID  string          `gorm:"type:varchar(36);index" json:"sell_user_id"`
	ExecutedAt  time.Time       `gorm:"index" json:"executed_at"`
}

func (TradeRow) TableName() string { return "trades" }

func (t *TradeRow) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

// PriceHistoryRow records the last-trade-price at the moment of each
// trade, so the engine can reseed its "last trade price" on restart
// without replaying every order (§4.5 recovery).
type PriceHistoryRow struct {
	ID        string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Symbol    string          `gorm:"type:varchar(20);index" json:"symbol"`
	Price     decimal.Decimal `gorm:"type:decimal(20,8)" json:"price"`
	CreatedAt time.Time       `gorm:"index" json:"created_at"`
}

func (PriceHistoryRow) TableName() string { return "price_history" }

func (p *PriceHistoryRow) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// Account roles, mirroring the teacher's User.Role/db "role" column
// and original_source's UserTypeEnum (trader/admin, default trader).
const (
	RoleTrader = "trader"
	RoleAdmin  = "admin"
)

// UserRow is a registered account. Password is stored as a bcrypt hash,
// never the plaintext, mirroring the teacher's db/models/user.go.
type UserRow struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Username     string    `gorm:"type:varchar(50);uniqueIndex" json:"username"`
	PasswordHash string    `gorm:"type:varchar(100)" json:"-"`
	Role         string    `gorm:"type:varchar(20);index;default:trader" json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (UserRow) TableName() string { return "users" }

func (u *UserRow) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Role == "" {
		u.Role = RoleTrader
	}
	return nil
}

// NewUserRow hashes password and builds a row ready for insertion. An
// empty role defaults to RoleTrader, matching
// UserSignupRequestSchema.user_type's default in original_source.
func NewUserRow(username, password, role string) (*UserRow, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = RoleTrader
	}
	return &UserRow{Username: username, PasswordHash: string(hashed), Role: role}, nil
}

// CheckPassword reports whether password matches the stored hash.
func (u *UserRow) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}
