package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	KindPurchase = "purchase"
	KindUsage    = "usage"
	KindRefund   = "refund"
)

var (
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrBalanceNotFound     = errors.New("balance_not_found")
	ErrLedgerDrift         = errors.New("ledger_drift")
)

// Balance is the per-account credit counter. The row invariant
// total - used == remaining is checked after every mutation.
type Balance struct {
	AccountID snowflake.ID `gorm:"column:account_id;primaryKey" json:"account_id"`
	Total     int64        `gorm:"column:total" json:"total"`
	Used      int64        `gorm:"column:used" json:"used"`
	Remaining int64        `gorm:"column:remaining" json:"remaining"`
	UpdatedAt time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (Balance) TableName() string {
	return "balances"
}

type LedgerEntry struct {
	ID        snowflake.ID `gorm:"column:id;primaryKey" json:"id"`
	AccountID snowflake.ID `gorm:"column:account_id" json:"account_id"`
	Kind      string       `gorm:"column:kind" json:"kind"`
	Delta     int64        `gorm:"column:delta" json:"delta"`
	Note      string       `gorm:"column:note" json:"note"`
	CreatedAt time.Time    `gorm:"column:created_at" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

type ListEntriesFilter struct {
	AccountID snowflake.ID
	Kind      string
	Limit     int
	Offset    int
}

type Service interface {
	// Credit adds amount credits and records a purchase or refund entry.
	Credit(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, amount int64, kind, note string) (Balance, error)

	// Debit spends amount credits and records a usage entry. It fails with
	// ErrInsufficientBalance when remaining < amount, leaving the row untouched.
	Debit(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, amount int64, note string) (Balance, error)

	GetBalance(ctx context.Context, accountID snowflake.ID) (Balance, error)
	ListEntries(ctx context.Context, filter ListEntriesFilter) ([]LedgerEntry, error)
}

type Repository interface {
	LockBalance(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (*Balance, error)
	UpdateBalance(ctx context.Context, tx *gorm.DB, b *Balance) error
	InsertEntry(ctx context.Context, tx *gorm.DB, e *LedgerEntry) error
	FindBalance(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (*Balance, error)
	ListEntries(ctx context.Context, tx *gorm.DB, filter ListEntriesFilter) ([]LedgerEntry, error)
}
