package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	StatusCreated = "created"
	StatusPaid    = "paid"
	StatusFailed  = "failed"
)

var (
	ErrInvalidPack = errors.New("invalid_pack")
	ErrNotFound    = errors.New("order_not_found")
)

// Order tracks one credit-pack purchase from gateway order creation
// through webhook settlement.
type Order struct {
	ID               snowflake.ID `gorm:"column:id;primaryKey" json:"id"`
	AccountID        snowflake.ID `gorm:"column:account_id" json:"account_id"`
	PackID           string       `gorm:"column:pack_id" json:"pack_id"`
	GatewayOrderID   string       `gorm:"column:gateway_order_id" json:"gateway_order_id"`
	GatewayPaymentID *string      `gorm:"column:gateway_payment_id" json:"gateway_payment_id,omitempty"`
	AmountMinor      int64        `gorm:"column:amount_minor" json:"amount_minor"`
	Currency         string       `gorm:"column:currency" json:"currency"`
	CreditsGranted   int64        `gorm:"column:credits_granted" json:"credits_granted"`
	Status           string       `gorm:"column:status" json:"status"`
	ProcessedAt      *time.Time   `gorm:"column:processed_at" json:"processed_at,omitempty"`
	CreatedAt        time.Time    `gorm:"column:created_at" json:"created_at"`
}

func (Order) TableName() string {
	return "orders"
}

type Service interface {
	// CreatePurchase creates a gateway order for the pack and records
	// it locally in created status.
	CreatePurchase(ctx context.Context, accountID snowflake.ID, packID string) (Order, error)

	Get(ctx context.Context, accountID, orderID snowflake.ID) (Order, error)
	List(ctx context.Context, accountID snowflake.ID, limit, offset int) ([]Order, error)
}

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, order *Order) error
	FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Order, error)
	FindByGatewayOrderID(ctx context.Context, tx *gorm.DB, gatewayOrderID string) (*Order, error)
	ListByAccount(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, limit, offset int) ([]Order, error)

	// MarkPaid and MarkFailed transition only rows still in created
	// status; the boolean reports whether this call won the transition.
	MarkPaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, gatewayPaymentID string, processedAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, tx *gorm.DB, id snowflake.ID, gatewayPaymentID string, processedAt time.Time) (bool, error)
}
