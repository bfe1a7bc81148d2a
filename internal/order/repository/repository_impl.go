package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gridleaf/cellgauge/internal/order/domain"
	"gorm.io/gorm"
)

type repository struct{}

func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, tx *gorm.DB, order *domain.Order) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO orders (
			id, account_id, pack_id, gateway_order_id, amount_minor,
			currency, credits_granted, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.AccountID,
		order.PackID,
		order.GatewayOrderID,
		order.AmountMinor,
		order.Currency,
		order.CreditsGranted,
		order.Status,
		order.CreatedAt,
	).Error
}

func (r *repository) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	return r.findOne(ctx, tx, `id = ?`, id)
}

func (r *repository) FindByGatewayOrderID(ctx context.Context, tx *gorm.DB, gatewayOrderID string) (*domain.Order, error) {
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	if gatewayOrderID == "" {
		return nil, nil
	}
	return r.findOne(ctx, tx, `gateway_order_id = ?`, gatewayOrderID)
}

func (r *repository) findOne(ctx context.Context, tx *gorm.DB, cond string, arg any) (*domain.Order, error) {
	var order domain.Order
	err := tx.WithContext(ctx).
		Raw(`SELECT id, account_id, pack_id, gateway_order_id, gateway_payment_id,
			amount_minor, currency, credits_granted, status, processed_at, created_at
		 FROM orders WHERE `+cond, arg).
		Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repository) ListByAccount(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, limit, offset int) ([]domain.Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	orders := make([]domain.Order, 0)
	err := tx.WithContext(ctx).
		Raw(`SELECT id, account_id, pack_id, gateway_order_id, gateway_payment_id,
			amount_minor, currency, credits_granted, status, processed_at, created_at
		 FROM orders
		 WHERE account_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
			accountID, limit, offset).
		Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) MarkPaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, gatewayPaymentID string, processedAt time.Time) (bool, error) {
	return r.transition(ctx, tx, id, domain.StatusPaid, gatewayPaymentID, processedAt)
}

func (r *repository) MarkFailed(ctx context.Context, tx *gorm.DB, id snowflake.ID, gatewayPaymentID string, processedAt time.Time) (bool, error) {
	return r.transition(ctx, tx, id, domain.StatusFailed, gatewayPaymentID, processedAt)
}

func (r *repository) transition(ctx context.Context, tx *gorm.DB, id snowflake.ID, status, gatewayPaymentID string, processedAt time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, gateway_payment_id = ?, processed_at = ?
		 WHERE id = ? AND status = ?`,
		status,
		gatewayPaymentID,
		processedAt,
		id,
		domain.StatusCreated,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
