package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gridleaf/cellgauge/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// InsertEvent writes the delivered event exactly once. A redelivered
// event hits the unique (provider, provider_event_id) index and
// reports inserted=false.
func (r *repo) InsertEvent(ctx context.Context, tx *gorm.DB, event *domain.EventRecord) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, provider, provider_event_id, event_type, gateway_order_id, payload, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.GatewayOrderID,
		event.Payload,
		event.ReceivedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, tx *gorm.DB, provider, providerEventID string) (*domain.EventRecord, error) {
	var record domain.EventRecord
	err := tx.WithContext(ctx).
		Raw(`SELECT id, provider, provider_event_id, event_type, gateway_order_id, payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?`,
			provider, providerEventID).
		Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) MarkProcessed(ctx context.Context, tx *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE payment_events SET processed_at = ? WHERE id = ? AND processed_at IS NULL`,
		processedAt,
		id,
	).Error
}
