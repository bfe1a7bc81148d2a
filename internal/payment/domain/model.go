package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidConfig    = errors.New("invalid_provider_config")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrOrderNotFound    = errors.New("order_not_found")
	ErrGatewayFailure   = errors.New("gateway_failure")
)

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
)

// EventRecord is the persisted copy of a delivered webhook event.
// The unique (provider, provider_event_id) pair makes redelivery a no-op.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	GatewayOrderID  string         `json:"gateway_order_id" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

// PaymentEvent is the canonical payment event parsed by adapters.
type PaymentEvent struct {
	Provider         string
	ProviderEventID  string
	GatewayPaymentID string
	GatewayOrderID   string
	Type             string
	Amount           int64
	Currency         string
	FailureReason    string
	OccurredAt       time.Time
	RawPayload       []byte
}

// PaymentAdapter verifies and normalizes one gateway's webhook format.
type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte, headers http.Header) (*PaymentEvent, error)
}

type AdapterConfig struct {
	Provider      string
	WebhookSecret string
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

// Service ingests gateway webhooks end to end: signature check,
// event parse, order transition, credit grant.
type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

type Repository interface {
	InsertEvent(ctx context.Context, tx *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, tx *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, tx *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
