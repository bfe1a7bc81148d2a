package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog is an append-only operational trail row. The webhook
// reconciler records anomalies here and the report orchestrator records
// the compensation marker for charged-but-failed jobs.
type AuditLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	AccountID  *snowflake.ID     `json:"account_id" gorm:"index"`
	Action     string            `json:"action" gorm:"type:text;not null"`
	TargetType string            `json:"target_type" gorm:"type:text;not null"`
	TargetID   *string           `json:"target_id" gorm:"type:text"`
	Metadata   datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type ListFilter struct {
	AccountID snowflake.ID
	Action    string
	Limit     int
}

type Service interface {
	AuditLog(ctx context.Context, accountID *snowflake.ID, action string, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, filter ListFilter) ([]AuditLog, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

var (
	ErrInvalidAction = errors.New("invalid_action")
)
