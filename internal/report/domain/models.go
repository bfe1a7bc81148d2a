package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Failure codes recorded on jobs that never produced a report.
const (
	FailureTriggerFailed = "trigger_failed"
	FailureJobFailed     = "job_failed"
	FailureTimeout       = "timeout"
	FailureStale         = "stale"
)

var (
	ErrInvalidDevice  = errors.New("invalid_device")
	ErrNotFound       = errors.New("report_not_found")
	ErrUpstreamFailed = errors.New("report_upstream_failed")
	ErrDeadline       = errors.New("report_deadline_exceeded")
)

// JobRecord is the local record of one report generation attempt. It is
// written in the same transaction that charges the credit, so a charge
// always has a job row to answer for it.
type JobRecord struct {
	ID            snowflake.ID      `gorm:"column:id;primaryKey" json:"id"`
	AccountID     snowflake.ID      `gorm:"column:account_id" json:"account_id"`
	DeviceID      string            `gorm:"column:device_id" json:"device_id"`
	RequestParams datatypes.JSONMap `gorm:"column:request_params" json:"request_params,omitempty"`
	Status        string            `gorm:"column:status" json:"status"`
	ResultRef     *string           `gorm:"column:result_ref" json:"result_ref,omitempty"`
	FailureCode   *string           `gorm:"column:failure_code" json:"failure_code,omitempty"`
	CreatedAt     time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"column:updated_at" json:"updated_at"`
}

func (JobRecord) TableName() string {
	return "report_jobs"
}

type Service interface {
	// Generate charges one credit, runs the inference job to completion
	// or failure, and returns the final job record.
	Generate(ctx context.Context, accountID snowflake.ID, deviceID string, params map[string]any) (JobRecord, error)

	Get(ctx context.Context, accountID, jobID snowflake.ID) (JobRecord, error)
	List(ctx context.Context, accountID snowflake.ID, limit, offset int) ([]JobRecord, error)
}

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, job *JobRecord) error
	FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*JobRecord, error)
	ListByAccount(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, limit, offset int) ([]JobRecord, error)

	// Complete and Fail transition only rows still processing; the
	// boolean reports whether this call won the transition.
	Complete(ctx context.Context, tx *gorm.DB, id snowflake.ID, resultRef string, updatedAt time.Time) (bool, error)
	Fail(ctx context.Context, tx *gorm.DB, id snowflake.ID, failureCode string, updatedAt time.Time) (bool, error)

	// ListStale returns processing jobs untouched since the cutoff.
	ListStale(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) ([]JobRecord, error)
}
