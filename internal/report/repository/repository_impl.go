package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gridleaf/cellgauge/internal/report/domain"
	"gorm.io/gorm"
)

type repository struct{}

func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, tx *gorm.DB, job *domain.JobRecord) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO report_jobs (
			id, account_id, device_id, request_params, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.AccountID,
		job.DeviceID,
		job.RequestParams,
		job.Status,
		job.CreatedAt,
		job.UpdatedAt,
	).Error
}

func (r *repository) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.JobRecord, error) {
	var job domain.JobRecord
	err := tx.WithContext(ctx).
		Raw(`SELECT id, account_id, device_id, request_params, status, result_ref, failure_code, created_at, updated_at
		 FROM report_jobs WHERE id = ?`, id).
		Scan(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (r *repository) ListByAccount(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, limit, offset int) ([]domain.JobRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	jobs := make([]domain.JobRecord, 0)
	err := tx.WithContext(ctx).
		Raw(`SELECT id, account_id, device_id, request_params, status, result_ref, failure_code, created_at, updated_at
		 FROM report_jobs
		 WHERE account_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
			accountID, limit, offset).
		Scan(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repository) Complete(ctx context.Context, tx *gorm.DB, id snowflake.ID, resultRef string, updatedAt time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE report_jobs
		 SET status = ?, result_ref = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusCompleted,
		resultRef,
		updatedAt,
		id,
		domain.StatusProcessing,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) Fail(ctx context.Context, tx *gorm.DB, id snowflake.ID, failureCode string, updatedAt time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE report_jobs
		 SET status = ?, failure_code = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusFailed,
		failureCode,
		updatedAt,
		id,
		domain.StatusProcessing,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListStale(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) ([]domain.JobRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	jobs := make([]domain.JobRecord, 0)
	err := tx.WithContext(ctx).
		Raw(`SELECT id, account_id, device_id, request_params, status, result_ref, failure_code, created_at, updated_at
		 FROM report_jobs
		 WHERE status = ? AND updated_at < ?
		 ORDER BY updated_at ASC
		 LIMIT ?`,
			domain.StatusProcessing, cutoff, limit).
		Scan(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}
