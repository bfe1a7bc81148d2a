package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/gridleaf/cellgauge/internal/audit/domain"
	"github.com/gridleaf/cellgauge/internal/clock"
	"github.com/gridleaf/cellgauge/internal/config"
	"github.com/gridleaf/cellgauge/internal/inference"
	ledgerdomain "github.com/gridleaf/cellgauge/internal/ledger/domain"
	obsmetrics "github.com/gridleaf/cellgauge/internal/observability/metrics"
	"github.com/gridleaf/cellgauge/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// reportCost is the flat credit price of one report.
const reportCost = 1

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Cfg        config.Config
	Clock      clock.Clock
	LedgerSvc  ledgerdomain.Service
	AuditSvc   auditdomain.Service `optional:"true"`
	Inference  inference.Client
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	cfg        config.ReportConfig
	clock      clock.Clock
	ledgerSvc  ledgerdomain.Service
	auditSvc   auditdomain.Service
	inference  inference.Client
	repo       domain.Repository
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return newService(p)
}

func newService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("report.service"),
		genID:      p.GenID,
		cfg:        p.Cfg.Report,
		clock:      p.Clock,
		ledgerSvc:  p.LedgerSvc,
		auditSvc:   p.AuditSvc,
		inference:  p.Inference,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

// Generate runs one credit-gated report end to end. The charge and the
// job row commit together before the inference backend is called, so a
// crash mid-flight leaves a processing job the sweeper can close out.
func (s *Service) Generate(ctx context.Context, accountID snowflake.ID, deviceID string, params map[string]any) (domain.JobRecord, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return domain.JobRecord{}, domain.ErrInvalidDevice
	}

	// Fast-fail before touching the row lock. The authoritative check
	// happens again inside the debit transaction.
	balance, err := s.ledgerSvc.GetBalance(ctx, accountID)
	if err != nil {
		return domain.JobRecord{}, err
	}
	if balance.Remaining < reportCost {
		return domain.JobRecord{}, ledgerdomain.ErrInsufficientBalance
	}

	started := s.clock.Now()
	now := time.Now().UTC()
	job := domain.JobRecord{
		ID:            s.genID.Generate(),
		AccountID:     accountID,
		DeviceID:      deviceID,
		RequestParams: datatypes.JSONMap(params),
		Status:        domain.StatusProcessing,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if job.RequestParams == nil {
		job.RequestParams = datatypes.JSONMap{}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledgerSvc.Debit(ctx, tx, accountID, reportCost, "report:"+job.ID.String()); err != nil {
			return err
		}
		return s.repo.Insert(ctx, tx, &job)
	})
	if err != nil {
		return domain.JobRecord{}, err
	}

	externalJobID, err := s.inference.Trigger(ctx, inference.TriggerRequest{
		DeviceID: deviceID,
		Params:   params,
	})
	if err != nil {
		s.log.Warn("inference trigger failed",
			zap.String("job_id", job.ID.String()),
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		failed, ferr := s.finalizeFailure(ctx, &job, domain.FailureTriggerFailed, started)
		if ferr != nil {
			return domain.JobRecord{}, ferr
		}
		return failed, fmt.Errorf("%w: %v", domain.ErrUpstreamFailed, err)
	}

	return s.await(ctx, &job, externalJobID, started)
}

// await polls the inference backend until the job resolves or the
// deadline passes. No database transaction is held while waiting.
func (s *Service) await(ctx context.Context, job *domain.JobRecord, externalJobID string, started time.Time) (domain.JobRecord, error) {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	deadline := started.Add(s.cfg.PollDeadline)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			failed, ferr := s.finalizeFailure(ctx, job, domain.FailureTimeout, started)
			if ferr != nil {
				return domain.JobRecord{}, ferr
			}
			return failed, fmt.Errorf("%w: %v", domain.ErrDeadline, ctx.Err())
		case <-ticker.C:
		}

		status, err := s.inference.Status(ctx, externalJobID)
		if err != nil {
			if errors.Is(err, inference.ErrJobNotFound) {
				failed, ferr := s.finalizeFailure(ctx, job, domain.FailureJobFailed, started)
				if ferr != nil {
					return domain.JobRecord{}, ferr
				}
				return failed, fmt.Errorf("%w: job vanished upstream", domain.ErrUpstreamFailed)
			}
			// Transient poll errors burn down the deadline instead of
			// aborting the job.
			s.log.Warn("inference poll failed",
				zap.String("job_id", job.ID.String()),
				zap.String("external_job_id", externalJobID),
				zap.Error(err),
			)
			status = inference.JobStatus{State: inference.StateRunning}
		}

		switch status.State {
		case inference.StateCompleted:
			return s.finalizeSuccess(ctx, job, status.ResultRef, started)
		case inference.StateFailed:
			failed, ferr := s.finalizeFailure(ctx, job, domain.FailureJobFailed, started)
			if ferr != nil {
				return domain.JobRecord{}, ferr
			}
			return failed, fmt.Errorf("%w: %s", domain.ErrUpstreamFailed, status.FailureReason)
		}

		if s.clock.Now().After(deadline) {
			failed, ferr := s.finalizeFailure(ctx, job, domain.FailureTimeout, started)
			if ferr != nil {
				return domain.JobRecord{}, ferr
			}
			return failed, domain.ErrDeadline
		}
	}
}

func (s *Service) finalizeSuccess(ctx context.Context, job *domain.JobRecord, resultRef string, started time.Time) (domain.JobRecord, error) {
	now := time.Now().UTC()
	won, err := s.repo.Complete(ctx, s.db, job.ID, resultRef, now)
	if err != nil {
		return domain.JobRecord{}, err
	}
	if !won {
		// The sweeper got there first; report what the row says now.
		stored, err := s.repo.FindByID(ctx, s.db, job.ID)
		if err != nil {
			return domain.JobRecord{}, err
		}
		if stored == nil {
			return domain.JobRecord{}, domain.ErrNotFound
		}
		return *stored, nil
	}

	job.Status = domain.StatusCompleted
	job.ResultRef = &resultRef
	job.UpdatedAt = now

	if s.obsMetrics != nil {
		s.obsMetrics.RecordReportJob(ctx, domain.StatusCompleted, s.clock.Now().Sub(started))
	}
	return *job, nil
}

// finalizeFailure closes the job with a failure code and, when refunds
// are enabled, returns the charged credit. The audit row is the
// durable marker tying the charge to the failed job.
func (s *Service) finalizeFailure(ctx context.Context, job *domain.JobRecord, failureCode string, started time.Time) (domain.JobRecord, error) {
	now := time.Now().UTC()
	won, err := s.repo.Fail(ctx, s.db, job.ID, failureCode, now)
	if err != nil {
		return domain.JobRecord{}, err
	}
	if !won {
		stored, err := s.repo.FindByID(ctx, s.db, job.ID)
		if err != nil {
			return domain.JobRecord{}, err
		}
		if stored == nil {
			return domain.JobRecord{}, domain.ErrNotFound
		}
		return *stored, nil
	}

	job.Status = domain.StatusFailed
	job.FailureCode = &failureCode
	job.UpdatedAt = now

	refunded := false
	if s.cfg.RefundOnFailure {
		if _, err := s.ledgerSvc.Credit(ctx, nil, job.AccountID, reportCost, ledgerdomain.KindRefund, "report:"+job.ID.String()); err != nil {
			s.log.Error("report refund failed",
				zap.String("job_id", job.ID.String()),
				zap.String("failure_code", failureCode),
				zap.Error(err),
			)
		} else {
			refunded = true
		}
	}

	if s.auditSvc != nil {
		targetID := job.ID.String()
		_ = s.auditSvc.AuditLog(ctx, &job.AccountID, "report.charged_failed", "report_job", &targetID, map[string]any{
			"device_id":    job.DeviceID,
			"failure_code": failureCode,
			"credits":      reportCost,
			"refunded":     refunded,
		})
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordReportJob(ctx, domain.StatusFailed, s.clock.Now().Sub(started))
	}
	return *job, nil
}

func (s *Service) Get(ctx context.Context, accountID, jobID snowflake.ID) (domain.JobRecord, error) {
	job, err := s.repo.FindByID(ctx, s.db, jobID)
	if err != nil {
		return domain.JobRecord{}, err
	}
	if job == nil || job.AccountID != accountID {
		return domain.JobRecord{}, domain.ErrNotFound
	}
	return *job, nil
}

func (s *Service) List(ctx context.Context, accountID snowflake.ID, limit, offset int) ([]domain.JobRecord, error) {
	return s.repo.ListByAccount(ctx, s.db, accountID, limit, offset)
}
