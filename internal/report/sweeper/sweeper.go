package sweeper

import (
	"context"
	"time"

	auditdomain "github.com/gridleaf/cellgauge/internal/audit/domain"
	"github.com/gridleaf/cellgauge/internal/clock"
	"github.com/gridleaf/cellgauge/internal/config"
	ledgerdomain "github.com/gridleaf/cellgauge/internal/ledger/domain"
	obsmetrics "github.com/gridleaf/cellgauge/internal/observability/metrics"
	"github.com/gridleaf/cellgauge/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	runInterval = time.Minute
	batchSize   = 100
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	Clock      clock.Clock
	Repo       domain.Repository
	LedgerSvc  ledgerdomain.Service
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Sweeper closes out processing jobs whose owner died mid-flight. A
// job untouched past the stale threshold can no longer complete; it is
// failed with the stale code and compensated like any other failure.
type Sweeper struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        config.ReportConfig
	clock      clock.Clock
	repo       domain.Repository
	ledgerSvc  ledgerdomain.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) *Sweeper {
	return &Sweeper{
		db:         p.DB,
		log:        p.Log.Named("report.sweeper"),
		cfg:        p.Cfg.Report,
		clock:      p.Clock,
		repo:       p.Repo,
		ledgerSvc:  p.LedgerSvc,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(runInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.SweepOnce(ctx); err != nil {
			s.log.Warn("sweep pass failed", zap.Error(err))
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) error {
	threshold := s.cfg.StaleThreshold
	if threshold <= 0 {
		threshold = 15 * time.Minute
	}
	cutoff := s.clock.Now().Add(-threshold)

	stale, err := s.repo.ListStale(ctx, s.db, cutoff, batchSize)
	if err != nil {
		return err
	}

	for _, job := range stale {
		if err := s.closeStale(ctx, job); err != nil {
			s.log.Warn("failed to close stale job",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Sweeper) closeStale(ctx context.Context, job domain.JobRecord) error {
	won, err := s.repo.Fail(ctx, s.db, job.ID, domain.FailureStale, time.Now().UTC())
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	s.log.Info("closed stale report job",
		zap.String("job_id", job.ID.String()),
		zap.String("account_id", job.AccountID.String()),
		zap.Time("last_update", job.UpdatedAt),
	)

	refunded := false
	if s.cfg.RefundOnFailure {
		if _, err := s.ledgerSvc.Credit(ctx, nil, job.AccountID, 1, ledgerdomain.KindRefund, "report:"+job.ID.String()); err != nil {
			s.log.Error("stale job refund failed",
				zap.String("job_id", job.ID.String()),
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
			"failure_code": domain.FailureStale,
			"credits":      1,
			"refunded":     refunded,
		})
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordReportJob(ctx, domain.StatusFailed, s.clock.Now().Sub(job.CreatedAt))
	}
	return nil
}
