package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gridleaf/cellgauge/internal/ledger/domain"
	obsmetrics "github.com/gridleaf/cellgauge/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Credit(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, amount int64, kind, note string) (domain.Balance, error) {
	if amount <= 0 {
		return domain.Balance{}, domain.ErrInvalidAmount
	}
	if kind != domain.KindPurchase && kind != domain.KindRefund {
		return domain.Balance{}, domain.ErrInvalidAmount
	}

	var out domain.Balance
	run := func(tx *gorm.DB) error {
		balance, err := s.repo.LockBalance(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if balance == nil {
			return domain.ErrBalanceNotFound
		}

		switch kind {
		case domain.KindPurchase:
			balance.Total += amount
		case domain.KindRefund:
			// A refund returns spent credits rather than growing the total.
			balance.Used -= amount
		}
		balance.Remaining = balance.Total - balance.Used
		balance.UpdatedAt = time.Now().UTC()

		if err := s.applyMutation(ctx, tx, balance, kind, amount, note); err != nil {
			return err
		}
		out = *balance
		return nil
	}

	if err := s.inTx(ctx, tx, run); err != nil {
		return domain.Balance{}, err
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerEntry(ctx, kind)
	}
	return out, nil
}

func (s *Service) Debit(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, amount int64, note string) (domain.Balance, error) {
	if amount <= 0 {
		return domain.Balance{}, domain.ErrInvalidAmount
	}

	var out domain.Balance
	run := func(tx *gorm.DB) error {
		balance, err := s.repo.LockBalance(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if balance == nil {
			return domain.ErrBalanceNotFound
		}
		if balance.Remaining < amount {
			return domain.ErrInsufficientBalance
		}

		balance.Used += amount
		balance.Remaining = balance.Total - balance.Used
		balance.UpdatedAt = time.Now().UTC()

		if err := s.applyMutation(ctx, tx, balance, domain.KindUsage, -amount, note); err != nil {
			return err
		}
		out = *balance
		return nil
	}

	if err := s.inTx(ctx, tx, run); err != nil {
		return domain.Balance{}, err
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerEntry(ctx, domain.KindUsage)
	}
	return out, nil
}

// applyMutation persists a mutated balance plus its ledger entry and
// rejects the write when the counters no longer reconcile.
func (s *Service) applyMutation(ctx context.Context, tx *gorm.DB, balance *domain.Balance, kind string, delta int64, note string) error {
	if balance.Remaining < 0 || balance.Used < 0 || balance.Total < 0 {
		s.log.Error("balance mutation out of range",
			zap.String("account_id", balance.AccountID.String()),
			zap.Int64("total", balance.Total),
			zap.Int64("used", balance.Used),
			zap.Int64("remaining", balance.Remaining),
		)
		return domain.ErrLedgerDrift
	}
	if balance.Total-balance.Used != balance.Remaining {
		s.log.Error("balance counters drifted",
			zap.String("account_id", balance.AccountID.String()),
			zap.Int64("total", balance.Total),
			zap.Int64("used", balance.Used),
			zap.Int64("remaining", balance.Remaining),
		)
		return domain.ErrLedgerDrift
	}

	if err := s.repo.UpdateBalance(ctx, tx, balance); err != nil {
		return err
	}
	return s.repo.InsertEntry(ctx, tx, &domain.LedgerEntry{
		ID:        s.genID.Generate(),
		AccountID: balance.AccountID,
		Kind:      kind,
		Delta:     delta,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	})
}

// inTx runs fn inside the caller's transaction when one is supplied,
// otherwise it opens its own.
func (s *Service) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Service) GetBalance(ctx context.Context, accountID snowflake.ID) (domain.Balance, error) {
	balance, err := s.repo.FindBalance(ctx, s.db, accountID)
	if err != nil {
		return domain.Balance{}, err
	}
	if balance == nil {
		return domain.Balance{}, domain.ErrBalanceNotFound
	}
	return *balance, nil
}

func (s *Service) ListEntries(ctx context.Context, filter domain.ListEntriesFilter) ([]domain.LedgerEntry, error) {
	return s.repo.ListEntries(ctx, s.db, filter)
}
