package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gridleaf/cellgauge/internal/account/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("account.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Ensure(ctx context.Context, externalSubject, email string) (domain.Account, error) {
	externalSubject = strings.TrimSpace(externalSubject)
	if externalSubject == "" {
		return domain.Account{}, domain.ErrInvalidSubject
	}
	email = strings.TrimSpace(email)

	if existing, err := s.repo.FindBySubject(ctx, s.db, externalSubject); err != nil {
		return domain.Account{}, err
	} else if existing != nil {
		return *existing, nil
	}

	now := time.Now().UTC()
	account := domain.Account{
		ID:              s.genID.Generate(),
		ExternalSubject: externalSubject,
		Email:           email,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.Insert(ctx, tx, &account)
		if err != nil {
			return err
		}
		if !inserted {
			// Lost the race; the winner's row is used below.
			return nil
		}
		return tx.Exec(
			`INSERT INTO balances (account_id, total, used, remaining, updated_at)
			 VALUES (?, 0, 0, 0, ?)`,
			account.ID,
			now,
		).Error
	})
	if err != nil {
		return domain.Account{}, err
	}

	stored, err := s.repo.FindBySubject(ctx, s.db, externalSubject)
	if err != nil {
		return domain.Account{}, err
	}
	if stored == nil {
		return domain.Account{}, domain.ErrNotFound
	}
	return *stored, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Account, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Account{}, err
	}
	if item == nil {
		return domain.Account{}, domain.ErrNotFound
	}
	return *item, nil
}
