package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/gridleaf/cellgauge/internal/account/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, account *domain.Account) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO accounts (id, external_subject, email, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (external_subject) DO NOTHING`,
		account.ID,
		account.ExternalSubject,
		account.Email,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindBySubject(ctx context.Context, db *gorm.DB, externalSubject string) (*domain.Account, error) {
	var item domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT id, external_subject, email, created_at, updated_at
		 FROM accounts
		 WHERE external_subject = ?
		 LIMIT 1`,
		externalSubject,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var item domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT id, external_subject, email, created_at, updated_at
		 FROM accounts
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
