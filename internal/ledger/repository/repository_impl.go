package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gridleaf/cellgauge/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct{}

func Provide() domain.Repository {
	return &repository{}
}

// LockBalance reads the balance row under FOR UPDATE so concurrent
// debits against the same account serialize at the database.
func (r *repository) LockBalance(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (*domain.Balance, error) {
	var b domain.Balance
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID).
		Take(&b).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *repository) UpdateBalance(ctx context.Context, tx *gorm.DB, b *domain.Balance) error {
	result := tx.WithContext(ctx).Exec(
		`UPDATE balances SET total = ?, used = ?, remaining = ?, updated_at = ? WHERE account_id = ?`,
		b.Total,
		b.Used,
		b.Remaining,
		b.UpdatedAt,
		b.AccountID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrBalanceNotFound
	}
	return nil
}

func (r *repository) InsertEntry(ctx context.Context, tx *gorm.DB, e *domain.LedgerEntry) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (id, account_id, kind, delta, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.AccountID,
		e.Kind,
		e.Delta,
		e.Note,
		e.CreatedAt,
	).Error
}

func (r *repository) FindBalance(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (*domain.Balance, error) {
	var b domain.Balance
	err := tx.WithContext(ctx).
		Raw(`SELECT account_id, total, used, remaining, updated_at FROM balances WHERE account_id = ?`, accountID).
		Scan(&b).Error
	if err != nil {
		return nil, err
	}
	if b.AccountID == 0 {
		return nil, nil
	}
	return &b, nil
}

func (r *repository) ListEntries(ctx context.Context, tx *gorm.DB, filter domain.ListEntriesFilter) ([]domain.LedgerEntry, error) {
	query := `SELECT id, account_id, kind, delta, note, created_at FROM ledger_entries WHERE account_id = ?`
	args := []any{filter.AccountID}

	if kind := strings.TrimSpace(filter.Kind); kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}

	query += ` ORDER BY created_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	entries := make([]domain.LedgerEntry, 0)
	if err := tx.WithContext(ctx).Raw(query, args...).Scan(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
