package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/gridleaf/cellgauge/internal/account/domain"
	"github.com/gridleaf/cellgauge/internal/account/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testDBSeq int

func newTestService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()

	testDBSeq++
	dsn := fmt.Sprintf("file:account_test_%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	schemas := []string{
		`CREATE TABLE accounts (
			id INTEGER PRIMARY KEY,
			external_subject TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL DEFAULT '',
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE balances (
			account_id INTEGER PRIMARY KEY,
			total INTEGER NOT NULL DEFAULT 0,
			used INTEGER NOT NULL DEFAULT 0,
			remaining INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME
		)`,
	}
	for _, schema := range schemas {
		if err := db.Exec(schema).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}

	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})
	return svc, db
}

func TestEnsure_CreatesAccountWithZeroBalance(t *testing.T) {
	svc, db := newTestService(t)

	account, err := svc.Ensure(context.Background(), "auth0|user-1", "a@example.com")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if account.ExternalSubject != "auth0|user-1" || account.Email != "a@example.com" {
		t.Fatalf("unexpected account: %+v", account)
	}

	var total, used, remaining int64
	row := db.Raw(`SELECT total, used, remaining FROM balances WHERE account_id = ?`, account.ID).Row()
	if err := row.Scan(&total, &used, &remaining); err != nil {
		t.Fatalf("new account must get a balance row: %v", err)
	}
	if total != 0 || used != 0 || remaining != 0 {
		t.Fatalf("new balance must be zero, got total=%d used=%d remaining=%d", total, used, remaining)
	}
}

func TestEnsure_Idempotent(t *testing.T) {
	svc, db := newTestService(t)

	first, err := svc.Ensure(context.Background(), "auth0|user-2", "b@example.com")
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	second, err := svc.Ensure(context.Background(), "auth0|user-2", "b@example.com")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("repeated ensure must return the same account: %v vs %v", first.ID, second.ID)
	}

	var accounts int64
	if err := db.Raw(`SELECT COUNT(*) FROM accounts`).Scan(&accounts).Error; err != nil {
		t.Fatalf("count accounts: %v", err)
	}
	if accounts != 1 {
		t.Fatalf("expected 1 account, got %d", accounts)
	}
}

func TestEnsure_EmptySubject(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Ensure(context.Background(), "   ", ""); !errors.Is(err, domain.ErrInvalidSubject) {
		t.Fatalf("expected ErrInvalidSubject, got %v", err)
	}
}

func TestGetByID_Unknown(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.GetByID(context.Background(), 12345); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
