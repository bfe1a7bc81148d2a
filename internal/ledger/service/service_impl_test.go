package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/gridleaf/cellgauge/internal/ledger/domain"
	"github.com/gridleaf/cellgauge/internal/ledger/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testDBSeq int

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testDBSeq++
	dsn := fmt.Sprintf("file:ledger_test_%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	// sqlite has no FOR UPDATE; strip it so the locking clause parses
	db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	})

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec(`
		CREATE TABLE balances (
			account_id INTEGER PRIMARY KEY,
			total INTEGER NOT NULL DEFAULT 0,
			used INTEGER NOT NULL DEFAULT 0,
			remaining INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME
		)
	`).Error; err != nil {
		t.Fatalf("create balances table: %v", err)
	}
	if err := db.Exec(`
		CREATE TABLE ledger_entries (
			id INTEGER PRIMARY KEY,
			account_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			delta INTEGER NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_at DATETIME
		)
	`).Error; err != nil {
		t.Fatalf("create ledger_entries table: %v", err)
	}

	return db
}

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return &Service{
		db:    db,
		log:   zap.NewNop(),
		genID: node,
		repo:  repository.Provide(),
	}
}

func seedBalance(t *testing.T, db *gorm.DB, accountID snowflake.ID, total, used int64) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO balances (account_id, total, used, remaining, updated_at) VALUES (?, ?, ?, ?, ?)`,
		accountID, total, used, total-used, time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed balance: %v", err)
	}
}

func entryCount(t *testing.T, db *gorm.DB, accountID snowflake.ID, kind string) int64 {
	t.Helper()
	var count int64
	if err := db.Raw(
		`SELECT COUNT(*) FROM ledger_entries WHERE account_id = ? AND kind = ?`,
		accountID, kind,
	).Scan(&count).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	return count
}

func TestCredit_Purchase(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	accountID := snowflake.ID(1001)
	seedBalance(t, db, accountID, 0, 0)

	balance, err := svc.Credit(context.Background(), nil, accountID, 5, domain.KindPurchase, "order:1")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if balance.Total != 5 || balance.Used != 0 || balance.Remaining != 5 {
		t.Fatalf("unexpected balance after credit: %+v", balance)
	}
	if got := entryCount(t, db, accountID, domain.KindPurchase); got != 1 {
		t.Fatalf("expected 1 purchase entry, got %d", got)
	}
}

func TestCredit_RefundRestoresSpentCredits(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	accountID := snowflake.ID(1002)
	seedBalance(t, db, accountID, 5, 3)

	balance, err := svc.Credit(context.Background(), nil, accountID, 1, domain.KindRefund, "report:9")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if balance.Total != 5 || balance.Used != 2 || balance.Remaining != 3 {
		t.Fatalf("unexpected balance after refund: %+v", balance)
	}
	if got := entryCount(t, db, accountID, domain.KindRefund); got != 1 {
		t.Fatalf("expected 1 refund entry, got %d", got)
	}
}

func TestCredit_InvalidAmount(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	seedBalance(t, db, 1003, 0, 0)

	if _, err := svc.Credit(context.Background(), nil, 1003, 0, domain.KindPurchase, ""); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.Credit(context.Background(), nil, 1003, 5, domain.KindUsage, ""); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for usage kind, got %v", err)
	}
}

func TestDebit_ChargesAndRecordsUsage(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	accountID := snowflake.ID(1004)
	seedBalance(t, db, accountID, 3, 0)

	balance, err := svc.Debit(context.Background(), nil, accountID, 1, "report:1")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if balance.Total != 3 || balance.Used != 1 || balance.Remaining != 2 {
		t.Fatalf("unexpected balance after debit: %+v", balance)
	}
	if got := entryCount(t, db, accountID, domain.KindUsage); got != 1 {
		t.Fatalf("expected 1 usage entry, got %d", got)
	}

	var delta int64
	if err := db.Raw(
		`SELECT delta FROM ledger_entries WHERE account_id = ? AND kind = ?`,
		accountID, domain.KindUsage,
	).Scan(&delta).Error; err != nil {
		t.Fatalf("read delta: %v", err)
	}
	if delta != -1 {
		t.Fatalf("expected usage delta -1, got %d", delta)
	}
}

func TestDebit_InsufficientBalance(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	accountID := snowflake.ID(1005)
	seedBalance(t, db, accountID, 1, 1)

	_, err := svc.Debit(context.Background(), nil, accountID, 1, "report:2")
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	balance, err := svc.GetBalance(context.Background(), accountID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.Remaining != 0 || balance.Used != 1 {
		t.Fatalf("failed debit must leave the row untouched: %+v", balance)
	}
	if got := entryCount(t, db, accountID, domain.KindUsage); got != 0 {
		t.Fatalf("failed debit must not write a ledger entry, got %d", got)
	}
}

func TestDebit_UnknownAccount(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)

	_, err := svc.Debit(context.Background(), nil, 9999, 1, "report:3")
	if !errors.Is(err, domain.ErrBalanceNotFound) {
		t.Fatalf("expected ErrBalanceNotFound, got %v", err)
	}
}

func TestDebit_ConcurrentLastCredit(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	accountID := snowflake.ID(1006)
	seedBalance(t, db, accountID, 1, 0)

	const workers = 4
	errs := make([]error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Debit(context.Background(), nil, accountID, 1, "report:race")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientBalance):
		default:
			t.Fatalf("unexpected debit error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("exactly one debit should win the last credit, got %d", succeeded)
	}

	balance, err := svc.GetBalance(context.Background(), accountID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.Remaining != 0 || balance.Used != 1 || balance.Total != 1 {
		t.Fatalf("unexpected final balance: %+v", balance)
	}
	if got := entryCount(t, db, accountID, domain.KindUsage); got != 1 {
		t.Fatalf("expected exactly 1 usage entry, got %d", got)
	}
}

func TestListEntries_FiltersByKind(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	accountID := snowflake.ID(1007)
	seedBalance(t, db, accountID, 0, 0)

	if _, err := svc.Credit(context.Background(), nil, accountID, 5, domain.KindPurchase, "order:1"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := svc.Debit(context.Background(), nil, accountID, 2, "report:1"); err != nil {
		t.Fatalf("debit: %v", err)
	}

	all, err := svc.ListEntries(context.Background(), domain.ListEntriesFilter{AccountID: accountID})
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}

	usage, err := svc.ListEntries(context.Background(), domain.ListEntriesFilter{
		AccountID: accountID,
		Kind:      domain.KindUsage,
	})
	if err != nil {
		t.Fatalf("list usage entries: %v", err)
	}
	if len(usage) != 1 || usage[0].Delta != -2 {
		t.Fatalf("unexpected usage entries: %+v", usage)
	}
}
