package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/gridleaf/cellgauge/internal/audit/domain"
	"github.com/gridleaf/cellgauge/internal/config"
	ledgerrepository "github.com/gridleaf/cellgauge/internal/ledger/repository"
	ledgerservice "github.com/gridleaf/cellgauge/internal/ledger/service"
	orderrepository "github.com/gridleaf/cellgauge/internal/order/repository"
	"github.com/gridleaf/cellgauge/internal/payment/adapters"
	"github.com/gridleaf/cellgauge/internal/payment/adapters/razorpay"
	paymentdomain "github.com/gridleaf/cellgauge/internal/payment/domain"
	paymentrepository "github.com/gridleaf/cellgauge/internal/payment/repository"
	paymentservice "github.com/gridleaf/cellgauge/internal/payment/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "whsec_ingest"

var testDBSeq int

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testDBSeq++
	dsn := fmt.Sprintf("file:webhook_test_%d?mode=memory&cache=shared", testDBSeq)
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

	schemas := []string{
		`CREATE TABLE payment_events (
			id INTEGER PRIMARY KEY,
			provider TEXT NOT NULL,
			provider_event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			gateway_order_id TEXT NOT NULL,
			payload TEXT,
			received_at DATETIME,
			processed_at DATETIME,
			UNIQUE (provider, provider_event_id)
		)`,
		`CREATE TABLE orders (
			id INTEGER PRIMARY KEY,
			account_id INTEGER NOT NULL,
			pack_id TEXT NOT NULL,
			gateway_order_id TEXT NOT NULL UNIQUE,
			gateway_payment_id TEXT,
			amount_minor INTEGER NOT NULL,
			currency TEXT NOT NULL,
			credits_granted INTEGER NOT NULL,
			status TEXT NOT NULL,
			processed_at DATETIME,
			created_at DATETIME
		)`,
		`CREATE TABLE balances (
			account_id INTEGER PRIMARY KEY,
			total INTEGER NOT NULL DEFAULT 0,
			used INTEGER NOT NULL DEFAULT 0,
			remaining INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME
		)`,
		`CREATE TABLE ledger_entries (
			id INTEGER PRIMARY KEY,
			account_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			delta INTEGER NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_at DATETIME
		)`,
	}
	for _, schema := range schemas {
		if err := db.Exec(schema).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	return db
}

type mockAudit struct{}

func (mockAudit) AuditLog(ctx context.Context, accountID *snowflake.ID, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

func (mockAudit) List(ctx context.Context, filter auditdomain.ListFilter) ([]auditdomain.AuditLog, error) {
	return nil, nil
}

func newTestService(t *testing.T) (paymentdomain.Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	node, err := snowflake.NewNode(5)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	ledgerSvc := ledgerservice.New(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  ledgerrepository.Provide(),
	})
	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		LedgerSvc: ledgerSvc,
		AuditSvc:  mockAudit{},
		Repo:      paymentrepository.Provide(),
		OrderRepo: orderrepository.Provide(),
	})
	svc := NewService(Params{
		Log:        zap.NewNop(),
		PaymentSvc: paymentSvc,
		Adapters:   adapters.NewRegistry(razorpay.NewFactory()),
		Cfg: config.Config{
			Gateway: config.GatewayConfig{WebhookSecret: testSecret},
		},
	})
	return svc, db
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func signedHeaders(body []byte, eventID string) http.Header {
	headers := http.Header{}
	headers.Set("X-Razorpay-Signature", sign(body))
	if eventID != "" {
		headers.Set("X-Razorpay-Event-Id", eventID)
	}
	return headers
}

func seedOrder(t *testing.T, db *gorm.DB, orderID, accountID snowflake.ID, gatewayOrderID string, amountMinor, credits int64) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO orders (id, account_id, pack_id, gateway_order_id, amount_minor, currency, credits_granted, status, created_at)
		 VALUES (?, ?, 'starter', ?, ?, 'INR', ?, 'created', ?)`,
		orderID, accountID, gatewayOrderID, amountMinor, credits, time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if err := db.Exec(
		`INSERT INTO balances (account_id, total, used, remaining, updated_at) VALUES (?, 0, 0, 0, ?)`,
		accountID, time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed balance: %v", err)
	}
}

func capturedBody(gatewayOrderID string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{
		"event": "payment.captured",
		"payload": {
			"payment": {
				"entity": {"id": "pay_w1", "order_id": "%s", "amount": %d, "currency": "INR", "status": "captured"}
			}
		}
	}`, gatewayOrderID, amount))
}

func TestIngestWebhook_SettlesOrder(t *testing.T) {
	svc, db := newTestService(t)
	seedOrder(t, db, 701, 401, "order_w1", 49900, 50)

	body := capturedBody("order_w1", 49900)
	if err := svc.IngestWebhook(context.Background(), "razorpay", body, signedHeaders(body, "evt_w1")); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	var status string
	if err := db.Raw(`SELECT status FROM orders WHERE id = 701`).Scan(&status).Error; err != nil {
		t.Fatalf("read order: %v", err)
	}
	if status != "paid" {
		t.Fatalf("expected paid order, got %q", status)
	}

	var remaining int64
	if err := db.Raw(`SELECT remaining FROM balances WHERE account_id = 401`).Scan(&remaining).Error; err != nil {
		t.Fatalf("read balance: %v", err)
	}
	if remaining != 50 {
		t.Fatalf("expected 50 credits, got %d", remaining)
	}
}

func TestIngestWebhook_RejectsBadSignature(t *testing.T) {
	svc, db := newTestService(t)
	seedOrder(t, db, 702, 402, "order_w2", 49900, 50)

	body := capturedBody("order_w2", 49900)
	headers := http.Header{}
	headers.Set("X-Razorpay-Signature", "deadbeef")

	err := svc.IngestWebhook(context.Background(), "razorpay", body, headers)
	if !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	var status string
	if err := db.Raw(`SELECT status FROM orders WHERE id = 702`).Scan(&status).Error; err != nil {
		t.Fatalf("read order: %v", err)
	}
	if status != "created" {
		t.Fatalf("unverified delivery must not settle, got %q", status)
	}
}

func TestIngestWebhook_UnknownProvider(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.IngestWebhook(context.Background(), "stripe", []byte(`{}`), http.Header{})
	if !errors.Is(err, paymentdomain.ErrProviderNotFound) {
		t.Fatalf("expected ErrProviderNotFound, got %v", err)
	}
}

func TestIngestWebhook_IgnoredEventAcks(t *testing.T) {
	svc, _ := newTestService(t)

	body := []byte(`{"event": "order.paid", "payload": {"payment": {"entity": {"id": "p", "order_id": "o"}}}}`)
	if err := svc.IngestWebhook(context.Background(), "razorpay", body, signedHeaders(body, "")); err != nil {
		t.Fatalf("ignored event must ack, got %v", err)
	}
}

func TestIngestWebhook_MalformedBody(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.IngestWebhook(context.Background(), "razorpay", []byte(`{`), http.Header{})
	if !errors.Is(err, paymentdomain.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}
