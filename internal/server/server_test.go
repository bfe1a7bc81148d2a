package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/gridleaf/cellgauge/internal/account/domain"
	"github.com/gridleaf/cellgauge/internal/auth"
	ledgerdomain "github.com/gridleaf/cellgauge/internal/ledger/domain"
	orderdomain "github.com/gridleaf/cellgauge/internal/order/domain"
	paymentdomain "github.com/gridleaf/cellgauge/internal/payment/domain"
	reportdomain "github.com/gridleaf/cellgauge/internal/report/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubWebhookSvc struct {
	err      error
	provider string
	payload  []byte
}

func (s *stubWebhookSvc) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	s.provider = provider
	s.payload = payload
	return s.err
}

func newTestServer(t *testing.T, webhookSvc paymentdomain.Service) *Server {
	t.Helper()
	srv := &Server{
		engine:     NewEngine(zap.NewNop()),
		log:        zap.NewNop(),
		webhookSvc: webhookSvc,
	}
	srv.registerRoutes()
	return srv
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"unauthenticated", auth.ErrUnauthenticated, http.StatusUnauthorized, "unauthorized"},
		{"bad signature", paymentdomain.ErrInvalidSignature, http.StatusUnauthorized, "unauthorized"},
		{"insufficient balance", ledgerdomain.ErrInsufficientBalance, http.StatusPaymentRequired, "insufficient_balance"},
		{"invalid device", reportdomain.ErrInvalidDevice, http.StatusBadRequest, "validation_error"},
		{"invalid pack", orderdomain.ErrInvalidPack, http.StatusBadRequest, "validation_error"},
		{"invalid subject", accountdomain.ErrInvalidSubject, http.StatusBadRequest, "validation_error"},
		{"invalid payload", paymentdomain.ErrInvalidPayload, http.StatusBadRequest, "validation_error"},
		{"account not found", accountdomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{"report not found", reportdomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{"provider not found", paymentdomain.ErrProviderNotFound, http.StatusNotFound, "not_found"},
		{"record not found", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{"upstream failed", reportdomain.ErrUpstreamFailed, http.StatusBadGateway, "upstream_failure"},
		{"gateway failure", paymentdomain.ErrGatewayFailure, http.StatusBadGateway, "upstream_failure"},
		{"deadline", reportdomain.ErrDeadline, http.StatusGatewayTimeout, "deadline_exceeded"},
		{"ledger drift", ledgerdomain.ErrLedgerDrift, http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			if status != tc.wantStatus {
				t.Fatalf("status: want %d, got %d", tc.wantStatus, status)
			}
			if payload.Type != tc.wantType {
				t.Fatalf("type: want %q, got %q", tc.wantType, payload.Type)
			}
		})
	}
}

func TestHandlePaymentWebhook_OK(t *testing.T) {
	stub := &stubWebhookSvc{}
	srv := newTestServer(t, stub)

	body := `{"event":"payment.captured"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment/razorpay", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if stub.provider != "razorpay" {
		t.Fatalf("unexpected provider %q", stub.provider)
	}
	if string(stub.payload) != body {
		t.Fatalf("handler must pass the raw body through, got %q", stub.payload)
	}
}

func TestHandlePaymentWebhook_BadSignature(t *testing.T) {
	srv := newTestServer(t, &stubWebhookSvc{err: paymentdomain.ErrInvalidSignature})

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment/razorpay", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandlePaymentWebhook_UnknownProvider(t *testing.T) {
	srv := newTestServer(t, &stubWebhookSvc{err: paymentdomain.ErrProviderNotFound})

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment/square", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAuthRequired_MissingBearer(t *testing.T) {
	srv := newTestServer(t, &stubWebhookSvc{})

	req := httptest.NewRequest(http.MethodGet, "/v1/balance", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestParsePagination(t *testing.T) {
	runWith := func(query string) (limit, offset int, err error) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/v1/ledger"+query, nil)
		return parsePagination(c)
	}

	limit, offset, err := runWith("")
	if err != nil || limit != 50 || offset != 0 {
		t.Fatalf("defaults: limit=%d offset=%d err=%v", limit, offset, err)
	}

	limit, offset, err = runWith("?limit=10&offset=20")
	if err != nil || limit != 10 || offset != 20 {
		t.Fatalf("explicit: limit=%d offset=%d err=%v", limit, offset, err)
	}

	if _, _, err := runWith("?limit=abc"); err == nil {
		t.Fatal("expected error for non-numeric limit")
	}
	if _, _, err := runWith("?offset=-1"); err == nil {
		t.Fatal("expected error for negative offset")
	}
}
