package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/gridleaf/cellgauge/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "razorpay"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{webhookSecret: secret}, nil
}

type Adapter struct {
	webhookSecret string
}

// Verify checks the hex-encoded HMAC-SHA256 of the raw body carried in
// X-Razorpay-Signature. The body must be the exact bytes received.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get("X-Razorpay-Signature"))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.PaymentEvent, error) {
	var event razorpayEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	var eventType string
	switch strings.TrimSpace(event.Event) {
	case "payment.captured":
		eventType = paymentdomain.EventTypePaymentSucceeded
	case "payment.failed":
		eventType = paymentdomain.EventTypePaymentFailed
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	entity := event.Payload.Payment.Entity
	if strings.TrimSpace(entity.ID) == "" || strings.TrimSpace(entity.OrderID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	// The body carries no event id; the delivery id rides in a header.
	// Fall back to a payment-scoped key so redelivery still dedupes.
	eventID := strings.TrimSpace(headers.Get("X-Razorpay-Event-Id"))
	if eventID == "" {
		eventID = event.Event + ":" + entity.ID
	}

	occurredAt := time.Unix(entity.CreatedAt, 0).UTC()
	if entity.CreatedAt == 0 {
		occurredAt = time.Unix(event.CreatedAt, 0).UTC()
	}
	if occurredAt.IsZero() || occurredAt.Unix() == 0 {
		occurredAt = time.Now().UTC()
	}

	return &paymentdomain.PaymentEvent{
		Provider:         "razorpay",
		ProviderEventID:  eventID,
		GatewayPaymentID: entity.ID,
		GatewayOrderID:   entity.OrderID,
		Type:             eventType,
		Amount:           entity.Amount,
		Currency:         strings.ToUpper(strings.TrimSpace(entity.Currency)),
		FailureReason:    strings.TrimSpace(entity.ErrorCode),
		OccurredAt:       occurredAt,
		RawPayload:       payload,
	}, nil
}

type razorpayEvent struct {
	Event     string          `json:"event"`
	CreatedAt int64           `json:"created_at"`
	Payload   razorpayPayload `json:"payload"`
}

type razorpayPayload struct {
	Payment razorpayPaymentWrapper `json:"payment"`
}

type razorpayPaymentWrapper struct {
	Entity razorpayPayment `json:"entity"`
}

type razorpayPayment struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	CreatedAt int64  `json:"created_at"`
}
