package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gridleaf/cellgauge/internal/config"
	paymentdomain "github.com/gridleaf/cellgauge/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Order is the gateway's view of a purchase awaiting capture.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// Client creates orders against the payment gateway's REST API.
type Client interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*Order, error)
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

type client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
	log        *zap.Logger
}

func New(p Params) Client {
	return &client{
		baseURL:    strings.TrimRight(p.Cfg.Gateway.BaseURL, "/"),
		keyID:      p.Cfg.Gateway.KeyID,
		keySecret:  p.Cfg.Gateway.KeySecret,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        p.Log.Named("payment.gateway"),
	}
}

type createOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

func (c *client) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*Order, error) {
	if amountMinor <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	body, err := json.Marshal(createOrderRequest{
		Amount:   amountMinor,
		Currency: strings.ToUpper(strings.TrimSpace(currency)),
		Receipt:  receipt,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("gateway order create failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrGatewayFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrGatewayFailure, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn("gateway order create rejected",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw),
		)
		return nil, fmt.Errorf("%w: status %d", paymentdomain.ErrGatewayFailure, resp.StatusCode)
	}

	var order Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrGatewayFailure, err)
	}
	if strings.TrimSpace(order.ID) == "" {
		return nil, fmt.Errorf("%w: empty order id", paymentdomain.ErrGatewayFailure)
	}
	return &order, nil
}
