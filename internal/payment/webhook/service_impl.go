package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gridleaf/cellgauge/internal/config"
	"github.com/gridleaf/cellgauge/internal/payment/adapters"
	paymentdomain "github.com/gridleaf/cellgauge/internal/payment/domain"
	paymentservice "github.com/gridleaf/cellgauge/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	PaymentSvc *paymentservice.Service
	Adapters   *adapters.Registry
	Cfg        config.Config
}

type Service struct {
	log           *zap.Logger
	paymentSvc    *paymentservice.Service
	adapters      *adapters.Registry
	webhookSecret string
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		log:           p.Log.Named("payment.webhook"),
		paymentSvc:    p.PaymentSvc,
		adapters:      p.Adapters,
		webhookSecret: strings.TrimSpace(p.Cfg.Gateway.WebhookSecret),
	}
}

// IngestWebhook verifies the delivery against the raw body, parses it
// into the canonical event, and hands it to settlement. Ignored event
// types ack without side effects.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	adapter, err := s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
		Provider:      provider,
		WebhookSecret: s.webhookSecret,
	})
	if err != nil {
		return err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature rejected", zap.String("provider", provider))
		return err
	}

	event, err := adapter.Parse(ctx, payload, headers)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return nil
		}
		return err
	}

	if event.RawPayload == nil {
		event.RawPayload = payload
	}
	if s.paymentSvc == nil {
		return errors.New("payment_service_unavailable")
	}
	return s.paymentSvc.ProcessEvent(ctx, event, payload)
}
