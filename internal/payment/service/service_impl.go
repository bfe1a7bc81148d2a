package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/gridleaf/cellgauge/internal/audit/domain"
	ledgerdomain "github.com/gridleaf/cellgauge/internal/ledger/domain"
	obsmetrics "github.com/gridleaf/cellgauge/internal/observability/metrics"
	orderdomain "github.com/gridleaf/cellgauge/internal/order/domain"
	paymentdomain "github.com/gridleaf/cellgauge/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	LedgerSvc  ledgerdomain.Service
	AuditSvc   auditdomain.Service
	Repo       paymentdomain.Repository
	OrderRepo  orderdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	ledgerSvc  ledgerdomain.Service
	auditSvc   auditdomain.Service
	repo       paymentdomain.Repository
	orderRepo  orderdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		ledgerSvc:  p.LedgerSvc,
		auditSvc:   p.AuditSvc,
		repo:       p.Repo,
		orderRepo:  p.OrderRepo,
		obsMetrics: p.ObsMetrics,
	}
}

// ProcessEvent settles a verified, parsed gateway event against the
// local order. Every path that is not an internal failure ends in an
// ack so the gateway stops redelivering.
func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent, payload []byte) error {
	if err := validateEvent(event); err != nil {
		return err
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	now := time.Now().UTC()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		GatewayOrderID:  event.GatewayOrderID,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			// Redelivery of an already settled event.
			return nil
		}
	}

	if err := s.settle(ctx, stored, event); err != nil {
		return err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, time.Now().UTC()); err != nil {
		return err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, event.Provider, event.Type)
	}
	return nil
}

func validateEvent(event *paymentdomain.PaymentEvent) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	if event.ProviderEventID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	event.GatewayOrderID = strings.TrimSpace(event.GatewayOrderID)
	if event.GatewayOrderID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		if event.Amount <= 0 {
			return paymentdomain.ErrInvalidAmount
		}
	case paymentdomain.EventTypePaymentFailed:
	default:
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}

func (s *Service) settle(ctx context.Context, stored *paymentdomain.EventRecord, event *paymentdomain.PaymentEvent) error {
	order, err := s.orderRepo.FindByGatewayOrderID(ctx, s.db, event.GatewayOrderID)
	if err != nil {
		return err
	}
	if order == nil {
		s.log.Warn("payment event references unknown order",
			zap.String("provider", event.Provider),
			zap.String("gateway_order_id", event.GatewayOrderID),
		)
		s.writeAnomaly(ctx, nil, "payment.order_missing", stored, event, nil)
		return nil
	}

	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		return s.settlePaid(ctx, stored, event, order)
	case paymentdomain.EventTypePaymentFailed:
		return s.settleFailed(ctx, stored, event, order)
	default:
		return paymentdomain.ErrInvalidEvent
	}
}

func (s *Service) settlePaid(ctx context.Context, stored *paymentdomain.EventRecord, event *paymentdomain.PaymentEvent, order *orderdomain.Order) error {
	if event.Amount != order.AmountMinor {
		s.log.Warn("payment amount does not match order",
			zap.String("gateway_order_id", event.GatewayOrderID),
			zap.Int64("event_amount", event.Amount),
			zap.Int64("order_amount", order.AmountMinor),
		)
		s.writeAnomaly(ctx, &order.AccountID, "payment.amount_mismatch", stored, event, map[string]any{
			"order_amount_minor": order.AmountMinor,
		})
		return nil
	}

	var credited bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, err := s.orderRepo.MarkPaid(ctx, tx, order.ID, event.GatewayPaymentID, time.Now().UTC())
		if err != nil {
			return err
		}
		if !won {
			// Another delivery already moved the order out of created.
			return nil
		}
		credited = true
		_, err = s.ledgerSvc.Credit(ctx, tx, order.AccountID, order.CreditsGranted, ledgerdomain.KindPurchase, "order:"+order.ID.String())
		return err
	})
	if err != nil {
		return err
	}

	if credited && s.auditSvc != nil {
		targetID := order.ID.String()
		_ = s.auditSvc.AuditLog(ctx, &order.AccountID, "payment.captured", "order", &targetID, map[string]any{
			"provider":           event.Provider,
			"provider_event_id":  event.ProviderEventID,
			"gateway_order_id":   event.GatewayOrderID,
			"gateway_payment_id": event.GatewayPaymentID,
			"amount_minor":       event.Amount,
			"currency":           event.Currency,
			"credits_granted":    order.CreditsGranted,
		})
	}
	return nil
}

func (s *Service) settleFailed(ctx context.Context, stored *paymentdomain.EventRecord, event *paymentdomain.PaymentEvent, order *orderdomain.Order) error {
	won, err := s.orderRepo.MarkFailed(ctx, s.db, order.ID, event.GatewayPaymentID, time.Now().UTC())
	if err != nil {
		return err
	}
	if won && s.auditSvc != nil {
		targetID := order.ID.String()
		_ = s.auditSvc.AuditLog(ctx, &order.AccountID, "payment.failed", "order", &targetID, map[string]any{
			"provider":          event.Provider,
			"provider_event_id": event.ProviderEventID,
			"gateway_order_id":  event.GatewayOrderID,
			"failure_reason":    event.FailureReason,
		})
	}
	return nil
}

func (s *Service) writeAnomaly(ctx context.Context, accountID *snowflake.ID, action string, stored *paymentdomain.EventRecord, event *paymentdomain.PaymentEvent, extra map[string]any) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"provider":          event.Provider,
		"provider_event_id": event.ProviderEventID,
		"gateway_order_id":  event.GatewayOrderID,
		"event_type":        event.Type,
		"amount_minor":      event.Amount,
		"payment_event_id":  stored.ID.String(),
	}
	for key, value := range extra {
		metadata[key] = value
	}
	targetID := event.GatewayOrderID
	if err := s.auditSvc.AuditLog(ctx, accountID, action, "payment_event", &targetID, metadata); err != nil {
		s.log.Warn("failed to write payment anomaly", zap.String("action", action), zap.Error(err))
	}
}
