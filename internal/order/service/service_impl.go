package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/gridleaf/cellgauge/internal/audit/domain"
	"github.com/gridleaf/cellgauge/internal/config"
	"github.com/gridleaf/cellgauge/internal/order/domain"
	"github.com/gridleaf/cellgauge/internal/payment/gateway"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Cfg      config.Config
	Pricing  *config.PricingConfigHolder
	Gateway  gateway.Client
	Repo     domain.Repository
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	currency string
	pricing  *config.PricingConfigHolder
	gateway  gateway.Client
	repo     domain.Repository
	auditSvc auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("order.service"),
		genID:    p.GenID,
		currency: p.Cfg.Gateway.Currency,
		pricing:  p.Pricing,
		gateway:  p.Gateway,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) CreatePurchase(ctx context.Context, accountID snowflake.ID, packID string) (domain.Order, error) {
	packID = strings.TrimSpace(packID)
	pack, ok := s.pricing.Lookup(packID)
	if !ok {
		return domain.Order{}, domain.ErrInvalidPack
	}

	orderID := s.genID.Generate()
	gatewayOrder, err := s.gateway.CreateOrder(ctx, pack.PriceMinorUnits, s.currency, orderID.String())
	if err != nil {
		s.log.Warn("gateway order creation failed",
			zap.String("account_id", accountID.String()),
			zap.String("pack_id", packID),
			zap.Error(err),
		)
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:             orderID,
		AccountID:      accountID,
		PackID:         pack.ID,
		GatewayOrderID: gatewayOrder.ID,
		AmountMinor:    pack.PriceMinorUnits,
		Currency:       s.currency,
		CreditsGranted: pack.Credits,
		Status:         domain.StatusCreated,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, s.db, &order); err != nil {
		return domain.Order{}, err
	}

	if s.auditSvc != nil {
		targetID := order.ID.String()
		_ = s.auditSvc.AuditLog(ctx, &accountID, "order.created", "order", &targetID, map[string]any{
			"pack_id":          pack.ID,
			"credits":          pack.Credits,
			"amount_minor":     pack.PriceMinorUnits,
			"currency":         s.currency,
			"gateway_order_id": gatewayOrder.ID,
		})
	}

	return order, nil
}

func (s *Service) Get(ctx context.Context, accountID, orderID snowflake.ID) (domain.Order, error) {
	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order == nil || order.AccountID != accountID {
		return domain.Order{}, domain.ErrNotFound
	}
	return *order, nil
}

func (s *Service) List(ctx context.Context, accountID snowflake.ID, limit, offset int) ([]domain.Order, error) {
	return s.repo.ListByAccount(ctx, s.db, accountID, limit, offset)
}
