package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	accountdomain "github.com/gridleaf/cellgauge/internal/account/domain"
	"github.com/gridleaf/cellgauge/internal/auth"
	"github.com/gridleaf/cellgauge/internal/config"
	ledgerdomain "github.com/gridleaf/cellgauge/internal/ledger/domain"
	orderdomain "github.com/gridleaf/cellgauge/internal/order/domain"
	paymentdomain "github.com/gridleaf/cellgauge/internal/payment/domain"
	reportdomain "github.com/gridleaf/cellgauge/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	verifier   *auth.Verifier
	pricing    *config.PricingConfigHolder
	accountSvc accountdomain.Service
	ledgerSvc  ledgerdomain.Service
	orderSvc   orderdomain.Service
	reportSvc  reportdomain.Service
	webhookSvc paymentdomain.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	Verifier   *auth.Verifier
	Pricing    *config.PricingConfigHolder
	AccountSvc accountdomain.Service
	LedgerSvc  ledgerdomain.Service
	OrderSvc   orderdomain.Service
	ReportSvc  reportdomain.Service
	WebhookSvc paymentdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		verifier:   p.Verifier,
		pricing:    p.Pricing,
		accountSvc: p.AccountSvc,
		ledgerSvc:  p.LedgerSvc,
		orderSvc:   p.OrderSvc,
		reportSvc:  p.ReportSvc,
		webhookSvc: p.WebhookSvc,
	}

	svc.registerRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	v1.GET("/packs", s.ListPacks)
	v1.POST("/webhooks/payment/:provider", s.HandlePaymentWebhook)

	authed := v1.Group("", s.AuthRequired())
	{
		authed.POST("/reports", s.GenerateReport)
		authed.GET("/reports", s.ListReports)
		authed.GET("/reports/:id", s.GetReport)

		authed.GET("/balance", s.GetBalance)
		authed.GET("/ledger", s.ListLedgerEntries)

		authed.POST("/orders", s.CreateOrder)
		authed.GET("/orders", s.ListOrders)
		authed.GET("/orders/:id", s.GetOrder)
	}
}
