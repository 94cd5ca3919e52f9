package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/mercatopro/mercato/internal/config"
	lotterydomain "github.com/mercatopro/mercato/internal/lottery/domain"
	obslogger "github.com/mercatopro/mercato/internal/observability/logger"
	obsmetrics "github.com/mercatopro/mercato/internal/observability/metrics"
	obstracing "github.com/mercatopro/mercato/internal/observability/tracing"
	paymentdomain "github.com/mercatopro/mercato/internal/payment/domain"
	"github.com/mercatopro/mercato/internal/payment/ipn"
	"github.com/mercatopro/mercato/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, metrics *obsmetrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware())
	r.Use(obstracing.GinMiddleware(cfg.AppName))
	r.Use(metrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.Handler())

	return r
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	genID      *snowflake.Node
	lotterySvc lotterydomain.Service
	paymentSvc paymentdomain.Service
	refundSvc  paymentdomain.RefundService
	ipnSvc     *ipn.Service
	limiter    *ratelimit.RequestLimiter
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	GenID      *snowflake.Node
	LotterySvc lotterydomain.Service
	PaymentSvc paymentdomain.Service
	RefundSvc  paymentdomain.RefundService
	IPNSvc     *ipn.Service
	Limiter    *ratelimit.RequestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		genID:      p.GenID,
		lotterySvc: p.LotterySvc,
		paymentSvc: p.PaymentSvc,
		refundSvc:  p.RefundSvc,
		ipnSvc:     p.IPNSvc,
		limiter:    p.Limiter,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	// -------- Lotteries --------
	api.GET("/lotteries", s.ListLotteries)
	api.GET("/lotteries/:id", s.GetLotteryByID)
	api.POST("/lotteries", s.UserRequired(), s.CreateLottery)
	api.POST("/lotteries/:id/activate", s.UserRequired(), s.ActivateLottery)
	api.POST("/lotteries/:id/cancel", s.UserRequired(), s.CancelLottery)

	// -------- Checkout --------
	api.POST("/checkout", s.UserRequired(), s.CheckoutRateLimit(), s.CreateCheckout)
	api.POST("/checkout/capture", s.UserRequired(), s.CaptureCheckout)
	api.POST("/checkout/cancel", s.UserRequired(), s.CancelCheckout)

	// -------- Payments --------
	api.GET("/payments", s.UserRequired(), s.ListPayments)
	api.GET("/payments/summary", s.UserRequired(), s.GetPaymentSummary)
	api.GET("/refunds/failed", s.UserRequired(), s.ListFailedRefunds)
}

func (s *Server) registerWebhookRoutes() {
	// Trailing slash kept for provider compatibility; the IPN URL is
	// registered verbatim at the gateway.
	s.engine.POST("/payments/paypal/ipn/", s.IPNRateLimit(), s.HandlePayPalIPN)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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
