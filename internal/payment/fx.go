package payment

import (
	"time"

	"github.com/mercatopro/mercato/internal/config"
	"github.com/mercatopro/mercato/internal/payment/gateway"
	"github.com/mercatopro/mercato/internal/payment/gateway/paypal"
	"github.com/mercatopro/mercato/internal/payment/ipn"
	"github.com/mercatopro/mercato/internal/payment/refund"
	"github.com/mercatopro/mercato/internal/payment/repository"
	paymentservice "github.com/mercatopro/mercato/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(provideGateway),
	fx.Provide(paymentservice.NewService),
	fx.Provide(refund.NewService),
	fx.Provide(ipn.NewService),
)

func provideGateway(cfg config.Config, log *zap.Logger) (gateway.Gateway, error) {
	return paypal.New(paypal.Config{
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		WebhookID:    cfg.PayPal.WebhookID,
		Sandbox:      cfg.PayPal.Sandbox,
		Timeout:      time.Duration(cfg.PayPal.TimeoutSec) * time.Second,
	}, log)
}
