package notification

import (
	"github.com/mercatopro/mercato/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(provideProvider),
	fx.Provide(NewNotifier),
)

// provideProvider returns nil when SMTP is not configured; the notifier
// degrades to a no-op.
func provideProvider(cfg config.Config, log *zap.Logger) Provider {
	if cfg.SMTP.Host == "" {
		log.Named("notification").Info("smtp not configured, notifications disabled")
		return nil
	}
	return NewSMTP(SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
}
