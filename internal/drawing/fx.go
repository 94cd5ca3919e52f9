package drawing

import (
	"context"
	"time"

	"github.com/mercatopro/mercato/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("drawing",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(runScheduler),
)

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Interval:          time.Duration(cfg.Drawing.IntervalSec) * time.Second,
		BatchSize:         cfg.Drawing.BatchSize,
		PendingRetryAfter: time.Duration(cfg.Drawing.PendingRetryMinutes) * time.Minute,
	}
}

func runScheduler(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			runCtx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(runCtx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}
