package lottery

import (
	"github.com/mercatopro/mercato/internal/lottery/repository"
	"github.com/mercatopro/mercato/internal/lottery/service"
	"go.uber.org/fx"
)

var Module = fx.Module("lottery.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
