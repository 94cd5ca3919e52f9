package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/mercatopro/mercato/internal/account"
	"github.com/mercatopro/mercato/internal/clock"
	"github.com/mercatopro/mercato/internal/config"
	"github.com/mercatopro/mercato/internal/drawing"
	"github.com/mercatopro/mercato/internal/lottery"
	"github.com/mercatopro/mercato/internal/migration"
	"github.com/mercatopro/mercato/internal/notification"
	"github.com/mercatopro/mercato/internal/observability"
	"github.com/mercatopro/mercato/internal/payment"
	"github.com/mercatopro/mercato/internal/ratelimit"
	"github.com/mercatopro/mercato/internal/server"
	"github.com/mercatopro/mercato/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		account.Module,
		lottery.Module,
		payment.Module,
		notification.Module,
		drawing.Module,
		ratelimit.Module,

		// HTTP surface
		server.Module,
	)
	app.Run()
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
