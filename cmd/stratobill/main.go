package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/stratobill/stratobill/internal/apikey"
	"github.com/stratobill/stratobill/internal/audit"
	"github.com/stratobill/stratobill/internal/billing"
	"github.com/stratobill/stratobill/internal/clock"
	"github.com/stratobill/stratobill/internal/config"
	"github.com/stratobill/stratobill/internal/events"
	"github.com/stratobill/stratobill/internal/ledger"
	"github.com/stratobill/stratobill/internal/license"
	"github.com/stratobill/stratobill/internal/mailer"
	"github.com/stratobill/stratobill/internal/migration"
	"github.com/stratobill/stratobill/internal/notification"
	"github.com/stratobill/stratobill/internal/observability"
	"github.com/stratobill/stratobill/internal/queue"
	"github.com/stratobill/stratobill/internal/seed"
	"github.com/stratobill/stratobill/internal/server"
	"github.com/stratobill/stratobill/internal/usage"
	"github.com/stratobill/stratobill/internal/webhook"
	"github.com/stratobill/stratobill/internal/webhook/sweep"
	"github.com/stratobill/stratobill/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		billing.Module,
		events.Module,
		ledger.Module,
		audit.Module,
		usage.Module,
		queue.Module,
		mailer.Module,
		notification.Module,
		webhook.Module,
		sweep.Module,
		license.Module,
		apikey.Module,
		seed.Module,

		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Invoke(func(s *server.Server) {
			s.RegisterAPIRoutes()
		}),
		fx.Invoke(server.RunHTTP),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
