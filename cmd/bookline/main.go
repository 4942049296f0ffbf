package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/bookline-app/bookline/internal/booking"
	"github.com/bookline-app/bookline/internal/clock"
	"github.com/bookline-app/bookline/internal/company"
	"github.com/bookline-app/bookline/internal/config"
	"github.com/bookline-app/bookline/internal/extracharge"
	"github.com/bookline-app/bookline/internal/gateway"
	"github.com/bookline-app/bookline/internal/lock"
	"github.com/bookline-app/bookline/internal/migration"
	"github.com/bookline-app/bookline/internal/notify"
	"github.com/bookline-app/bookline/internal/observability"
	"github.com/bookline-app/bookline/internal/payment"
	"github.com/bookline-app/bookline/internal/providers"
	"github.com/bookline-app/bookline/internal/ratelimit"
	"github.com/bookline-app/bookline/internal/scheduler"
	"github.com/bookline-app/bookline/internal/server"
	"github.com/bookline-app/bookline/internal/subscription"
	"github.com/bookline-app/bookline/pkg/db"
	"github.com/bookline-app/bookline/pkg/log"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,
		migration.Module,

		gateway.Module,
		providers.Module,
		notify.Module,
		booking.Module,
		company.Module,
		payment.Module,
		extracharge.Module,
		subscription.Module,
		scheduler.Module,

		ratelimit.Module,
		server.Module,
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
