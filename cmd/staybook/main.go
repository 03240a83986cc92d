package main

import (
	_ "time/tzdata"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/staybook/internal/auth/local"
	"github.com/smallbiznis/staybook/internal/auth/session"
	"github.com/smallbiznis/staybook/internal/authorization"
	"github.com/smallbiznis/staybook/internal/booking"
	"github.com/smallbiznis/staybook/internal/cache"
	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/smallbiznis/staybook/internal/config"
	"github.com/smallbiznis/staybook/internal/jobqueue"
	"github.com/smallbiznis/staybook/internal/jobqueue/handlers"
	"github.com/smallbiznis/staybook/internal/lock"
	"github.com/smallbiznis/staybook/internal/migration"
	"github.com/smallbiznis/staybook/internal/observability"
	"github.com/smallbiznis/staybook/internal/otp"
	"github.com/smallbiznis/staybook/internal/outbox"
	"github.com/smallbiznis/staybook/internal/payment"
	"github.com/smallbiznis/staybook/internal/providers/email"
	"github.com/smallbiznis/staybook/internal/ratelimit"
	"github.com/smallbiznis/staybook/internal/report"
	"github.com/smallbiznis/staybook/internal/room"
	"github.com/smallbiznis/staybook/internal/scheduler"
	"github.com/smallbiznis/staybook/internal/server"
	"github.com/smallbiznis/staybook/internal/user"
	"github.com/smallbiznis/staybook/pkg/db"
	"go.uber.org/fx"
)

// APP_MODE picks the role of the process: monolith, api or scheduler.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,
		lock.Module,
		email.Module,

		// Functional Domains
		room.Module,
		booking.Module,
		outbox.Module,
		payment.Module,
		otp.Module,
		ratelimit.Module,
		user.Module,
		session.Module,
		local.Module,
		authorization.Module,
		report.Module,

		// Background work
		jobqueue.Module,
		handlers.Module,
		jobqueue.WorkerModule,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
