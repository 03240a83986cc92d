package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
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
	"github.com/smallbiznis/staybook/internal/report"
	"github.com/smallbiznis/staybook/internal/room"
	"github.com/smallbiznis/staybook/internal/scheduler"
	"github.com/smallbiznis/staybook/internal/user"
	userdomain "github.com/smallbiznis/staybook/internal/user/domain"
	"github.com/smallbiznis/staybook/pkg/db"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const stopTimeout = 10 * time.Second

func infraOptions() fx.Option {
	return fx.Options(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(func(cfg config.Config) (*snowflake.Node, error) {
			return snowflake.NewNode(cfg.NodeID)
		}),
		db.Module,
		clock.Module,
	)
}

// domainOptions builds the service graph without the HTTP server, the
// queue worker or the scheduler loops.
func domainOptions() fx.Option {
	return fx.Options(
		infraOptions(),
		cache.Module,
		lock.Module,
		email.Module,
		room.Module,
		booking.Module,
		outbox.Module,
		payment.Module,
		otp.Module,
		report.Module,
		jobqueue.Module,
		handlers.Module,
		fx.Provide(scheduler.ProvideConfig, scheduler.New),
	)
}

// withApp starts an fx app, runs fn and stops the app again.
func withApp(ctx context.Context, opts fx.Option, fn func(ctx context.Context) error) error {
	app := fx.New(opts)
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()
	return fn(ctx)
}

func runMigrateUp(ctx context.Context, cmd *cli.Command) error {
	var conn *gorm.DB
	return withApp(ctx, fx.Options(infraOptions(), fx.Populate(&conn)), func(context.Context) error {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := migration.RunMigrations(sqlDB); err != nil {
			return err
		}
		fmt.Fprintln(cmd.Root().Writer, "migrations applied")
		return nil
	})
}

func runMigrateDown(ctx context.Context, cmd *cli.Command, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	var conn *gorm.DB
	return withApp(ctx, fx.Options(infraOptions(), fx.Populate(&conn)), func(context.Context) error {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := migration.Rollback(sqlDB, steps); err != nil {
			return err
		}
		fmt.Fprintf(cmd.Root().Writer, "rolled back %d migration(s)\n", steps)
		return nil
	})
}

func runMigrateVersion(ctx context.Context, cmd *cli.Command) error {
	var conn *gorm.DB
	return withApp(ctx, fx.Options(infraOptions(), fx.Populate(&conn)), func(context.Context) error {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		version, dirty, err := migration.Version(sqlDB)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.Root().Writer, "version=%d dirty=%t\n", version, dirty)
		return nil
	})
}

func runJobOnce(ctx context.Context, job string) error {
	var sched *scheduler.Scheduler
	return withApp(ctx, fx.Options(domainOptions(), fx.Populate(&sched)), func(ctx context.Context) error {
		return sched.RunJob(ctx, job)
	})
}

func runQueueStats(ctx context.Context, cmd *cli.Command) error {
	var queue *jobqueue.Queue
	return withApp(ctx, fx.Options(infraOptions(), cache.Module, jobqueue.Module, fx.Populate(&queue)), func(ctx context.Context) error {
		stats, err := queue.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, stats)
	})
}

func runReportSend(ctx context.Context, cmd *cli.Command, rawDate string) error {
	var (
		cfg   config.Config
		clk   clock.Clock
		daily *report.DailyRevenue
	)
	opts := fx.Options(domainOptions(), fx.Populate(&cfg, &clk, &daily))
	return withApp(ctx, opts, func(ctx context.Context) error {
		loc, err := time.LoadLocation(cfg.Booking.Timezone)
		if err != nil {
			return err
		}
		day := clk.Now().In(loc)
		if rawDate != "" {
			day, err = time.ParseInLocation("2006-01-02", rawDate, loc)
			if err != nil {
				return fmt.Errorf("invalid --date %q: %w", rawDate, err)
			}
		}
		result, err := daily.Send(ctx, day)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	})
}

func runUserSetRole(ctx context.Context, cmd *cli.Command, email, role string) error {
	var users userdomain.Service
	return withApp(ctx, fx.Options(domainOptions(), user.Module, fx.Populate(&users)), func(ctx context.Context) error {
		updated, err := users.SetRole(ctx, email, role)
		if err != nil {
			return err
		}
		return printJSON(cmd, updated)
	})
}

func runReportMonthly(ctx context.Context, cmd *cli.Command, year int, provider string) error {
	var monthly *report.MonthlyRevenue
	return withApp(ctx, fx.Options(domainOptions(), fx.Populate(&monthly)), func(ctx context.Context) error {
		out, err := monthly.Year(ctx, year, provider)
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	})
}

func printJSON(cmd *cli.Command, v any) error {
	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
