// Command staybookctl runs one-off maintenance tasks against the same
// database and Redis as the staybook service.
package main

import (
	"context"
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/smallbiznis/staybook/internal/scheduler"
	"github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "staybookctl",
		Usage:   "Operate a staybook deployment",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "Manage the database schema",
				Commands: []*cli.Command{
					{
						Name:  "up",
						Usage: "Apply all pending migrations",
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return runMigrateUp(ctx, cmd)
						},
					},
					{
						Name:  "down",
						Usage: "Roll back migrations",
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:    "steps",
								Aliases: []string{"n"},
								Value:   1,
								Usage:   "Number of migrations to roll back",
							},
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return runMigrateDown(ctx, cmd, int(cmd.Int("steps")))
						},
					},
					{
						Name:  "version",
						Usage: "Print the applied schema version",
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return runMigrateVersion(ctx, cmd)
						},
					},
				},
			},
			{
				Name:  "relay-once",
				Usage: "Publish pending outbox events and exit",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runJobOnce(ctx, scheduler.JobOutboxRelay)
				},
			},
			{
				Name:  "sweep-once",
				Usage: "Resolve expired unpaid bookings and exit",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runJobOnce(ctx, scheduler.JobExpirySweep)
				},
			},
			{
				Name:  "queue",
				Usage: "Inspect the background job queue",
				Commands: []*cli.Command{
					{
						Name:  "stats",
						Usage: "Print ready, delayed and dead-lettered job counts",
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return runQueueStats(ctx, cmd)
						},
					},
				},
			},
			{
				Name:  "report",
				Usage: "Revenue reports",
				Commands: []*cli.Command{
					{
						Name:  "send",
						Usage: "Send the report for one hotel-local date, even if already sent",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "date",
								Aliases: []string{"d"},
								Usage:   "Local date in YYYY-MM-DD format (defaults to today)",
							},
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return runReportSend(ctx, cmd, cmd.String("date"))
						},
					},
					{
						Name:  "monthly",
						Usage: "Print settled revenue per hotel-local month",
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:     "year",
								Aliases:  []string{"y"},
								Required: true,
								Usage:    "Calendar year",
							},
							&cli.StringFlag{
								Name:  "provider",
								Usage: "Only count one provider: zalopay or momo",
							},
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return runReportMonthly(ctx, cmd, int(cmd.Int("year")), cmd.String("provider"))
						},
					},
				},
			},
			{
				Name:  "user",
				Usage: "Manage accounts",
				Commands: []*cli.Command{
					{
						Name:  "set-role",
						Usage: "Grant guest, frontdesk or admin to a registered email",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "email",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "role",
								Required: true,
							},
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return runUserSetRole(ctx, cmd, cmd.String("email"), cmd.String("role"))
						},
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "staybookctl:", err)
		os.Exit(1)
	}
}
