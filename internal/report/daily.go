package report

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/smallbiznis/staybook/internal/config"
	paymentdomain "github.com/smallbiznis/staybook/internal/payment/domain"
	"github.com/smallbiznis/staybook/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	sentKeyPrefix = "report:daily:"
	sentKeyTTL    = 48 * time.Hour
	dateLayout    = "2006-01-02"
)

var Module = fx.Module("report.service",
	fx.Provide(New),
	fx.Provide(NewMonthly),
)

type Params struct {
	fx.In

	Redis    redis.UniversalClient
	Log      *zap.Logger
	Clock    clock.Clock
	Config   config.Config
	Payments paymentdomain.Service
	Email    email.Provider
}

// DailyRevenue mails the settled revenue of each hotel-local day once,
// after the configured local hour.
type DailyRevenue struct {
	client     redis.UniversalClient
	log        *zap.Logger
	clock      clock.Clock
	payments   paymentdomain.Service
	email      email.Provider
	location   *time.Location
	recipients []string
	localHour  int
}

type Result struct {
	Date string
	Sent bool
	Rows []paymentdomain.RevenueSummary
}

func New(p Params) (*DailyRevenue, error) {
	loc, err := time.LoadLocation(p.Config.Booking.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load report timezone: %w", err)
	}
	return &DailyRevenue{
		client:     p.Redis,
		log:        p.Log.Named("report.daily"),
		clock:      p.Clock,
		payments:   p.Payments,
		email:      p.Email,
		location:   loc,
		recipients: p.Config.Report.Recipients,
		localHour:  p.Config.Report.LocalHour,
	}, nil
}

// RunDue sends today's report when the local hour has passed and no
// process has sent it yet. Safe to call on every scheduler tick.
func (r *DailyRevenue) RunDue(ctx context.Context) (Result, error) {
	now := r.clock.Now().In(r.location)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.location)
	if now.Hour() < r.localHour {
		return Result{Date: day.Format(dateLayout)}, nil
	}
	return r.send(ctx, day, false)
}

// Send mails the report for the local date of day, even if already sent.
func (r *DailyRevenue) Send(ctx context.Context, day time.Time) (Result, error) {
	local := day.In(r.location)
	return r.send(ctx, time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.location), true)
}

func (r *DailyRevenue) send(ctx context.Context, day time.Time, force bool) (Result, error) {
	result := Result{Date: day.Format(dateLayout)}
	if len(r.recipients) == 0 {
		r.log.Debug("report.daily.no_recipients", zap.String("date", result.Date))
		return result, nil
	}

	key := sentKeyPrefix + result.Date
	if !force {
		claimed, err := r.client.SetNX(ctx, key, r.clock.Now().UTC().Format(time.RFC3339), sentKeyTTL).Result()
		if err != nil {
			return result, err
		}
		if !claimed {
			return result, nil
		}
	}

	rows, err := r.payments.Revenue(ctx, paymentdomain.RevenueQuery{From: day.UTC(), To: day.AddDate(0, 0, 1).UTC()})
	if err == nil {
		result.Rows = rows
		err = r.email.SendTemplate(ctx, r.recipients, email.TemplateDailyRevenue, map[string]any{
			"date":     result.Date,
			"timezone": r.location.String(),
			"rows":     rows,
		})
	}
	if err != nil {
		if !force {
			// Let the next tick try again.
			if delErr := r.client.Del(context.WithoutCancel(ctx), key).Err(); delErr != nil {
				r.log.Warn("report.daily.unclaim_failed", zap.String("date", result.Date), zap.Error(delErr))
			}
		}
		return result, err
	}

	result.Sent = true
	r.log.Info("report.daily.sent", zap.String("date", result.Date), zap.Int("currencies", len(rows)))
	return result, nil
}
