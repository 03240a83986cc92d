package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/smallbiznis/staybook/internal/config"
	paymentdomain "github.com/smallbiznis/staybook/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrInvalidYear     = errors.New("invalid_year")
	ErrInvalidProvider = errors.New("invalid_payment_provider")
)

const minReportYear = 2000

type MonthlyParams struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Config   config.Config
	Payments paymentdomain.Service
}

// MonthlyRevenue sums settled transactions per hotel-local calendar month.
type MonthlyRevenue struct {
	log      *zap.Logger
	clock    clock.Clock
	payments paymentdomain.Service
	location *time.Location
}

type MonthRevenue struct {
	Month int                            `json:"month"`
	Rows  []paymentdomain.RevenueSummary `json:"rows"`
}

type YearRevenue struct {
	Year     int            `json:"year"`
	Provider string         `json:"provider,omitempty"`
	Timezone string         `json:"timezone"`
	Months   []MonthRevenue `json:"months"`
}

func NewMonthly(p MonthlyParams) (*MonthlyRevenue, error) {
	loc, err := time.LoadLocation(p.Config.Booking.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load report timezone: %w", err)
	}
	return &MonthlyRevenue{
		log:      p.Log.Named("report.monthly"),
		clock:    p.Clock,
		payments: p.Payments,
		location: loc,
	}, nil
}

// Year returns twelve entries, January first. Months after the current
// local month are returned empty without querying.
func (m *MonthlyRevenue) Year(ctx context.Context, year int, provider string) (YearRevenue, error) {
	now := m.clock.Now().In(m.location)
	if year < minReportYear || year > now.Year() {
		return YearRevenue{}, ErrInvalidYear
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	switch provider {
	case "", paymentdomain.ProviderZaloPay, paymentdomain.ProviderMoMo:
	default:
		return YearRevenue{}, ErrInvalidProvider
	}

	out := YearRevenue{
		Year:     year,
		Provider: provider,
		Timezone: m.location.String(),
		Months:   make([]MonthRevenue, 0, 12),
	}
	for month := time.January; month <= time.December; month++ {
		start := time.Date(year, month, 1, 0, 0, 0, 0, m.location)
		entry := MonthRevenue{Month: int(month), Rows: []paymentdomain.RevenueSummary{}}
		if start.After(now) {
			out.Months = append(out.Months, entry)
			continue
		}
		rows, err := m.payments.Revenue(ctx, paymentdomain.RevenueQuery{
			From:     start.UTC(),
			To:       start.AddDate(0, 1, 0).UTC(),
			Provider: provider,
		})
		if err != nil {
			return YearRevenue{}, fmt.Errorf("revenue %d-%02d: %w", year, month, err)
		}
		if rows != nil {
			entry.Rows = rows
		}
		out.Months = append(out.Months, entry)
	}

	m.log.Debug("report.monthly.computed", zap.Int("year", year), zap.String("provider", provider))
	return out, nil
}
