package reconciler

import (
	"context"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/staybook/internal/booking/domain"
	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/smallbiznis/staybook/internal/config"
	paymentdomain "github.com/smallbiznis/staybook/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxBatchesPerSweep bounds one Sweep call; the rest waits for the next tick.
const maxBatchesPerSweep = 10

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Policy   *config.PolicyHolder
	Repo     paymentdomain.Repository
	Bookings bookingdomain.Service
}

// Sweeper resolves bookings whose payment window elapsed. Paid bookings
// whose callback never arrived are confirmed; the rest fail together with
// their transactions.
type Sweeper struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	policy   *config.PolicyHolder
	repo     paymentdomain.Repository
	bookings bookingdomain.Service
}

type SweepResult struct {
	Scanned            int
	Confirmed          int
	Failed             int
	TransactionsFailed int64
}

func NewSweeper(p Params) *Sweeper {
	return &Sweeper{
		db:       p.DB,
		log:      p.Log.Named("payment.reconciler"),
		clock:    p.Clock,
		policy:   p.Policy,
		repo:     p.Repo,
		bookings: p.Bookings,
	}
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	policy := s.policy.Sweep()
	statuses := []bookingdomain.Status{bookingdomain.StatusPending}
	if policy.IncludesPaymentURL() {
		statuses = append(statuses, bookingdomain.StatusPaymentURL)
	}

	var total SweepResult
	for i := 0; i < maxBatchesPerSweep; i++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch, scanned, err := s.sweepBatch(ctx, statuses, policy.BatchSize)
		total.Scanned += batch.Scanned
		total.Confirmed += batch.Confirmed
		total.Failed += batch.Failed
		total.TransactionsFailed += batch.TransactionsFailed
		if err != nil {
			return total, err
		}
		if scanned < policy.BatchSize {
			break
		}
	}

	if total.Scanned > 0 {
		s.log.Info("payment.sweep.done",
			zap.Int("scanned", total.Scanned),
			zap.Int("confirmed", total.Confirmed),
			zap.Int("failed", total.Failed),
			zap.Int64("transactions_failed", total.TransactionsFailed),
		)
	}
	return total, nil
}

func (s *Sweeper) sweepBatch(ctx context.Context, statuses []bookingdomain.Status, limit int) (SweepResult, int, error) {
	var result SweepResult

	expired, err := s.bookings.ListExpired(ctx, statuses, limit)
	if err != nil {
		return result, 0, err
	}
	if len(expired) == 0 {
		return result, 0, nil
	}
	result.Scanned = len(expired)

	ids := make([]snowflake.ID, 0, len(expired))
	for _, b := range expired {
		ids = append(ids, b.ID)
	}
	txs, err := s.repo.FindByBookingIDs(ctx, s.db, ids)
	if err != nil {
		return result, len(expired), err
	}
	txByBooking := make(map[snowflake.ID]paymentdomain.Transaction, len(txs))
	for _, tx := range txs {
		txByBooking[tx.BookingID] = tx
	}

	var paid, unpaid []bookingdomain.Booking
	for _, b := range expired {
		if tx, ok := txByBooking[b.ID]; ok && tx.Status == paymentdomain.TransactionSuccess {
			paid = append(paid, b)
			continue
		}
		unpaid = append(unpaid, b)
	}

	if len(paid) > 0 {
		changes, err := s.bookings.ResolveExpired(ctx, paid, bookingdomain.StatusConfirmed, statuses)
		if err != nil {
			return result, len(expired), err
		}
		result.Confirmed = len(changes)
	}

	if len(unpaid) > 0 {
		changes, err := s.bookings.ResolveExpired(ctx, unpaid, bookingdomain.StatusFailed, statuses)
		if err != nil {
			return result, len(expired), err
		}
		result.Failed = len(changes)

		var txIDs []snowflake.ID
		for _, change := range changes {
			if tx, ok := txByBooking[change.BookingID]; ok {
				txIDs = append(txIDs, tx.ID)
			}
		}
		if len(txIDs) > 0 {
			n, err := s.repo.MarkFailed(ctx, s.db, txIDs, s.clock.Now())
			if err != nil {
				return result, len(expired), err
			}
			result.TransactionsFailed = n
		}
	}

	return result, len(expired), nil
}
