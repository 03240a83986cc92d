package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/staybook/internal/booking/domain"
	"github.com/smallbiznis/staybook/internal/clock"
	obsmetrics "github.com/smallbiznis/staybook/internal/observability/metrics"
	"github.com/smallbiznis/staybook/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/staybook/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       paymentdomain.Repository
	Adapters   *adapters.Registry
	Bookings   bookingdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	adapters   *adapters.Registry
	bookings   bookingdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		adapters:   p.Adapters,
		bookings:   p.Bookings,
		obsMetrics: p.ObsMetrics,
	}
}

// CreatePaymentLink is idempotent per booking. A booking that already has a
// transaction gets its payment view re-emitted instead of a second provider
// call, so replayed jobs are harmless.
func (s *Service) CreatePaymentLink(ctx context.Context, bookingID snowflake.ID) error {
	booking, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	log := s.log.With(zap.String("booking_id", bookingID.String()), zap.String("provider", booking.PayMethod))

	if booking.Status != bookingdomain.StatusPending && booking.Status != bookingdomain.StatusPaymentURL {
		log.Info("payment.link.skipped", zap.String("status", string(booking.Status)))
		return nil
	}

	existing, err := s.repo.FindByBookingID(ctx, s.db, booking.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		if booking.Status == bookingdomain.StatusPending && existing.PayURL != nil {
			return s.markReady(ctx, log, booking.ID, *existing.PayURL)
		}
		return s.bookings.RepublishStatus(ctx, booking.ID)
	}

	adapter, err := s.adapters.Get(booking.PayMethod)
	if err != nil {
		return err
	}
	link, err := adapter.CreatePaymentLink(ctx, paymentdomain.PaymentLinkRequest{
		BookingID:  booking.ID,
		ExternalID: booking.ExternalID,
		Amount:     booking.TotalPrice,
		Currency:   booking.Currency,
		GuestEmail: booking.GuestEmail,
	})
	if err != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, adapter.Provider(), "link_failed")
		log.Warn("payment.link.failed", zap.Error(err))
		if !errors.Is(err, paymentdomain.ErrPaymentLinkCreationFailed) && !errors.Is(err, paymentdomain.ErrInvalidConfig) {
			err = errors.Join(paymentdomain.ErrPaymentLinkCreationFailed, err)
		}
		return err
	}

	now := s.clock.Now()
	payURL := link.PayURL
	inserted, err := s.repo.Insert(ctx, s.db, &paymentdomain.Transaction{
		ID:                    s.genID.Generate(),
		BookingID:             booking.ID,
		Provider:              adapter.Provider(),
		ProviderTransactionID: link.ProviderTransactionID,
		Amount:                booking.TotalPrice,
		Currency:              booking.Currency,
		Status:                paymentdomain.TransactionPending,
		PayURL:                &payURL,
		CreatedAt:             now,
		UpdatedAt:             now,
	})
	if err != nil {
		return err
	}
	if !inserted {
		log.Info("payment.transaction.exists")
	}
	s.obsMetrics.RecordPaymentEvent(ctx, adapter.Provider(), "link_created")
	return s.markReady(ctx, log, booking.ID, payURL)
}

func (s *Service) markReady(ctx context.Context, log *zap.Logger, bookingID snowflake.ID, payURL string) error {
	_, err := s.bookings.MarkPayURLReady(ctx, bookingID, payURL)
	if errors.Is(err, bookingdomain.ErrTransitionConflict) {
		// A callback or the sweep resolved the booking first.
		log.Info("payment.link.superseded")
		return nil
	}
	return err
}

func (s *Service) CancelTransaction(ctx context.Context, bookingExternalID string) error {
	bookingExternalID = strings.TrimSpace(bookingExternalID)
	tx, err := s.repo.FindByProviderTransactionID(ctx, s.db, bookingExternalID)
	if err != nil {
		return err
	}
	if tx == nil {
		s.log.Info("payment.cancel.no_transaction", zap.String("external_id", bookingExternalID))
		return nil
	}
	applied, err := s.repo.UpdateStatus(ctx, s.db, tx.ID,
		[]paymentdomain.TransactionStatus{paymentdomain.TransactionPending},
		paymentdomain.TransactionCancelled, nil, s.clock.Now())
	if err != nil {
		return err
	}
	if !applied {
		s.log.Info("payment.cancel.not_pending",
			zap.String("external_id", bookingExternalID),
			zap.String("status", string(tx.Status)),
		)
		return nil
	}
	s.obsMetrics.RecordPaymentEvent(ctx, tx.Provider, "cancelled")
	return nil
}

func (s *Service) Revenue(ctx context.Context, q paymentdomain.RevenueQuery) ([]paymentdomain.RevenueSummary, error) {
	if !q.To.After(q.From) {
		return nil, nil
	}
	q.Provider = strings.ToLower(strings.TrimSpace(q.Provider))
	return s.repo.SumSucceeded(ctx, s.db, q)
}
