package webhook

import (
	"context"
	"errors"
	"net/http"

	bookingdomain "github.com/smallbiznis/staybook/internal/booking/domain"
	"github.com/smallbiznis/staybook/internal/clock"
	obsmetrics "github.com/smallbiznis/staybook/internal/observability/metrics"
	"github.com/smallbiznis/staybook/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/staybook/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       paymentdomain.Repository
	Adapters   *adapters.Registry
	Bookings   bookingdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       paymentdomain.Repository
	adapters   *adapters.Registry
	bookings   bookingdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		clock:      p.Clock,
		repo:       p.Repo,
		adapters:   p.Adapters,
		bookings:   p.Bookings,
		obsMetrics: p.ObsMetrics,
	}
}

// HandleCallback applies a provider notification. Unknown transactions are
// dropped; unverified notifications count as failed payments. The returned
// ack is what the provider expects even when the booking is already settled.
func (s *Service) HandleCallback(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.CallbackAck, error) {
	adapter, err := s.adapters.Get(provider)
	if err != nil {
		return paymentdomain.CallbackAck{StatusCode: http.StatusNotFound}, err
	}
	result, err := adapter.ParseCallback(ctx, payload, headers)
	if err != nil {
		return paymentdomain.CallbackAck{StatusCode: http.StatusBadRequest}, err
	}
	ack := adapter.Ack(result)

	log := s.log.With(
		zap.String("provider", adapter.Provider()),
		zap.String("provider_transaction_id", result.ProviderTransactionID),
	)

	tx, err := s.repo.FindByProviderTransactionID(ctx, s.db, result.ProviderTransactionID)
	if err != nil {
		return ack, err
	}
	if tx == nil {
		log.Warn("payment.callback.unknown_transaction")
		s.obsMetrics.RecordPaymentEvent(ctx, adapter.Provider(), "callback_unknown")
		return ack, nil
	}
	if !result.Verified {
		log.Warn("payment.callback.signature_mismatch")
		s.obsMetrics.RecordPaymentEvent(ctx, adapter.Provider(), "callback_unverified")
	}

	target := paymentdomain.TransactionFailed
	if result.Success {
		target = paymentdomain.TransactionSuccess
	}

	applied, err := s.repo.UpdateStatus(ctx, s.db, tx.ID,
		[]paymentdomain.TransactionStatus{paymentdomain.TransactionPending},
		target, datatypes.JSON(result.Raw), s.clock.Now())
	if err != nil {
		return ack, err
	}
	if !applied && tx.Status != target {
		// Settled earlier with a different outcome; the first resolution stands.
		log.Info("payment.callback.already_resolved",
			zap.String("status", string(tx.Status)),
			zap.String("callback_status", string(target)),
		)
		return ack, nil
	}

	if result.Success {
		_, err = s.bookings.MarkPaid(ctx, tx.BookingID)
		s.obsMetrics.RecordPaymentEvent(ctx, adapter.Provider(), "callback_success")
	} else {
		_, err = s.bookings.MarkFailed(ctx, tx.BookingID)
		s.obsMetrics.RecordPaymentEvent(ctx, adapter.Provider(), "callback_failed")
	}
	if errors.Is(err, bookingdomain.ErrTransitionConflict) {
		log.Info("payment.callback.booking_already_resolved", zap.String("booking_id", tx.BookingID.String()))
		return ack, nil
	}
	if err != nil {
		return ack, err
	}
	return ack, nil
}
