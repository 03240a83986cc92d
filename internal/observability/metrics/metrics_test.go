package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "zalopay"),
		attribute.String("email", "guest@example.com"),
		attribute.String("booking_id", "42"),
		attribute.String("event_type", "paid"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "email" || attr.Key == "booking_id" {
			t.Fatalf("unexpected high-cardinality label %q", attr.Key)
		}
	}
}

func TestNoopMetricsRecord(t *testing.T) {
	m := NewNoop()
	if m == nil {
		t.Fatalf("expected noop metrics")
	}
	ctx := context.Background()
	m.RecordBookingCreate(ctx, "created")
	m.RecordBookingTransition(ctx, "PENDING", "FAILED")
	m.RecordOutboxPublished(ctx, "BookingCreated", 3)

	var nilMetrics *Metrics
	nilMetrics.RecordOTPEvent(ctx, "login", "verified")
}
