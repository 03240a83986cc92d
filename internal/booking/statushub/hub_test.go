package statushub

import (
	"testing"

	"github.com/smallbiznis/staybook/internal/booking/domain"
)

func TestPublishReachesSubscriber(t *testing.T) {
	hub := NewHub()
	sub, backlog, err := hub.Subscribe("booking__a")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	if len(backlog) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(backlog))
	}

	hub.PublishStatus(domain.StatusChange{ExternalID: "booking__a", Status: domain.StatusConfirmed})
	hub.PublishStatus(domain.StatusChange{ExternalID: "booking__b", Status: domain.StatusFailed})

	select {
	case got := <-sub.Events():
		if got.Status != domain.StatusConfirmed {
			t.Fatalf("expected CONFIRMED, got %s", got.Status)
		}
	default:
		t.Fatalf("expected an event")
	}
	select {
	case got := <-sub.Events():
		t.Fatalf("unexpected event for other booking: %+v", got)
	default:
	}
}

func TestLateSubscriberReceivesBacklog(t *testing.T) {
	hub := NewHub()
	first, _, _ := hub.Subscribe("booking__a")
	defer first.Close()

	hub.PublishStatus(domain.StatusChange{ExternalID: "booking__a", Status: domain.StatusPaymentURL, PayURL: "https://pay"})

	second, backlog, err := hub.Subscribe("booking__a")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer second.Close()
	if len(backlog) != 1 || backlog[0].PayURL != "https://pay" {
		t.Fatalf("unexpected backlog %+v", backlog)
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	hub := NewHub()
	sub, _, _ := hub.Subscribe("booking__a")
	defer sub.Close()

	for i := 0; i < DefaultSubscriberBuffer*3; i++ {
		hub.PublishStatus(domain.StatusChange{ExternalID: "booking__a", Status: domain.StatusPending})
	}
	if got := len(sub.Events()); got != DefaultSubscriberBuffer {
		t.Fatalf("expected full buffer of %d, got %d", DefaultSubscriberBuffer, got)
	}
}

func TestCloseDropsStream(t *testing.T) {
	hub := NewHub()
	sub, _, _ := hub.Subscribe("booking__a")
	if hub.Subscribers("booking__a") != 1 {
		t.Fatalf("expected one subscriber")
	}
	sub.Close()
	sub.Close()
	if hub.Subscribers("booking__a") != 0 {
		t.Fatalf("expected stream to be dropped")
	}
}

func TestSubscribeRejectsEmptyID(t *testing.T) {
	if _, _, err := NewHub().Subscribe("  "); err != ErrInvalidExternalID {
		t.Fatalf("expected ErrInvalidExternalID, got %v", err)
	}
	var nilHub *Hub
	if _, _, err := nilHub.Subscribe("x"); err != ErrHubUnavailable {
		t.Fatalf("expected ErrHubUnavailable, got %v", err)
	}
}
