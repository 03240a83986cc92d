package statushub

import (
	"errors"
	"strings"
	"sync"

	"github.com/smallbiznis/staybook/internal/booking/domain"
)

const (
	DefaultBacklogSize      = 8
	DefaultSubscriberBuffer = 16
)

var (
	ErrHubUnavailable    = errors.New("hub_unavailable")
	ErrInvalidExternalID = errors.New("invalid_external_id")
)

// Hub fans booking status changes out to in-process subscribers keyed by
// booking external id. Publishing never blocks: a slow subscriber misses
// events rather than stalling the writer.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	backlogSize      int
	subscriberBuffer int
}

type stream struct {
	mu      sync.Mutex
	backlog []domain.StatusChange
	subs    map[uint64]chan domain.StatusChange
	nextID  uint64
}

type Subscription struct {
	hub        *Hub
	externalID string
	id         uint64
	ch         chan domain.StatusChange
	once       sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		backlogSize:      DefaultBacklogSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// PublishStatus implements domain.StatusPublisher.
func (h *Hub) PublishStatus(change domain.StatusChange) {
	if h == nil {
		return
	}
	key := strings.TrimSpace(change.ExternalID)
	if key == "" {
		return
	}
	h.mu.RLock()
	s := h.streams[key]
	h.mu.RUnlock()
	if s == nil {
		return
	}

	s.mu.Lock()
	s.backlog = append(s.backlog, change)
	if len(s.backlog) > h.backlogSize {
		s.backlog = s.backlog[len(s.backlog)-h.backlogSize:]
	}
	subs := make([]chan domain.StatusChange, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- change:
		default:
		}
	}
}

// Subscribe registers for changes of one booking and returns the changes
// already published while someone was listening.
func (h *Hub) Subscribe(externalID string) (*Subscription, []domain.StatusChange, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	key := strings.TrimSpace(externalID)
	if key == "" {
		return nil, nil, ErrInvalidExternalID
	}

	s := h.ensureStream(key)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan domain.StatusChange, h.subscriberBuffer)
	s.subs[id] = ch
	backlog := append([]domain.StatusChange(nil), s.backlog...)
	s.mu.Unlock()

	return &Subscription{hub: h, externalID: key, id: id, ch: ch}, backlog, nil
}

// Subscribers reports how many listeners follow a booking.
func (h *Hub) Subscribers(externalID string) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	s := h.streams[strings.TrimSpace(externalID)]
	h.mu.RUnlock()
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (h *Hub) ensureStream(key string) *stream {
	h.mu.RLock()
	current := h.streams[key]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[key]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan domain.StatusChange)}
		h.streams[key] = current
	}
	return current
}

func (h *Hub) unsubscribe(key string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.streams[key]
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.subs, id)
	empty := len(s.subs) == 0
	s.mu.Unlock()
	if empty {
		delete(h.streams, key)
	}
}

func (s *Subscription) Events() <-chan domain.StatusChange {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.externalID, s.id)
	})
}
