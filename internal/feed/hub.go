// Package feed streams response events to dashboard websocket clients.
package feed

import (
	"log/slog"
	"sync"

	"github.com/ashureev/surveysync/internal/domain"
	"github.com/ashureev/surveysync/internal/telemetry"
)

// Event types.
const (
	EventResponseCreated = "response.created"
	EventResponseUpdated = "response.updated"
)

// Event is one message sent to feed subscribers.
type Event struct {
	Type     string           `json:"type"`
	Response *domain.Response `json:"response"`
}

// Publisher delivers events to the subscribers of an environment.
type Publisher interface {
	Publish(environmentID string, event Event)
}

// Hub keeps the live subscriptions of every environment.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	logger *slog.Logger
}

// Subscription receives the events of one environment.
type Subscription struct {
	environmentID string
	events        chan Event
	hub           *Hub
	once          sync.Once
}

// NewHub creates a hub. Each subscription buffers up to buffer events;
// events for a full subscriber are dropped.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new subscription for environmentID.
func (h *Hub) Subscribe(environmentID string) *Subscription {
	s := &Subscription{
		environmentID: environmentID,
		events:        make(chan Event, h.buffer),
		hub:           h,
	}

	h.mu.Lock()
	if _, ok := h.subs[environmentID]; !ok {
		h.subs[environmentID] = make(map[*Subscription]struct{})
	}
	h.subs[environmentID][s] = struct{}{}
	count := h.countLocked()
	h.mu.Unlock()

	telemetry.SetFeedSubscribers(count)
	h.logger.Info("Feed subscription registered", "environment_id", environmentID)
	return s
}

// Events returns the channel the subscription receives on. It is closed
// when the subscription is closed.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		if subs, ok := h.subs[s.environmentID]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(h.subs, s.environmentID)
			}
		}
		close(s.events)
		count := h.countLocked()
		h.mu.Unlock()

		telemetry.SetFeedSubscribers(count)
		h.logger.Info("Feed subscription unregistered", "environment_id", s.environmentID)
	})
}

// Publish implements Publisher. It never blocks.
func (h *Hub) Publish(environmentID string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs[environmentID] {
		select {
		case s.events <- event:
		default:
			h.logger.Warn("Feed subscriber too slow, dropping event",
				"environment_id", environmentID, "type", event.Type)
		}
	}
}

// Count returns the number of open subscriptions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.countLocked()
}

func (h *Hub) countLocked() int {
	n := 0
	for _, subs := range h.subs {
		n += len(subs)
	}
	return n
}

// CloseAll closes every subscription.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*Subscription
	for _, subs := range h.subs {
		for s := range subs {
			all = append(all, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range all {
		s.Close()
	}
}
