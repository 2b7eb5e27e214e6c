package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event names captured by the server.
const (
	EventSessionCreated  = "session created"
	EventResponseCreated = "response created"
)

// Capturer records telemetry events. Capture must not block the caller.
type Capturer interface {
	Capture(event string, props map[string]string)
}

// Event is one NDJSON line written by the Sink.
type Event struct {
	Name       string            `json:"event"`
	Properties map[string]string `json:"properties,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Sink counts events in Prometheus and appends them to an NDJSON file
// from a background goroutine. When the queue is full the oldest queued
// event is dropped.
type Sink struct {
	file   *os.File
	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
	now    func() time.Time

	closeOnce sync.Once
}

// NewSink opens path for appending and starts the writer.
func NewSink(path string, queueSize int, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open telemetry log: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		file:   f,
		events: make(chan Event, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		now:    time.Now,
	}

	s.wg.Add(1)
	go s.process()

	return s, nil
}

// Capture counts the event and queues it for the NDJSON writer.
func (s *Sink) Capture(event string, props map[string]string) {
	eventsTotal.WithLabelValues(event).Inc()

	e := Event{Name: event, Properties: props, Timestamp: s.now().UTC()}

	select {
	case <-s.ctx.Done():
		return
	default:
	}

	select {
	case s.events <- e:
		return
	default:
	}

	// Queue full: drop the oldest event to make room.
	select {
	case <-s.events:
		eventsDropped.Inc()
		s.logger.Warn("Telemetry queue full, dropped oldest event", "event", event)
	default:
	}

	select {
	case s.events <- e:
	default:
		eventsDropped.Inc()
		s.logger.Warn("Telemetry queue full, dropped event", "event", event)
	}
}

func (s *Sink) process() {
	defer s.wg.Done()

	enc := json.NewEncoder(s.file)
	for {
		select {
		case <-s.ctx.Done():
			// Flush what is already queued.
			for {
				select {
				case e := <-s.events:
					s.write(enc, e)
				default:
					return
				}
			}
		case e := <-s.events:
			s.write(enc, e)
		}
	}
}

func (s *Sink) write(enc *json.Encoder, e Event) {
	if err := enc.Encode(e); err != nil {
		s.logger.Error("Failed to write telemetry event", "event", e.Name, "error", err)
	}
}

// Close stops the writer after flushing queued events.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.logger.Warn("Telemetry writer shutdown timeout", "queue_remaining", len(s.events))
		}

		err = s.file.Close()
	})
	return err
}

// Nop discards events.
type Nop struct{}

// Capture implements Capturer.
func (Nop) Capture(string, map[string]string) {}

// Recorder keeps events in memory. Used by tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Capture implements Capturer.
func (r *Recorder) Capture(event string, props map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: event, Properties: props, Timestamp: time.Now().UTC()})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events named event were recorded.
func (r *Recorder) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == event {
			n++
		}
	}
	return n
}
