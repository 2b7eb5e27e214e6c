// Package sweeper deletes sessions that expired longer ago than the
// configured retention.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ashureev/surveysync/internal/shared"
	"github.com/ashureev/surveysync/internal/telemetry"
)

// Store is the storage needed by the sweeper.
type Store interface {
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// Sweeper runs the cleanup on a cron schedule.
type Sweeper struct {
	store     Store
	retention time.Duration
	schedule  string
	now       func() time.Time
	retry     shared.RetryPolicy
	cron      *cron.Cron
}

// New creates a sweeper. schedule accepts standard cron expressions and
// descriptors such as "@every 5m".
func New(store Store, retention time.Duration, schedule string) *Sweeper {
	return &Sweeper{
		store:     store,
		retention: retention,
		schedule:  schedule,
		now:       time.Now,
		retry:     shared.DefaultRetryPolicy,
	}
}

// WithClock replaces the time source.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Start schedules the sweep and returns immediately. The schedule stops
// when ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			slog.Error("Session sweeper failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron = c
	c.Start()
	slog.Info("Session sweeper started", "schedule", s.schedule, "retention", s.retention)

	go func() {
		<-ctx.Done()
		s.Stop()
		slog.Info("Session sweeper shutting down", "reason", ctx.Err())
	}()
	return nil
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep deletes every session that expired before now minus retention.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	threshold := s.now().Add(-s.retention)

	var deleted int64
	err := shared.RetryOnConflict(ctx, s.retry, "delete expired sessions", func() error {
		n, err := s.store.DeleteExpiredSessions(ctx, threshold)
		if err != nil {
			return err
		}
		deleted = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	telemetry.RecordSessionsSwept(deleted)
	if deleted > 0 {
		slog.Info("Session sweeper removed expired sessions", "count", deleted, "before", threshold)
	}
	return deleted, nil
}
