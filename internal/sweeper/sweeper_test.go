package sweeper

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/surveysync/internal/domain"
	"github.com/ashureev/surveysync/internal/store"
)

type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	before   time.Time
}

func (f *flakyStore) DeleteExpiredSessions(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.before = before
	if f.calls <= f.failures {
		return 0, errors.New("database is locked (SQLITE_BUSY)")
	}
	return 2, nil
}

func (f *flakyStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSweepDeletesOnlyPastRetention(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "sweep.db"))
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	sessions := map[string]time.Time{
		"s-old":    now.Add(-48 * time.Hour),
		"s-recent": now.Add(-time.Hour),
		"s-live":   now.Add(time.Hour),
	}
	for id, expires := range sessions {
		require.NoError(t, repo.CreateSession(ctx, &domain.Session{
			ID: id, PersonID: "p-1", CreatedAt: expires.Add(-time.Hour), UpdatedAt: expires.Add(-time.Hour), ExpiresAt: expires,
		}))
	}

	sw := New(repo, 24*time.Hour, "@every 1h").WithClock(func() time.Time { return now })
	deleted, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	old, err := repo.GetSession(ctx, "s-old")
	require.NoError(t, err)
	assert.Nil(t, old)
	recent, err := repo.GetSession(ctx, "s-recent")
	require.NoError(t, err)
	assert.NotNil(t, recent)
}

func TestSweepRetriesBusyDatabase(t *testing.T) {
	fs := &flakyStore{failures: 2}
	sw := New(fs, time.Hour, "@every 1h")
	sw.retry.BaseDelay = time.Millisecond

	deleted, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Equal(t, 3, fs.Calls())
}

func TestSweepGivesUpAfterRetries(t *testing.T) {
	fs := &flakyStore{failures: 10}
	sw := New(fs, time.Hour, "@every 1h")
	sw.retry.BaseDelay = time.Millisecond

	_, err := sw.Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, fs.Calls())
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	sw := New(&flakyStore{}, time.Hour, "not a schedule")
	assert.Error(t, sw.Start(context.Background()))
}

func TestStartRunsOnSchedule(t *testing.T) {
	fs := &flakyStore{}
	sw := New(fs, time.Hour, "@every 1s")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sw.Start(ctx))
	defer sw.Stop()

	require.Eventually(t, func() bool { return fs.Calls() >= 1 }, 3*time.Second, 50*time.Millisecond)
}
