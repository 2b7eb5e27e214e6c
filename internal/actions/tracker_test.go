package actions

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/surveysync/internal/domain"
	"github.com/ashureev/surveysync/internal/store"
)

func newTracker(t *testing.T) (*Tracker, *store.SQLiteStore) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "actions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, repo.CreateProduct(ctx, &domain.Product{ID: "prod-1", Name: "Acme", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, repo.CreateEnvironment(ctx, &domain.Environment{ID: "env-1", ProductID: "prod-1", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, repo.CreatePerson(ctx, &domain.Person{ID: "p-1", EnvironmentID: "env-1", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, repo.CreateSession(ctx, &domain.Session{
		ID: "s-1", PersonID: "p-1", CreatedAt: now, UpdatedAt: now, ExpiresAt: domain.SessionExpiry(now),
	}))
	return NewTracker(repo), repo
}

func TestTrackCreatesClassOnFirstUse(t *testing.T) {
	tracker, repo := newTracker(t)
	ctx := context.Background()

	first, err := tracker.Track(ctx, "env-1", "s-1", "Checkout", map[string]string{"plan": "pro"})
	require.NoError(t, err)
	second, err := tracker.Track(ctx, "env-1", "s-1", "Checkout", nil)
	require.NoError(t, err)
	assert.Equal(t, first.ActionClassID, second.ActionClassID)

	class, err := repo.GetActionClassByName(ctx, "env-1", "Checkout")
	require.NoError(t, err)
	require.NotNil(t, class)
	assert.Equal(t, domain.ActionClassCode, class.Type)
}

func TestTrackAutomaticActionClass(t *testing.T) {
	tracker, repo := newTracker(t)
	ctx := context.Background()

	_, err := tracker.Track(ctx, "env-1", "s-1", domain.ActionHalfScroll, nil)
	require.NoError(t, err)

	class, err := repo.GetActionClassByName(ctx, "env-1", domain.ActionHalfScroll)
	require.NoError(t, err)
	require.NotNil(t, class)
	assert.Equal(t, domain.ActionClassAutomatic, class.Type)
}

func TestTrackValidation(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()

	_, err := tracker.Track(ctx, "env-1", "", "", nil)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Required", verr.Details["sessionId"])
	assert.Equal(t, "Required", verr.Details["name"])

	_, err = tracker.Track(ctx, "env-1", "s-missing", "Checkout", nil)
	assert.True(t, domain.IsNotFound(err))
}
