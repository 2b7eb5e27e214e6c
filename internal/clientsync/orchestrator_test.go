package clientsync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/surveysync/internal/domain"
	"github.com/ashureev/surveysync/internal/identity"
	"github.com/ashureev/surveysync/internal/session"
	"github.com/ashureev/surveysync/internal/store"
	"github.com/ashureev/surveysync/internal/telemetry"
)

type harness struct {
	repo     *store.SQLiteStore
	recorder *telemetry.Recorder
	orch     *Orchestrator
	now      time.Time
}

func newHarness(t *testing.T, withProduct bool) *harness {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	h := &harness{
		repo:     repo,
		recorder: &telemetry.Recorder{},
		now:      time.Now().UTC().Truncate(time.Millisecond),
	}
	clock := func() time.Time { return h.now }

	ctx := context.Background()
	productID := "prod-1"
	if withProduct {
		require.NoError(t, repo.CreateProduct(ctx, &domain.Product{
			ID: productID, Name: "Acme", BrandColor: "#000000", Placement: "bottomRight", CreatedAt: h.now, UpdatedAt: h.now,
		}))
	}
	require.NoError(t, repo.CreateEnvironment(ctx, &domain.Environment{
		ID: "env-1", ProductID: productID, Type: "production", CreatedAt: h.now, UpdatedAt: h.now,
	}))

	people := identity.NewPeople(repo).WithClock(clock)
	sessions := session.NewManager(repo, people, h.recorder, session.WithClock(clock))
	h.orch = NewOrchestrator(repo, sessions, nil)
	return h
}

func TestSyncUnknownEnvironmentFailsBeforeMutation(t *testing.T) {
	h := newHarness(t, true)

	_, err := h.orch.Sync(context.Background(), Input{EnvironmentID: "env-missing"})
	require.True(t, domain.IsNotFound(err))
	assert.Zero(t, h.recorder.Count(telemetry.EventSessionCreated))

	_, err = h.orch.Sync(context.Background(), Input{})
	assert.True(t, domain.IsValidation(err))
}

func TestSyncRoundTripReusesPerson(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	first, err := h.orch.Sync(ctx, Input{EnvironmentID: "env-1", JSVersion: "1.0.0"})
	require.NoError(t, err)
	require.NotNil(t, first.Person)
	require.NotNil(t, first.Session)
	assert.Equal(t, first.Session.CreatedAt.Add(time.Hour), first.Session.ExpiresAt)
	assert.Equal(t, 1, h.recorder.Count(telemetry.EventSessionCreated))
	assert.Equal(t, "Acme", first.Product.Name)
	assert.NotNil(t, first.Surveys)
	assert.NotNil(t, first.NoCodeActionClasses)

	h.now = h.now.Add(20 * time.Minute)
	second, err := h.orch.Sync(ctx, Input{EnvironmentID: "env-1", PersonID: first.Person.ID, SessionID: first.Session.ID})
	require.NoError(t, err)
	assert.Equal(t, first.Person.ID, second.Person.ID)
	assert.Equal(t, first.Session.ID, second.Session.ID, "live session is extended, not replaced")
	assert.True(t, h.now.Add(time.Hour).Equal(second.Session.ExpiresAt))
	assert.Equal(t, 1, h.recorder.Count(telemetry.EventSessionCreated), "extension emits no telemetry")

	h.now = h.now.Add(2 * time.Hour)
	third, err := h.orch.Sync(ctx, Input{EnvironmentID: "env-1", PersonID: first.Person.ID, SessionID: first.Session.ID})
	require.NoError(t, err)
	assert.Equal(t, first.Person.ID, third.Person.ID)
	assert.NotEqual(t, first.Session.ID, third.Session.ID)
	assert.True(t, h.now.Add(time.Hour).Equal(third.Session.ExpiresAt))
	assert.Equal(t, 2, h.recorder.Count(telemetry.EventSessionCreated))
}

func TestSyncDoesNotAdoptPersonOfOtherEnvironment(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	require.NoError(t, h.repo.CreateEnvironment(ctx, &domain.Environment{
		ID: "env-2", ProductID: "prod-1", Type: "production", CreatedAt: h.now, UpdatedAt: h.now,
	}))
	require.NoError(t, h.repo.CreatePerson(ctx, &domain.Person{
		ID: "p-foreign", EnvironmentID: "env-2", Attributes: map[string]string{}, CreatedAt: h.now, UpdatedAt: h.now,
	}))

	state, err := h.orch.Sync(ctx, Input{EnvironmentID: "env-1", PersonID: "p-foreign"})
	require.NoError(t, err)
	assert.NotEqual(t, "p-foreign", state.Person.ID)
	assert.Equal(t, "env-1", state.Person.EnvironmentID)
	assert.Equal(t, state.Person.ID, state.Session.PersonID)

	state, err = h.orch.Sync(ctx, Input{EnvironmentID: "env-1", PersonID: "p-foreign", SessionID: "s-unknown"})
	require.NoError(t, err)
	assert.NotEqual(t, "p-foreign", state.Person.ID)
	assert.Equal(t, "env-1", state.Person.EnvironmentID)

	foreign, err := h.repo.GetPerson(ctx, "p-foreign")
	require.NoError(t, err)
	assert.Equal(t, "env-2", foreign.EnvironmentID)
}

func TestSyncMissingProductIsFatal(t *testing.T) {
	h := newHarness(t, false)

	state, err := h.orch.Sync(context.Background(), Input{EnvironmentID: "env-1"})
	assert.Nil(t, state)
	require.True(t, domain.IsNotFound(err))
	assert.Contains(t, err.Error(), "ProductByEnvironmentId")
}

func TestSyncSnapshotContent(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	now := h.now

	require.NoError(t, h.repo.CreateActionClass(ctx, &domain.ActionClass{
		ID: "ac-code", EnvironmentID: "env-1", Name: "Signed Up", Type: domain.ActionClassCode, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, h.repo.CreateActionClass(ctx, &domain.ActionClass{
		ID: "ac-click", EnvironmentID: "env-1", Name: "Clicked CTA", Type: domain.ActionClassNoCode, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, h.repo.CreateAttributeClass(ctx, &domain.AttributeClass{
		ID: "attr-plan", EnvironmentID: "env-1", Name: "plan", Type: domain.ActionClassCode, CreatedAt: now,
	}))
	require.NoError(t, h.repo.CreateSurvey(ctx, &domain.Survey{
		ID: "sv-all", EnvironmentID: "env-1", Name: "All", Status: domain.SurveyStatusInProgress,
		Triggers: []string{"Clicked CTA"}, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, h.repo.CreateSurvey(ctx, &domain.Survey{
		ID: "sv-pro", EnvironmentID: "env-1", Name: "Pro", Status: domain.SurveyStatusInProgress,
		Triggers: []string{"Signed Up"},
		AttributeFilters: []domain.AttributeFilter{
			{ID: "f-1", AttributeClassID: "attr-plan", Condition: domain.ConditionEquals, Value: "pro"},
		},
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, h.repo.CreateSurvey(ctx, &domain.Survey{
		ID: "sv-paused", EnvironmentID: "env-1", Name: "Paused", Status: domain.SurveyStatusPaused, CreatedAt: now, UpdatedAt: now,
	}))

	state, err := h.orch.Sync(ctx, Input{EnvironmentID: "env-1"})
	require.NoError(t, err)
	require.Len(t, state.Surveys, 1)
	assert.Equal(t, "sv-all", state.Surveys[0].ID)
	assert.Equal(t, []string{"Clicked CTA"}, state.Surveys[0].Triggers)
	require.Len(t, state.NoCodeActionClasses, 1)
	assert.Equal(t, "ac-click", state.NoCodeActionClasses[0].ID)

	require.NoError(t, h.repo.UpsertPersonAttribute(ctx, state.Person.ID, "attr-plan", "pro"))
	updated, err := h.orch.GetUpdatedState(ctx, "env-1", state.Person.ID)
	require.NoError(t, err)
	require.Len(t, updated.Surveys, 2)
	assert.Equal(t, "sv-all", updated.Surveys[0].ID)
	assert.Equal(t, "sv-pro", updated.Surveys[1].ID)
	assert.Equal(t, state.Person.ID, updated.Person.ID)
	assert.Equal(t, "pro", updated.Person.Attributes["plan"])

	_, err = h.orch.GetUpdatedState(ctx, "env-1", "ghost")
	assert.True(t, domain.IsNotFound(err))
}
