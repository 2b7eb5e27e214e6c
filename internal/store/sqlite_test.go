package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/surveysync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedEnvironment(t *testing.T, s *SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateProduct(ctx, &domain.Product{
		ID: "prod-1", Name: "Acme", BrandColor: "#64748b", Placement: "bottomRight",
		ShowSignature: true, RecontactDays: 7, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, s.CreateEnvironment(ctx, &domain.Environment{
		ID: "env-1", ProductID: "prod-1", Type: "production", CreatedAt: now, UpdatedAt: now,
	}))
}

func TestEnvironmentAndProduct(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEnvironment(t, s)

	env, err := s.GetEnvironment(ctx, "env-1")
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, "prod-1", env.ProductID)

	missing, err := s.GetEnvironment(ctx, "env-x")
	require.NoError(t, err)
	assert.Nil(t, missing)

	product, err := s.GetProductByEnvironmentID(ctx, "env-1")
	require.NoError(t, err)
	require.NotNil(t, product)
	assert.Equal(t, "Acme", product.Name)
	assert.True(t, product.ShowSignature)
	assert.Equal(t, 7, product.RecontactDays)
}

func TestPersonAttributes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEnvironment(t, s)
	now := time.Now().UTC()

	require.NoError(t, s.CreatePerson(ctx, &domain.Person{ID: "p-1", EnvironmentID: "env-1", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, s.CreateAttributeClass(ctx, &domain.AttributeClass{
		ID: "ac-plan", EnvironmentID: "env-1", Name: "plan", Type: domain.ActionClassCode, CreatedAt: now,
	}))

	require.NoError(t, s.UpsertPersonAttribute(ctx, "p-1", "ac-plan", "free"))
	require.NoError(t, s.UpsertPersonAttribute(ctx, "p-1", "ac-plan", "pro"))

	p, err := s.GetPerson(ctx, "p-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, map[string]string{"plan": "pro"}, p.Attributes)

	err = s.CreateAttributeClass(ctx, &domain.AttributeClass{
		ID: "ac-dup", EnvironmentID: "env-1", Name: "plan", Type: domain.ActionClassCode, CreatedAt: now,
	})
	assert.True(t, domain.IsValidation(err), "duplicate attribute class name should be a validation error, got %v", err)

	require.NoError(t, s.SetPersonUserID(ctx, "p-1", "user-42"))
	byUser, err := s.GetPersonByUserID(ctx, "env-1", "user-42")
	require.NoError(t, err)
	require.NotNil(t, byUser)
	assert.Equal(t, "p-1", byUser.ID)

	require.NoError(t, s.DeletePerson(ctx, "p-1"))
	gone, err := s.GetPerson(ctx, "p-1")
	require.NoError(t, err)
	assert.Nil(t, gone)

	assert.True(t, domain.IsNotFound(s.DeletePerson(ctx, "p-1")))
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.CreateSession(ctx, &domain.Session{
		ID: "s-1", PersonID: "p-1", CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	extended, err := s.ExtendSession(ctx, "s-1", now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "s-1", extended.ID)
	assert.True(t, extended.ExpiresAt.Equal(now.Add(2*time.Hour)))

	_, err = s.ExtendSession(ctx, "s-missing", now)
	assert.True(t, domain.IsNotFound(err))

	require.NoError(t, s.ReassignSession(ctx, "s-1", "p-2"))
	got, err := s.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "p-2", got.PersonID)

	require.NoError(t, s.CreateSession(ctx, &domain.Session{
		ID: "s-old", PersonID: "p-1", CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(-48 * time.Hour),
	}))
	n, err := s.DeleteExpiredSessions(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	old, err := s.GetSession(ctx, "s-old")
	require.NoError(t, err)
	assert.Nil(t, old)
}

func TestSurveysKeepInsertionOrderAndResolveNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEnvironment(t, s)
	now := time.Now().UTC()

	require.NoError(t, s.CreateActionClass(ctx, &domain.ActionClass{
		ID: "act-pv", EnvironmentID: "env-1", Name: "Pageview", Type: domain.ActionClassAutomatic, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, s.CreateActionClass(ctx, &domain.ActionClass{
		ID: "act-btn", EnvironmentID: "env-1", Name: "Clicked Buy", Type: domain.ActionClassNoCode,
		NoCodeConfig: []byte(`{"type":"click","cssSelector":{"value":"#buy"}}`), CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, s.CreateAttributeClass(ctx, &domain.AttributeClass{
		ID: "ac-plan", EnvironmentID: "env-1", Name: "plan", Type: domain.ActionClassCode, CreatedAt: now,
	}))

	for _, id := range []string{"sv-b", "sv-a"} {
		require.NoError(t, s.CreateSurvey(ctx, &domain.Survey{
			ID: id, EnvironmentID: "env-1", Name: id, Type: "web", Status: domain.SurveyStatusInProgress,
			Triggers:      []string{"Pageview"},
			DisplayOption: "displayOnce",
			AttributeFilters: []domain.AttributeFilter{
				{ID: id + "-f", AttributeClassID: "ac-plan", Condition: domain.ConditionEquals, Value: "pro"},
			},
			CreatedAt: now, UpdatedAt: now,
		}))
	}

	surveys, err := s.GetSurveys(ctx, "env-1")
	require.NoError(t, err)
	require.Len(t, surveys, 2)
	assert.Equal(t, "sv-b", surveys[0].ID)
	assert.Equal(t, "sv-a", surveys[1].ID)
	assert.Equal(t, []string{"Pageview"}, surveys[0].Triggers)
	require.Len(t, surveys[0].AttributeFilters, 1)
	assert.Equal(t, "plan", surveys[0].AttributeFilters[0].AttributeClassName)
	assert.JSONEq(t, `[]`, string(surveys[0].Questions))

	err = s.CreateSurvey(ctx, &domain.Survey{
		ID: "sv-bad", EnvironmentID: "env-1", Name: "bad", Status: domain.SurveyStatusDraft,
		Triggers: []string{"Nope"}, CreatedAt: now, UpdatedAt: now,
	})
	assert.True(t, domain.IsValidation(err))
	bad, err := s.GetSurvey(ctx, "sv-bad")
	require.NoError(t, err)
	assert.Nil(t, bad, "failed survey insert must roll back")

	require.NoError(t, s.UpdateSurveyStatus(ctx, "sv-a", domain.SurveyStatusPaused))
	a, err := s.GetSurvey(ctx, "sv-a")
	require.NoError(t, err)
	assert.Equal(t, domain.SurveyStatusPaused, a.Status)

	classes, err := s.GetActionClasses(ctx, "env-1")
	require.NoError(t, err)
	require.Len(t, classes, 2)
	assert.Equal(t, domain.ActionClassNoCode, classes[1].Type)
	assert.JSONEq(t, `{"type":"click","cssSelector":{"value":"#buy"}}`, string(classes[1].NoCodeConfig))
}

func TestResponseMergeAndSingleUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateDisplay(ctx, &domain.Display{ID: "d-1", SurveyID: "sv-1", PersonID: "p-1", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, s.CreateResponse(ctx, &domain.Response{
		ID: "r-1", SurveyID: "sv-1", PersonID: "p-1", DisplayID: "d-1",
		Data: domain.ResponseData{"a": float64(1)}, PersonAttributes: map[string]string{"plan": "pro"},
		Meta: &domain.ResponseMeta{Source: "inApp"}, SingleUseID: "link-1",
		CreatedAt: now, UpdatedAt: now,
	}))

	updated, err := s.UpdateResponse(ctx, "r-1", domain.ResponseData{"b": float64(2)}, true)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, domain.ResponseData{"a": float64(1), "b": float64(2)}, updated.Data)
	assert.True(t, updated.Finished)

	stored, err := s.GetResponse(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, updated.Data, stored.Data)
	assert.Equal(t, "inApp", stored.Meta.Source)
	assert.Equal(t, "pro", stored.PersonAttributes["plan"])

	missing, err := s.UpdateResponse(ctx, "r-missing", domain.ResponseData{"x": "y"}, false)
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = s.CreateResponse(ctx, &domain.Response{ID: "r-2", SurveyID: "sv-1", SingleUseID: "link-1", CreatedAt: now, UpdatedAt: now})
	assert.True(t, domain.IsValidation(err))

	// Responses without a single-use id never collide.
	require.NoError(t, s.CreateResponse(ctx, &domain.Response{ID: "r-3", SurveyID: "sv-1", CreatedAt: now.Add(time.Second), UpdatedAt: now}))
	require.NoError(t, s.CreateResponse(ctx, &domain.Response{ID: "r-4", SurveyID: "sv-1", CreatedAt: now.Add(2 * time.Second), UpdatedAt: now}))

	bySingleUse, err := s.GetResponseBySingleUseID(ctx, "sv-1", "link-1")
	require.NoError(t, err)
	assert.Equal(t, "r-1", bySingleUse.ID)

	list, err := s.ListSurveyResponses(ctx, "sv-1", 2, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r-4", list[0].ID)
	assert.Equal(t, "r-3", list[1].ID)

	display, err := s.LinkDisplayResponse(ctx, "d-1", "r-1")
	require.NoError(t, err)
	assert.Equal(t, "r-1", display.ResponseID)

	_, err = s.LinkDisplayResponse(ctx, "d-missing", "r-1")
	assert.True(t, domain.IsNotFound(err))
}

func TestAPIKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAPIKey(ctx, &domain.APIKey{ID: "k-1", EnvironmentID: "env-1", Label: "ci", HashedKey: "abc", CreatedAt: time.Now()}))

	key, err := s.GetAPIKeyByHash(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, "env-1", key.EnvironmentID)

	none, err := s.GetAPIKeyByHash(ctx, "zzz")
	require.NoError(t, err)
	assert.Nil(t, none)
}
