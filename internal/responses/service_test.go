package responses

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/surveysync/internal/domain"
	"github.com/ashureev/surveysync/internal/feed"
	"github.com/ashureev/surveysync/internal/store"
	"github.com/ashureev/surveysync/internal/telemetry"
)

type capturedFeed struct {
	mu     sync.Mutex
	events []feed.Event
	envs   []string
}

func (f *capturedFeed) Publish(environmentID string, event feed.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envs = append(f.envs, environmentID)
	f.events = append(f.events, event)
}

func newService(t *testing.T) (*Service, *store.SQLiteStore, *telemetry.Recorder, *capturedFeed) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "responses.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, repo.CreateProduct(ctx, &domain.Product{ID: "prod-1", Name: "Acme", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, repo.CreateEnvironment(ctx, &domain.Environment{ID: "env-1", ProductID: "prod-1", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, repo.CreateEnvironment(ctx, &domain.Environment{ID: "env-2", ProductID: "prod-1", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, repo.CreateSurvey(ctx, &domain.Survey{
		ID: "sv-1", EnvironmentID: "env-1", Name: "NPS", Status: domain.SurveyStatusInProgress, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, repo.CreatePerson(ctx, &domain.Person{ID: "p-1", EnvironmentID: "env-1", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, repo.CreateAttributeClass(ctx, &domain.AttributeClass{
		ID: "attr-plan", EnvironmentID: "env-1", Name: "plan", Type: domain.ActionClassCode, CreatedAt: now,
	}))
	require.NoError(t, repo.UpsertPersonAttribute(ctx, "p-1", "attr-plan", "pro"))

	rec := &telemetry.Recorder{}
	pub := &capturedFeed{}
	return NewService(repo, rec, pub), repo, rec, pub
}

func TestCreateDisplay(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	display, err := svc.CreateDisplay(ctx, "env-1", DisplayInput{SurveyID: "sv-1", PersonID: "p-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, display.ID)
	assert.Equal(t, "p-1", display.PersonID)

	_, err = svc.CreateDisplay(ctx, "env-1", DisplayInput{SurveyID: "sv-missing"})
	assert.True(t, domain.IsNotFound(err))

	_, err = svc.CreateDisplay(ctx, "env-2", DisplayInput{SurveyID: "sv-1"})
	assert.True(t, domain.IsNotFound(err), "survey of another environment is not visible")

	_, err = svc.CreateDisplay(ctx, "env-1", DisplayInput{})
	assert.True(t, domain.IsValidation(err))
}

func TestCreateResponseSnapshotsAttributes(t *testing.T) {
	svc, repo, rec, pub := newService(t)
	ctx := context.Background()

	resp, err := svc.CreateResponse(ctx, "env-1", ResponseInput{
		SurveyID: "sv-1",
		PersonID: "p-1",
		Data:     domain.ResponseData{"q1": "yes"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"plan": "pro"}, resp.PersonAttributes)
	assert.Equal(t, 1, rec.Count(telemetry.EventResponseCreated))

	// Later attribute changes do not touch the stored snapshot.
	require.NoError(t, repo.UpsertPersonAttribute(ctx, "p-1", "attr-plan", "free"))
	stored, err := repo.GetResponse(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "pro", stored.PersonAttributes["plan"])

	require.Len(t, pub.events, 1)
	assert.Equal(t, feed.EventResponseCreated, pub.events[0].Type)
	assert.Equal(t, "env-1", pub.envs[0])

	_, err = svc.CreateResponse(ctx, "env-1", ResponseInput{SurveyID: "sv-1", PersonID: "ghost"})
	assert.True(t, domain.IsNotFound(err))
}

func TestUpdateResponseMerges(t *testing.T) {
	svc, _, _, pub := newService(t)
	ctx := context.Background()

	resp, err := svc.CreateResponse(ctx, "env-1", ResponseInput{
		SurveyID: "sv-1",
		Data:     domain.ResponseData{"q1": "yes"},
	})
	require.NoError(t, err)

	updated, err := svc.UpdateResponse(ctx, "env-1", resp.ID, domain.ResponseData{"q2": "later"}, true)
	require.NoError(t, err)
	assert.Equal(t, "yes", updated.Data["q1"])
	assert.Equal(t, "later", updated.Data["q2"])
	assert.True(t, updated.Finished)

	require.Len(t, pub.events, 2)
	assert.Equal(t, feed.EventResponseUpdated, pub.events[1].Type)

	_, err = svc.UpdateResponse(ctx, "env-1", "missing", domain.ResponseData{}, false)
	assert.True(t, domain.IsNotFound(err))
}

func TestUpdateResponseOfOtherEnvironmentIsNotFound(t *testing.T) {
	svc, repo, _, pub := newService(t)
	ctx := context.Background()

	resp, err := svc.CreateResponse(ctx, "env-1", ResponseInput{
		SurveyID: "sv-1",
		Data:     domain.ResponseData{"q1": "yes"},
	})
	require.NoError(t, err)

	_, err = svc.UpdateResponse(ctx, "env-2", resp.ID, domain.ResponseData{"q1": "overwritten"}, true)
	assert.True(t, domain.IsNotFound(err))

	stored, err := repo.GetResponse(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "yes", stored.Data["q1"])
	assert.False(t, stored.Finished)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.events, 1)
	assert.Equal(t, []string{"env-1"}, pub.envs)
}

func TestSingleUseIDIsConsumedOnce(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateResponse(ctx, "env-1", ResponseInput{SurveyID: "sv-1", SingleUseID: "link-1"})
	require.NoError(t, err)

	_, err = svc.CreateResponse(ctx, "env-1", ResponseInput{SurveyID: "sv-1", SingleUseID: "link-1"})
	require.True(t, domain.IsValidation(err))
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Details, "singleUseId")
}

func TestUpdateDisplayLinksResponse(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	display, err := svc.CreateDisplay(ctx, "env-1", DisplayInput{SurveyID: "sv-1"})
	require.NoError(t, err)
	resp, err := svc.CreateResponse(ctx, "env-1", ResponseInput{SurveyID: "sv-1", DisplayID: display.ID})
	require.NoError(t, err)

	linked, err := svc.UpdateDisplay(ctx, display.ID, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.ID, linked.ResponseID)

	_, err = svc.UpdateDisplay(ctx, "missing", resp.ID)
	assert.True(t, domain.IsNotFound(err))
}

func TestListResponses(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.CreateResponse(ctx, "env-1", ResponseInput{SurveyID: "sv-1"})
		require.NoError(t, err)
	}

	all, err := svc.ListResponses(ctx, "env-1", "sv-1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := svc.ListResponses(ctx, "env-1", "sv-1", 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	_, err = svc.ListResponses(ctx, "env-2", "sv-1", 0, 0)
	assert.True(t, domain.IsNotFound(err))
}
