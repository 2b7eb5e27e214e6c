package widgetctl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/surveysync/internal/domain"
)

const checkoutScenario = `
name: checkout
userId: user-42
attributes:
  plan: pro
  country: de
actions:
  - name: Pageview
  - name: Checkout
    properties:
      cart: "3"
answers:
  - data:
      q1: 9
  - data:
      q2: great
    finished: true
`

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(checkoutScenario))
	require.NoError(t, err)
	assert.Equal(t, "checkout", s.Name)
	assert.Equal(t, "user-42", s.UserID)
	assert.Equal(t, map[string]string{"plan": "pro", "country": "de"}, s.Attributes)
	require.Len(t, s.Actions, 2)
	assert.Equal(t, "3", s.Actions[1].Properties["cart"])
	require.Len(t, s.Answers, 2)
	assert.Equal(t, 9, s.Answers[0].Data["q1"])
	assert.True(t, s.Answers[1].Finished)
}

func TestParseScenarioRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown field", "name: x\nactionz: []\n", "failed to parse YAML"},
		{"missing name", "actions:\n  - name: a\n", "name is required"},
		{"no actions", "name: x\n", "actions list is required"},
		{"unnamed action", "name: x\nactions:\n  - properties: {a: b}\n", "actions[0]: name is required"},
		{"unfinished last answer", "name: x\nactions:\n  - name: a\nanswers:\n  - data: {q: 1}\n", "must be finished"},
		{"finished early", "name: x\nactions:\n  - name: a\nanswers:\n  - data: {q: 1}\n    finished: true\n  - data: {q: 2}\n    finished: true\n", "only the last answer"},
		{"empty answer", "name: x\nactions:\n  - name: a\nanswers:\n  - finished: true\n", "data is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenarioFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(checkoutScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "checkout", s.Name)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

// newAPI serves a minimal client API: one survey triggered by Checkout.
func newAPI(t *testing.T) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	state := domain.State{
		Person:              &domain.Person{ID: "person-1", Attributes: map[string]string{}},
		Session:             &domain.Session{ID: "session-1"},
		Surveys:             []domain.Survey{{ID: "sv-checkout", Triggers: []string{"Checkout"}}},
		NoCodeActionClasses: []domain.ActionClass{},
		Product:             &domain.Product{ID: "prod-1"},
	}
	stored := domain.ResponseData{}

	reply := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	decode := func(r *http.Request) map[string]any {
		body := map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		return body
	}

	r := chi.NewRouter()
	r.Route("/api/v1/client/env-1", func(r chi.Router) {
		r.Post("/in-app/sync", func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			reply(w, state)
		})
		r.Post("/people/{personId}/user-id", func(w http.ResponseWriter, r *http.Request) {
			body := decode(r)
			mu.Lock()
			defer mu.Unlock()
			state.Person.UserID = body["userId"].(string)
			reply(w, state)
		})
		r.Post("/people/{personId}/set-attribute", func(w http.ResponseWriter, r *http.Request) {
			body := decode(r)
			mu.Lock()
			defer mu.Unlock()
			state.Person.Attributes[body["key"].(string)] = body["value"].(string)
			reply(w, state)
		})
		r.Post("/actions", func(w http.ResponseWriter, r *http.Request) {
			reply(w, map[string]any{})
		})
		r.Post("/displays", func(w http.ResponseWriter, r *http.Request) {
			reply(w, domain.Display{ID: "disp-1"})
		})
		r.Put("/displays/{displayId}", func(w http.ResponseWriter, r *http.Request) {
			reply(w, domain.Display{ID: "disp-1", ResponseID: "resp-1"})
		})
		r.Post("/responses", func(w http.ResponseWriter, r *http.Request) {
			body := decode(r)
			mu.Lock()
			defer mu.Unlock()
			data, _ := body["data"].(map[string]any)
			stored = stored.Merge(data)
			reply(w, domain.Response{ID: "resp-1", Data: stored})
		})
		r.Put("/responses/{responseId}", func(w http.ResponseWriter, r *http.Request) {
			body := decode(r)
			mu.Lock()
			defer mu.Unlock()
			data, _ := body["data"].(map[string]any)
			stored = stored.Merge(data)
			reply(w, domain.Response{ID: "resp-1", Data: stored})
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunScenario(t *testing.T) {
	srv := newAPI(t)
	scenario, err := ParseScenario([]byte(checkoutScenario))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := &RunOptions{
		RootOptions: &RootOptions{APIHost: srv.URL, EnvironmentID: "env-1", Timeout: 10 * time.Second},
		Retries:     1,
		RetryDelay:  time.Millisecond,
	}
	report, err := RunScenario(ctx, opts, scenario)
	require.NoError(t, err)

	assert.Equal(t, "checkout", report.Scenario)
	assert.NotEmpty(t, report.InstanceID)
	assert.Equal(t, "person-1", report.PersonID)
	assert.Equal(t, "session-1", report.SessionID)
	assert.Empty(t, report.Errors)

	require.Len(t, report.Renders, 1)
	render := report.Renders[0]
	assert.Equal(t, "Checkout", render.Action)
	assert.Equal(t, "sv-checkout", render.SurveyID)
	assert.Equal(t, "disp-1", render.DisplayID)
	assert.Equal(t, "resp-1", render.ResponseID)
	assert.True(t, render.Finished)
	assert.Equal(t, domain.ResponseData{"q1": 9, "q2": "great"}, render.Data)
}

func TestRunCommandPrintsReport(t *testing.T) {
	srv := newAPI(t)
	path := filepath.Join(t.TempDir(), "checkout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(checkoutScenario), 0o644))

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"run", "--api-host", srv.URL, "--environment", "env-1", "--retry-delay", "1ms", path})
	require.NoError(t, cmd.Execute())

	var report Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Len(t, report.Renders, 1)
	assert.Equal(t, "sv-checkout", report.Renders[0].SurveyID)
}

func TestSyncCommandPrintsState(t *testing.T) {
	srv := newAPI(t)

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"sync", "--api-host", srv.URL, "--environment", "env-1"})
	require.NoError(t, cmd.Execute())

	var state domain.State
	require.NoError(t, json.Unmarshal(out.Bytes(), &state))
	assert.Equal(t, "person-1", state.Person.ID)
	require.Len(t, state.Surveys, 1)
}

func TestRootCommandRequiresTarget(t *testing.T) {
	t.Setenv("WIDGET_API_HOST", "")
	t.Setenv("WIDGET_ENVIRONMENT_ID", "")

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"sync"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--api-host is required")
}
