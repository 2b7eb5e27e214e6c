package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/surveysync/internal/domain"
)

func TestSyncSendsIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/client/env-1/in-app/sync", r.URL.Path)
		var body SyncInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "p-1", body.PersonID)
		assert.Equal(t, "s-1", body.SessionID)
		_ = json.NewEncoder(w).Encode(domain.State{Person: &domain.Person{ID: "p-1"}, Session: &domain.Session{ID: "s-1"}})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "env-1")
	state, err := c.Sync(context.Background(), SyncInput{PersonID: "p-1", SessionID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, "p-1", state.Person.ID)
}

func TestErrorResponseBecomesNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"not_found","message":"Session with ID s-9 not found"}`))
	}))
	defer srv.Close()

	err := New(srv.URL, "env-1").TrackAction(context.Background(), "s-9", "Checkout", nil)
	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, "network_error", netErr.Code)
	assert.Equal(t, http.StatusNotFound, netErr.Status)
	assert.Equal(t, "Session with ID s-9 not found", netErr.ResponseMessage)
	assert.Equal(t, srv.URL+"/api/v1/client/env-1/actions", netErr.URL)
}

func TestTransportFailureHasNoStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, "env-1").CreateDisplay(context.Background(), "sv-1", "")
	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Zero(t, netErr.Status)
}

func TestPathEscaping(t *testing.T) {
	c := New("http://api.test", "env/1")
	assert.Equal(t, "/api/v1/client/env%2F1/responses/r-1", c.path("responses", "r-1"))
}
