package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSessionSendsPayload(t *testing.T) {
	var got sessionStartRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/visitors/session", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewClient(srv.URL + "/")
	require.NoError(t, client.StartSession(context.Background(), "abc", "/browse"))
	assert.Equal(t, "abc", got.SessionID)
	assert.Equal(t, "/browse", got.Page)
}

func TestActiveUsers(t *testing.T) {
	success := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": success, "activeUsers": 7})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	count, err := client.ActiveUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	success = false
	_, err = client.ActiveUsers(context.Background())
	assert.True(t, errors.Is(err, ErrUnsuccessful), "got %v", err)
}

func TestNon2xxBecomesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"sleeping"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL).PingSession(context.Background(), "abc")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr), "got %v", err)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
	assert.Equal(t, "sleeping", statusErr.Message)
}

func TestWithPathsOverridesOnlySetFields(t *testing.T) {
	client := NewClient("http://example.test", WithPaths(Paths{Health: "healthz"}))
	assert.Equal(t, "http://example.test/healthz", client.HealthURL())
	assert.Equal(t, DefaultPaths().ActiveUsers, client.paths.ActiveUsers)
}
