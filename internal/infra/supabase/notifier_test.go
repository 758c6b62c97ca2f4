package supabase_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/resilience"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/supabase"
)

func newClient(url string) *supabase.Client {
	return supabase.NewClient(
		http.DefaultClient, url, "service-key",
		resilience.NewCircuitBreaker("supabase-test"),
		resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond},
		zap.NewNop(),
	)
}

var note = domain.Notification{
	ID:           "n-1",
	SubscriberID: "s-1",
	Title:        "Nouvelle phase",
	Body:         "Bienvenue en EQUILIBRE",
	Category:     domain.NotificationPhaseChange,
	CreatedAt:    time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC),
}

func TestNotify_PostsRow(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/notifications", r.URL.Path)
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	require.NoError(t, newClient(srv.URL).Notify(context.Background(), note))
	assert.Equal(t, "n-1", got["id"])
	assert.Equal(t, "s-1", got["subscriber_id"])
	assert.Equal(t, "phase_change", got["category"])
}

func TestNotify_DuplicateCountsAsDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	assert.NoError(t, newClient(srv.URL).Notify(context.Background(), note))
}

func TestNotify_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := newClient(srv.URL).Notify(context.Background(), note)
	var ext *domain.ErrExternalService
	require.True(t, errors.As(err, &ext))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNotify_ServerErrorRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	require.NoError(t, newClient(srv.URL).Notify(context.Background(), note))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
