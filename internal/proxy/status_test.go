//go:build !integration && !e2e
// +build !integration,!e2e

package proxy

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRemoteStatus_ProbesDashboard(t *testing.T) {
	var calls atomic.Int32
	dash := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ui/intercept/status", r.URL.Path)
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"enabled": true}`))
	}))
	defer dash.Close()

	s := NewRemoteStatus(dash.URL)
	assert.True(t, s.Enabled())

	// Within the cache window the dashboard is not asked again.
	assert.True(t, s.Enabled())
	assert.Equal(t, int32(1), calls.Load())
}

func TestRemoteStatus_StaleValueOnOutage(t *testing.T) {
	dash := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"enabled": true}`))
	}))

	s := NewRemoteStatus(dash.URL)
	assert.True(t, s.Enabled())

	dash.Close()
	s.mu.Lock()
	s.fetched = time.Now().Add(-time.Minute) // force cache expiry
	s.mu.Unlock()

	assert.True(t, s.Enabled(), "last known value survives an outage")
}

func TestRemoteStatus_DefaultsOffWhenNeverReachable(t *testing.T) {
	s := NewRemoteStatus("http://127.0.0.1:1")
	assert.False(t, s.Enabled())
}
