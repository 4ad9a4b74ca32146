//go:build !integration && !e2e
// +build !integration,!e2e

package repeater

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIsPrivateHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"LOCALHOST", true},
		{"db.localhost", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"10.1.2.3", true},
		{"192.168.0.10", true},
		{"172.16.5.5", true},
		{"169.254.1.1", true},
		{"0.0.0.0", true},
		{"8.8.8.8", false},
		{"example.com", false},
		{"172.200.1.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, isPrivateHost(tt.host))
		})
	}
}

func TestEngine_SendPolicyDenied(t *testing.T) {
	e := NewEngine(zap.NewNop())
	_, err := e.Send(context.Background(), Options{URL: "http://127.0.0.1:9999/admin"})
	assert.ErrorIs(t, err, ErrPolicyDenied)
}

func TestEngine_SendInvalidURL(t *testing.T) {
	e := NewEngine(zap.NewNop())
	for _, u := range []string{"", "not a url", "/relative/path"} {
		_, err := e.Send(context.Background(), Options{URL: u})
		assert.Error(t, err, u)
	}
}

// localEngine skips the private-host policy so the httptest server
// (which binds loopback) is reachable.
func localEngine() *Engine {
	e := NewEngine(zap.NewNop())
	e.allowLocal = true
	return e
}

func TestEngine_SendBasic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("done"))
	}))
	defer srv.Close()

	e := localEngine()
	res, err := e.Send(context.Background(), Options{
		Method:  "post",
		URL:     srv.URL,
		Headers: map[string]string{"X-Token": "secret"},
		Body:    "payload",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.Equal(t, "done", res.Body)
	assert.Equal(t, "text/plain", res.Headers["Content-Type"])
	assert.Greater(t, res.ElapsedMS, 0.0)
}

func TestEngine_SendBinaryBodyElided(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	}))
	defer srv.Close()

	e := localEngine()
	res, err := e.Send(context.Background(), Options{URL: srv.URL})
	require.NoError(t, err)
	assert.Empty(t, res.Body)
	assert.Contains(t, res.BodyNote, "binary content")
	assert.Contains(t, res.BodyNote, "image/png")
}

func TestEngine_SendTruncatesLargeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write(make([]byte, maxBodyBytes+500))
	}))
	defer srv.Close()

	e := localEngine()
	res, err := e.Send(context.Background(), Options{URL: srv.URL})
	require.NoError(t, err)
	assert.Len(t, res.Body, maxBodyBytes)
	assert.Contains(t, res.BodyNote, "truncated")
}

func TestEngine_SendRedirectPolicy(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start":
			http.Redirect(w, r, srvURL+"/end", http.StatusFound)
		default:
			w.Write([]byte("landed"))
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	e := localEngine()

	res, err := e.Send(context.Background(), Options{URL: srvURL + "/start"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, res.StatusCode, "redirects not followed by default")

	res, err = e.Send(context.Background(), Options{URL: srvURL + "/start", FollowRedirects: true})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "landed", res.Body)
}
