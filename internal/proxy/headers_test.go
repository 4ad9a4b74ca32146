//go:build !integration && !e2e
// +build !integration,!e2e

package proxy

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoveHopByHopHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "keep-alive, X-Custom-Hop")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Proxy-Authorization", "Basic xxx")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("X-Custom-Hop", "drop me")
	h.Set("Content-Type", "text/html")
	h.Set("Authorization", "Bearer yyy")

	removeHopByHopHeaders(h)

	for _, gone := range []string{
		"Connection", "Keep-Alive", "Proxy-Authorization",
		"Transfer-Encoding", "X-Custom-Hop",
	} {
		assert.Empty(t, h.Get(gone), "%s should be stripped", gone)
	}
	assert.Equal(t, "text/html", h.Get("Content-Type"))
	assert.Equal(t, "Bearer yyy", h.Get("Authorization"))
}

func TestIsHopByHopHeader(t *testing.T) {
	assert.True(t, isHopByHopHeader("connection"))
	assert.True(t, isHopByHopHeader("Proxy-Connection"))
	assert.False(t, isHopByHopHeader("Content-Type"))
}

func TestTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "Yes", "yes"} {
		assert.True(t, truthy(v), v)
	}
	for _, v := range []string{"", "0", "false", "no", "on", "enabled"} {
		assert.False(t, truthy(v), v)
	}
}
