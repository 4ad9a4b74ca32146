//go:build !integration && !e2e
// +build !integration,!e2e

package requestlog

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var linePrefix = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] `)

func TestRequestResponseLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.log")
	l := New(path)

	l.Request("GET", "http://example.com/page", "curl/8.0")
	l.Response("GET", "http://example.com/page", 200, "text/html")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	assert.Regexp(t, linePrefix, lines[0])
	assert.True(t, strings.HasSuffix(lines[0], "REQ GET http://example.com/page UA:curl/8.0"))
	assert.True(t, strings.HasSuffix(lines[1], "RES GET http://example.com/page -> 200 (text/html)"))
}

func TestDiscardLoggerIsSafe(t *testing.T) {
	l := NewDiscard()
	l.Request("GET", "http://example.com/", "")
	l.Response("GET", "http://example.com/", 502, "")
	assert.NoError(t, l.Close())
}
