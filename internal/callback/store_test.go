//go:build !integration && !e2e
// +build !integration,!e2e

package callback

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/pmb-go/internal/models"
)

func testHit(injectionID string) models.CallbackHit {
	return models.CallbackHit{
		Time:        models.EpochSeconds(time.Now()),
		RemoteAddr:  "203.0.113.7",
		Method:      "GET",
		Args:        map[string]string{"id": injectionID, "source": "proxy-inject"},
		Headers:     map[string]string{"User-Agent": "curl/8.0"},
		InjectionID: injectionID,
	}
}

func TestStore_RecordAndListHits(t *testing.T) {
	s := NewStore("", zap.NewNop())

	s.RecordHit(testHit("a"))
	s.RecordHit(testHit("b"))

	hits := s.ListHits()
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].InjectionID, "arrival order")
	assert.Equal(t, "b", hits[1].InjectionID)

	s.ClearHits()
	assert.Empty(t, s.ListHits())
}

func TestStore_HitUpdatesKnownInjection(t *testing.T) {
	s := NewStore("", zap.NewNop())
	s.RegisterInjection("inj-1", models.Injection{
		Time:   models.EpochSeconds(time.Now()),
		Method: "GET",
		URL:    "http://example.com/",
	})

	s.RecordHit(testHit("inj-1"))

	inj, ok := s.GetInjection("inj-1")
	require.True(t, ok)
	require.Len(t, inj.Callbacks, 1)
	assert.Equal(t, "203.0.113.7", inj.Callbacks[0].RemoteAddr)
}

func TestStore_HitWithUnknownInjection(t *testing.T) {
	s := NewStore("", zap.NewNop())

	s.RecordHit(testHit("never-registered"))

	assert.Len(t, s.ListHits(), 1, "hit is still recorded")
	_, ok := s.GetInjection("never-registered")
	assert.False(t, ok, "no injection record appears")
}

func TestStore_MarkInjected(t *testing.T) {
	s := NewStore("", zap.NewNop())
	s.RegisterInjection("inj-1", models.Injection{Method: "GET"})

	s.MarkInjected("inj-1", time.Now())

	inj, ok := s.GetInjection("inj-1")
	require.True(t, ok)
	assert.True(t, inj.Injected)
	require.NotNil(t, inj.InjectedAt)

	// Unknown id is a no-op.
	s.MarkInjected("missing", time.Now())
}

func TestStore_PersistsAndReloads(t *testing.T) {
	dir := t.TempDir()

	s := NewStore(dir, zap.NewNop())
	s.RegisterInjection("inj-1", models.Injection{Method: "GET", URL: "http://example.com/"})
	s.RecordHit(testHit("inj-1"))

	// On-disk layouts: array of hits, map of injections.
	var rawHits []map[string]any
	data, err := os.ReadFile(filepath.Join(dir, "callbacks.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &rawHits))
	require.Len(t, rawHits, 1)
	assert.Equal(t, "inj-1", rawHits[0]["injection_id"])

	var rawInj map[string]map[string]any
	data, err = os.ReadFile(filepath.Join(dir, "injected.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &rawInj))
	require.Contains(t, rawInj, "inj-1")

	reloaded := NewStore(dir, zap.NewNop())
	assert.Len(t, reloaded.ListHits(), 1)
	inj, ok := reloaded.GetInjection("inj-1")
	require.True(t, ok)
	assert.Len(t, inj.Callbacks, 1)
}

func TestStore_CorruptFilesStartFresh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "callbacks.json"), []byte("[broken"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "injected.json"), []byte("{broken"), 0o644))

	s := NewStore(dir, zap.NewNop())
	assert.Empty(t, s.ListHits())
	assert.Empty(t, s.ListInjections())
}

func TestStore_ClearHitsPersistsEmptyArray(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, zap.NewNop())
	s.RecordHit(testHit("a"))
	s.ClearHits()

	data, err := os.ReadFile(filepath.Join(dir, "callbacks.json"))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}
