//go:build !integration && !e2e
// +build !integration,!e2e

package intercept

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestToggle_DefaultsOff(t *testing.T) {
	tg := NewToggle("", zap.NewNop())
	assert.False(t, tg.Enabled())
}

func TestToggle_SetAndFlip(t *testing.T) {
	tg := NewToggle("", zap.NewNop())

	assert.True(t, tg.Set(true))
	assert.True(t, tg.Enabled())

	assert.False(t, tg.Flip())
	assert.True(t, tg.Flip())
	assert.True(t, tg.Enabled())
}

func TestToggle_PersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intercept_state.json")

	tg := NewToggle(path, zap.NewNop())
	tg.Set(true)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"enabled": true}`, string(data))

	reloaded := NewToggle(path, zap.NewNop())
	assert.True(t, reloaded.Enabled())
}

func TestToggle_CorruptStateDefaultsOff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intercept_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	tg := NewToggle(path, zap.NewNop())
	assert.False(t, tg.Enabled())
}
