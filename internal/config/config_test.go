//go:build !integration && !e2e
// +build !integration,!e2e

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Proxy.Listen)
	assert.Equal(t, ":5000", cfg.Dashboard.Listen)
	assert.Equal(t, 30*time.Second, cfg.Proxy.DecisionWait.Std())
	assert.Equal(t, 15*time.Second, cfg.Proxy.UpstreamTimeout.Std())
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pmb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
proxy:
  listen: ":9090"
  decision_wait: 10s
dashboard:
  url: "http://proxy-box.lan:5000"
callback_base: "http://proxy-box.lan:5000/callback"
logs:
  level: debug
`), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Proxy.Listen)
	assert.Equal(t, 10*time.Second, cfg.Proxy.DecisionWait.Std())
	assert.Equal(t, "http://proxy-box.lan:5000", cfg.Dashboard.URL)
	assert.Equal(t, "debug", cfg.Logs.Level)
	// Untouched keys keep defaults.
	assert.Equal(t, ":5000", cfg.Dashboard.Listen)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pmb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("proxy:\n  listen: \":9090\"\n"), 0o644))

	t.Setenv("PMB_PROXY_LISTEN", ":7070")
	t.Setenv("PMB_DECISION_WAIT", "5s")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Proxy.Listen)
	assert.Equal(t, 5*time.Second, cfg.Proxy.DecisionWait.Std())
}

func TestLoad_SetBeatsEnv(t *testing.T) {
	t.Setenv("PMB_DASHBOARD_URL", "http://from-env:5000")

	cfg, err := Load("", []string{
		"dashboard_url=http://from-set:5000",
		"callback_base=http://cb.example:5000/callback",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://from-set:5000", cfg.Dashboard.URL)
	assert.Equal(t, "http://cb.example:5000/callback", cfg.CallbackBase)
}

func TestLoad_BadSet(t *testing.T) {
	_, err := Load("", []string{"no-equals-sign"})
	assert.Error(t, err)

	_, err = Load("", []string{"mystery_key=1"})
	assert.Error(t, err)

	_, err = Load("", []string{"decision_wait=not-a-duration"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty proxy listen", func(c *Config) { c.Proxy.Listen = "" }},
		{"empty dashboard listen", func(c *Config) { c.Dashboard.Listen = "" }},
		{"relative dashboard url", func(c *Config) { c.Dashboard.URL = "/ui" }},
		{"bad callback base", func(c *Config) { c.CallbackBase = "not a url at all\x00" }},
		{"zero decision wait", func(c *Config) { c.Proxy.DecisionWait = 0 }},
		{"zero purge interval", func(c *Config) { c.Intercept.PurgeInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var cerr *ConfigError
			assert.ErrorAs(t, err, &cerr)
		})
	}
}

func TestEffectiveCallbackBase(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "http://127.0.0.1:5000/callback", cfg.EffectiveCallbackBase())

	cfg.CallbackBase = "http://public.example/cb"
	assert.Equal(t, "http://public.example/cb", cfg.EffectiveCallbackBase())
}

func TestControlPlaneHosts(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, []string{"127.0.0.1"}, cfg.ControlPlaneHosts())

	cfg.CallbackBase = "http://callbacks.example.net/cb"
	hosts := cfg.ControlPlaneHosts()
	assert.ElementsMatch(t, []string{"127.0.0.1", "callbacks.example.net"}, hosts)
}
