// Package config provides configuration management with 4-tier priority:
// --set overrides > environment variables > YAML file > default values.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse. Bare
// numbers are taken as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all application configuration.
type Config struct {
	Proxy        ProxyConfig     `yaml:"proxy"`
	Dashboard    DashboardConfig `yaml:"dashboard"`
	Intercept    InterceptConfig `yaml:"intercept"`
	Logs         LogsConfig      `yaml:"logs"`
	Database     DatabaseConfig  `yaml:"database"`
	CallbackBase string          `yaml:"callback_base"`
}

// ProxyConfig holds the forward proxy listener configuration.
type ProxyConfig struct {
	Listen          string   `yaml:"listen"`
	UpstreamTimeout Duration `yaml:"upstream_timeout"`
	DecisionWait    Duration `yaml:"decision_wait"`
	DialTimeout     Duration `yaml:"dial_timeout"`
	// StatusURL, when set, makes the proxy poll an external dashboard
	// for the intercept toggle instead of reading it in-process.
	StatusURL string `yaml:"status_url"`
}

// DashboardConfig holds the dashboard / control-plane configuration.
type DashboardConfig struct {
	Listen string `yaml:"listen"`
	// URL is the address the dashboard is reachable at from the
	// operator's browser, used for bypass detection and PAC output.
	URL string `yaml:"url"`
}

// InterceptConfig tunes the pending-flow purger.
type InterceptConfig struct {
	PurgeInterval Duration `yaml:"purge_interval"`
	PurgeAge      Duration `yaml:"purge_age"`
}

// LogsConfig holds logging configuration.
type LogsConfig struct {
	Dir      string            `yaml:"dir"`
	Level    string            `yaml:"level"`
	Rotation LogRotationConfig `yaml:"rotation"`
}

// LogRotationConfig holds log rotation settings powered by lumberjack.
type LogRotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// DatabaseConfig holds the template store configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Proxy: ProxyConfig{
			Listen:          ":8080",
			UpstreamTimeout: Duration(15 * time.Second),
			DecisionWait:    Duration(30 * time.Second),
			DialTimeout:     Duration(10 * time.Second),
		},
		Dashboard: DashboardConfig{
			Listen: ":5000",
			URL:    "http://127.0.0.1:5000",
		},
		Intercept: InterceptConfig{
			PurgeInterval: Duration(60 * time.Second),
			PurgeAge:      Duration(60 * time.Second),
		},
		Logs: LogsConfig{
			Dir:   "logs",
			Level: "info",
			Rotation: LogRotationConfig{
				MaxSizeMB:  10,
				MaxBackups: 5,
				MaxAgeDays: 30,
				Compress:   true,
			},
		},
		Database: DatabaseConfig{
			Path: "data/pmb.db",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Proxy.Listen == "" {
		return &ConfigError{Field: "proxy.listen", Message: "must not be empty"}
	}
	if c.Dashboard.Listen == "" {
		return &ConfigError{Field: "dashboard.listen", Message: "must not be empty"}
	}
	if u, err := url.Parse(c.Dashboard.URL); err != nil || !u.IsAbs() || u.Host == "" {
		return &ConfigError{Field: "dashboard.url", Message: "must be an absolute URL"}
	}
	if c.CallbackBase != "" {
		if u, err := url.Parse(c.CallbackBase); err != nil || !u.IsAbs() || u.Host == "" {
			return &ConfigError{Field: "callback_base", Message: "must be an absolute URL"}
		}
	}
	if c.Proxy.StatusURL != "" {
		if u, err := url.Parse(c.Proxy.StatusURL); err != nil || !u.IsAbs() || u.Host == "" {
			return &ConfigError{Field: "proxy.status_url", Message: "must be an absolute URL"}
		}
	}
	if c.Proxy.DecisionWait.Std() <= 0 {
		return &ConfigError{Field: "proxy.decision_wait", Message: "must be positive"}
	}
	if c.Proxy.UpstreamTimeout.Std() <= 0 {
		return &ConfigError{Field: "proxy.upstream_timeout", Message: "must be positive"}
	}
	if c.Intercept.PurgeInterval.Std() <= 0 || c.Intercept.PurgeAge.Std() <= 0 {
		return &ConfigError{Field: "intercept", Message: "purge settings must be positive"}
	}
	return nil
}

// EffectiveCallbackBase is where injected beacons phone home. Unless set
// explicitly it hangs off the dashboard URL.
func (c *Config) EffectiveCallbackBase() string {
	if c.CallbackBase != "" {
		return c.CallbackBase
	}
	return strings.TrimRight(c.Dashboard.URL, "/") + "/callback"
}

// ControlPlaneHosts lists the hostnames the proxy must forward verbatim
// so the dashboard and callback endpoints are never intercepted.
func (c *Config) ControlPlaneHosts() []string {
	seen := map[string]struct{}{}
	var hosts []string
	add := func(raw string) {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			return
		}
		h := strings.ToLower(u.Hostname())
		if _, ok := seen[h]; !ok {
			seen[h] = struct{}{}
			hosts = append(hosts, h)
		}
	}
	add(c.Dashboard.URL)
	add(c.EffectiveCallbackBase())
	return hosts
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + ": " + e.Message
}

// Helper functions for environment variable parsing.

func getEnvStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	lower := strings.ToLower(v)
	return lower == "true" || lower == "1" || lower == "yes" || lower == "on"
}

func getEnvDuration(key string, defaultVal Duration) Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return Duration(dur)
}
