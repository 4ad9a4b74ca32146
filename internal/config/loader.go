package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultConfigFile is consulted when no --config flag is given.
const defaultConfigFile = "pmb.yaml"

// Load builds the configuration: defaults, then the YAML file, then
// PMB_* environment variables, then --set key=value overrides (highest).
func Load(file string, overrides []string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := file != ""
	if !explicit {
		file = defaultConfigFile
	}
	if err := loadFile(cfg, file, explicit); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	for _, kv := range overrides {
		if err := applySet(cfg, kv); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile merges a YAML file into cfg. A missing file is only an error
// when the operator asked for it by name.
func loadFile(cfg *Config, file string, explicit bool) error {
	data, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", file, err)
	}
	return nil
}

// applyEnvOverrides applies PMB_* environment variables.
func applyEnvOverrides(cfg *Config) {
	cfg.Proxy.Listen = getEnvStr("PMB_PROXY_LISTEN", cfg.Proxy.Listen)
	cfg.Proxy.UpstreamTimeout = getEnvDuration("PMB_UPSTREAM_TIMEOUT", cfg.Proxy.UpstreamTimeout)
	cfg.Proxy.DecisionWait = getEnvDuration("PMB_DECISION_WAIT", cfg.Proxy.DecisionWait)
	cfg.Proxy.DialTimeout = getEnvDuration("PMB_DIAL_TIMEOUT", cfg.Proxy.DialTimeout)
	cfg.Proxy.StatusURL = getEnvStr("PMB_STATUS_URL", cfg.Proxy.StatusURL)

	cfg.Dashboard.Listen = getEnvStr("PMB_DASHBOARD_LISTEN", cfg.Dashboard.Listen)
	cfg.Dashboard.URL = getEnvStr("PMB_DASHBOARD_URL", cfg.Dashboard.URL)
	cfg.CallbackBase = getEnvStr("PMB_CALLBACK_BASE", cfg.CallbackBase)

	cfg.Intercept.PurgeInterval = getEnvDuration("PMB_PURGE_INTERVAL", cfg.Intercept.PurgeInterval)
	cfg.Intercept.PurgeAge = getEnvDuration("PMB_PURGE_AGE", cfg.Intercept.PurgeAge)

	cfg.Logs.Dir = getEnvStr("PMB_LOG_DIR", cfg.Logs.Dir)
	cfg.Logs.Level = getEnvStr("PMB_LOG_LEVEL", cfg.Logs.Level)
	cfg.Logs.Rotation.MaxSizeMB = getEnvInt("PMB_LOG_MAX_SIZE_MB", cfg.Logs.Rotation.MaxSizeMB)
	cfg.Logs.Rotation.MaxBackups = getEnvInt("PMB_LOG_MAX_BACKUPS", cfg.Logs.Rotation.MaxBackups)
	cfg.Logs.Rotation.MaxAgeDays = getEnvInt("PMB_LOG_MAX_AGE_DAYS", cfg.Logs.Rotation.MaxAgeDays)
	cfg.Logs.Rotation.Compress = getEnvBool("PMB_LOG_COMPRESS", cfg.Logs.Rotation.Compress)

	cfg.Database.Path = getEnvStr("PMB_DB_PATH", cfg.Database.Path)
}

// applySet handles one --set key=value override.
func applySet(cfg *Config, kv string) error {
	key, value, ok := strings.Cut(kv, "=")
	if !ok {
		return fmt.Errorf("invalid --set %q, want key=value", kv)
	}
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)

	setDuration := func(dst *Duration) error {
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		*dst = Duration(dur)
		return nil
	}

	switch key {
	case "proxy.listen", "proxy_listen":
		cfg.Proxy.Listen = value
	case "proxy.upstream_timeout", "upstream_timeout":
		return setDuration(&cfg.Proxy.UpstreamTimeout)
	case "proxy.decision_wait", "decision_wait":
		return setDuration(&cfg.Proxy.DecisionWait)
	case "proxy.status_url", "status_url":
		cfg.Proxy.StatusURL = value
	case "dashboard.listen", "dashboard_listen":
		cfg.Dashboard.Listen = value
	case "dashboard.url", "dashboard_url":
		cfg.Dashboard.URL = value
	case "callback_base":
		cfg.CallbackBase = value
	case "intercept.purge_interval", "purge_interval":
		return setDuration(&cfg.Intercept.PurgeInterval)
	case "intercept.purge_age", "purge_age":
		return setDuration(&cfg.Intercept.PurgeAge)
	case "logs.dir", "log_dir":
		cfg.Logs.Dir = value
	case "logs.level", "log_level":
		cfg.Logs.Level = value
	case "database.path", "db_path":
		cfg.Database.Path = value
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}
