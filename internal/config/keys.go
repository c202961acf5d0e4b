package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DEEPDESK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "research.base_url", typ: kString, env: "DEEPDESK_RESEARCH_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Research.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Research.BaseURL },
	},
	{
		key: "research.app_url", typ: kString, env: "DEEPDESK_RESEARCH_APP_URL",
		apply:   func(cfg *Config, v any) { cfg.Research.AppURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Research.AppURL },
	},
	{
		key: "research.access_token", typ: kString, env: "DEEPDESK_ACCESS_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Research.AccessToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Research.AccessToken },
	},
	{
		key: "research.alert_email", typ: kString, env: "DEEPDESK_RESEARCH_ALERT_EMAIL",
		apply:   func(cfg *Config, v any) { cfg.Research.AlertEmail = v.(string) },
		extract: func(cfg Config) any { return cfg.Research.AlertEmail },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DEEPDESK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "history.max_items", typ: kInt, env: "DEEPDESK_HISTORY_MAX_ITEMS",
		apply:   func(cfg *Config, v any) { cfg.History.MaxItems = v.(int) },
		extract: func(cfg Config) any { return cfg.History.MaxItems },
	},
	{
		key: "polling.auth_failure_limit", typ: kInt, env: "DEEPDESK_POLLING_AUTH_FAILURE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Polling.AuthFailureLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Polling.AuthFailureLimit },
	},
	{
		key: "notify.bell", typ: kBool, env: "DEEPDESK_NOTIFY_BELL",
		apply:   func(cfg *Config, v any) { cfg.Notify.Bell = v.(bool) },
		extract: func(cfg Config) any { return cfg.Notify.Bell },
	},
	{
		key: "log.level", typ: kString, env: "DEEPDESK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "metrics.namespace", typ: kString, env: "DEEPDESK_METRICS_NAMESPACE",
		apply:   func(cfg *Config, v any) { cfg.Metrics.Namespace = v.(string) },
		extract: func(cfg Config) any { return cfg.Metrics.Namespace },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parse converts a raw string into the key's value type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%s wants an integer: %w", s.key, err)
		}
		return n, nil
	case kBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%s wants true or false: %w", s.key, err)
		}
		return b, nil
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (s.typ == kBool && raw == "") {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("ignoring stored config value", "key", s.key, "value", raw, "err", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

// applyEnvOverrides lets non-empty DEEPDESK_* variables win over stored
// values. Unparseable values are logged and skipped.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("ignoring environment override", "env", s.env, "value", raw, "err", err)
			continue
		}
		s.apply(cfg, v)
	}
}
