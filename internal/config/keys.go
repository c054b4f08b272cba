package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string // secret store account name, for secret keys
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "NEXUSD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "NEXUSD_API_TOKEN",
		secret: true, account: "api_token",
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "NEXUSD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "cloud.base_url", typ: kString, env: "NEXUSD_CLOUD_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Cloud.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cloud.BaseURL },
	},
	{
		key: "cloud.api_key", typ: kString, env: "NEXUSD_CLOUD_API_KEY",
		secret: true, account: "cloud_api_key",
		apply:   func(cfg *Config, v any) { cfg.Cloud.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Cloud.APIKey },
	},
	{
		key: "cloud.user_id", typ: kString, env: "NEXUSD_CLOUD_USER_ID",
		apply:   func(cfg *Config, v any) { cfg.Cloud.UserID = v.(string) },
		extract: func(cfg Config) any { return cfg.Cloud.UserID },
	},
	{
		key: "sync.enabled", typ: kBool, env: "NEXUSD_SYNC_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Sync.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Sync.Enabled },
	},
	{
		key: "sync.initial_delay", typ: kDuration, env: "NEXUSD_SYNC_INITIAL_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Sync.InitialDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sync.InitialDelay },
	},
	{
		key: "sync.interval", typ: kDuration, env: "NEXUSD_SYNC_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Sync.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sync.Interval },
	},
	{
		key: "sync.push_timeout", typ: kDuration, env: "NEXUSD_SYNC_PUSH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Sync.PushTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sync.PushTimeout },
	},
	{
		key: "sync.read_timeout", typ: kDuration, env: "NEXUSD_SYNC_READ_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Sync.ReadTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sync.ReadTimeout },
	},
	{
		key: "quota.cache_ttl", typ: kDuration, env: "NEXUSD_QUOTA_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Quota.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Quota.CacheTTL },
	},
	{
		key: "log.level", typ: kString, env: "NEXUSD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "NEXUSD_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
