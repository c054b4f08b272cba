package config

import (
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Cloud   CloudConfig
	Sync    SyncConfig
	Quota   QuotaConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string // empty disables bearer auth on the local API
}

type StorageConfig struct {
	DataDir string
}

type CloudConfig struct {
	BaseURL string
	APIKey  string
	UserID  string
}

type SyncConfig struct {
	Enabled      bool
	InitialDelay time.Duration
	Interval     time.Duration
	PushTimeout  time.Duration
	ReadTimeout  time.Duration
}

type QuotaConfig struct {
	CacheTTL time.Duration
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

// HasCloudCredentials reports whether an API key is available. Without one
// the daemon still serves the local record store; sync and quota features
// stay off.
func (c Config) HasCloudCredentials() bool {
	return c.Cloud.APIKey != ""
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4700,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Cloud: CloudConfig{
			BaseURL: "https://api.nexusai.app",
			UserID:  "local",
		},
		Sync: SyncConfig{
			Enabled:      true,
			InitialDelay: 3 * time.Second,
			Interval:     5 * time.Minute,
			PushTimeout:  30 * time.Second,
			ReadTimeout:  10 * time.Second,
		},
		Quota: QuotaConfig{
			CacheTTL: time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.nexusai.nexusd) and
// secrets fall back to macOS Keychain (service: nexusd).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/nexusd/config.json
// and secrets fall back to $XDG_DATA_HOME/nexusd/secrets.json.
//
// Environment variables (NEXUSD_*) override backend values on all platforms.
// Nothing is required: with no cloud API key the daemon runs offline-only.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Secrets never live in the plain backend; fill any still empty from
	// the platform secret store.
	for _, s := range specs {
		if !s.secret || s.account == "" {
			continue
		}
		if v, _ := s.extract(cfg).(string); v != "" {
			continue
		}
		if val, err := kc.Get(keychainService, s.account); err == nil && val != "" {
			s.apply(&cfg, val)
		}
	}

	return cfg, nil
}

const keychainService = "nexusd"

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
