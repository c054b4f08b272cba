//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestFileBackendRoundTrip verifies SetKey persists through the XDG config
// file and comes back on the next load.
func TestFileBackendRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := SetKey("server.port", "8080"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := SetKey("sync.interval", "2m"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}

	b := newPlatformBackend()
	port, ok, err := b.GetInt("server.port")
	if err != nil || !ok || port != 8080 {
		t.Errorf("server.port = %d ok=%v err=%v, want 8080", port, ok, err)
	}

	clearEnv(t)
	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Sync.Interval != 2*time.Minute {
		t.Errorf("Sync.Interval = %v, want 2m", cfg.Sync.Interval)
	}
}

// TestSecretStoreRoundTrip verifies SetSecret writes the mode-0600 secrets
// file and Load picks the value up.
func TestSecretStoreRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataDir)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := SetSecret("cloud.api_key", "sk-test"); err != nil {
		t.Fatalf("SetSecret: %v", err)
	}

	got, err := keychainReader{}.Get(keychainService, "cloud_api_key")
	if err != nil {
		t.Fatalf("reading secret back: %v", err)
	}
	if got != "sk-test" {
		t.Errorf("secret = %q, want %q", got, "sk-test")
	}

	info, err := os.Stat(filepath.Join(dataDir, "nexusd", "secrets.json"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("secrets file mode = %o, want 600", perm)
	}

	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cloud.APIKey != "sk-test" {
		t.Errorf("Cloud.APIKey = %q, want %q", cfg.Cloud.APIKey, "sk-test")
	}
}
