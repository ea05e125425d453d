package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.HTTPAddr = ":8080"
	cfg.Upstream.AccountSID = "AC123"
	cfg.Upstream.AuthToken = "secret"
	cfg.Sync.LookbackDays = 30
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", loaded.HTTPAddr)
	}
	if loaded.Sync.LookbackDays != 30 {
		t.Errorf("LookbackDays = %d, want 30", loaded.Sync.LookbackDays)
	}
	if loaded.Upstream.Demo() {
		t.Error("Demo() = true with credentials configured")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v, want defaults for a missing file", err)
	}
	if cfg.HTTPAddr != ":3000" {
		t.Errorf("HTTPAddr = %q, want default :3000", cfg.HTTPAddr)
	}
	if !cfg.Upstream.Demo() {
		t.Error("Demo() = false without credentials")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MILOVIEW_ACCOUNT_SID", "ACenv")
	t.Setenv("MILOVIEW_AUTH_TOKEN", "tokenenv")
	t.Setenv("MILOVIEW_HTTP_ADDR", ":9999")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Upstream.AccountSID != "ACenv" || cfg.Upstream.AuthToken != "tokenenv" {
		t.Errorf("credentials = %q/%q, want env values", cfg.Upstream.AccountSID, cfg.Upstream.AuthToken)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want :9999", cfg.HTTPAddr)
	}
}

func TestTwilioEnvFallback(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AClegacy")
	t.Setenv("TWILIO_AUTH_TOKEN", "legacy")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Upstream.AccountSID != "AClegacy" {
		t.Errorf("AccountSID = %q, want TWILIO_ACCOUNT_SID fallback", cfg.Upstream.AccountSID)
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestEnsureDataDir(t *testing.T) {
	cfg := Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	if err := cfg.EnsureDataDir(); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{cfg.DataDir, cfg.LogDir(), cfg.ExportDir()} {
		if _, err := os.Stat(d); err != nil {
			t.Errorf("missing dir %s: %v", d, err)
		}
	}
}
