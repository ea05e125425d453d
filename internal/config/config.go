package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration, read from config.toml with
// MILOVIEW_* environment overrides for deploy-time settings.
type Config struct {
	HTTPAddr string `toml:"http_addr"`
	DataDir  string `toml:"data_dir"`

	Upstream  Upstream  `toml:"upstream"`
	Sync      Sync      `toml:"sync"`
	RateLimit RateLimit `toml:"rate_limit"`
}

// Upstream configures the messages API the dashboard syncs from. When
// the account SID or auth token is absent the daemon runs in demo mode
// and serves fixture data instead of failing.
type Upstream struct {
	AccountSID string `toml:"account_sid"`
	AuthToken  string `toml:"auth_token"`
	BaseURL    string `toml:"base_url"`
	PageSize   int    `toml:"page_size"`
}

// Demo reports whether upstream credentials are missing.
func (u Upstream) Demo() bool {
	return u.AccountSID == "" || u.AuthToken == ""
}

// Sync configures the sync controller and its scheduler.
type Sync struct {
	// IncrementalSeconds is the short timer that fetches only messages
	// newer than the latest cached timestamp.
	IncrementalSeconds int `toml:"incremental_seconds"`
	// RepairMinutes is the slower timer that runs a bounded full
	// resync to repair gaps the short window can miss.
	RepairMinutes int `toml:"repair_minutes"`
	// LookbackDays bounds the historical window of a full sync.
	LookbackDays int `toml:"lookback_days"`
	// RepairLookbackDays bounds the periodic repair resync window.
	RepairLookbackDays int `toml:"repair_lookback_days"`
}

// RateLimit throttles the mutating HTTP endpoints per client IP.
// RPS <= 0 disables limiting (tests rely on that).
type RateLimit struct {
	RPS   float64 `toml:"rps"`
	Burst int     `toml:"burst"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		HTTPAddr: ":3000",
		DataDir:  filepath.Join(home, ".miloview"),
		Upstream: Upstream{
			BaseURL:  "https://api.twilio.com",
			PageSize: 1000,
		},
		Sync: Sync{
			IncrementalSeconds: 30,
			RepairMinutes:      10,
			LookbackDays:       90,
			RepairLookbackDays: 7,
		},
		RateLimit: RateLimit{RPS: 5, Burst: 10},
	}
}

// Load reads configuration from path. A missing file is not an error:
// the defaults apply, so the daemon can boot straight into demo mode.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setenv := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	setenv(&c.HTTPAddr, "MILOVIEW_HTTP_ADDR")
	setenv(&c.DataDir, "MILOVIEW_DATA_DIR")
	// TWILIO_* kept for parity with existing deployments.
	setenv(&c.Upstream.AccountSID, "MILOVIEW_ACCOUNT_SID", "TWILIO_ACCOUNT_SID")
	setenv(&c.Upstream.AuthToken, "MILOVIEW_AUTH_TOKEN", "TWILIO_AUTH_TOKEN")
	setenv(&c.Upstream.BaseURL, "MILOVIEW_BASE_URL")
}

// Save writes the config to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Path helpers rooted at DataDir.

// EnsureDataDir creates the data directory tree.
func (c *Config) EnsureDataDir() error {
	for _, d := range []string{c.DataDir, c.LogDir(), c.ExportDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// LogDir returns the daemon log directory.
func (c *Config) LogDir() string { return filepath.Join(c.DataDir, "logs") }

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string { return filepath.Join(c.LogDir(), "miloviewd.log") }

// BackupDBPath returns the SQLite cache-mirror path.
func (c *Config) BackupDBPath() string { return filepath.Join(c.DataDir, "backup.db") }

// BlocklistPath returns the blocked-numbers file path.
func (c *Config) BlocklistPath() string { return filepath.Join(c.DataDir, "blocked_numbers.json") }

// ExportDir returns the directory export snapshots are written to.
func (c *Config) ExportDir() string { return filepath.Join(c.DataDir, "exports") }

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".miloview", "config.toml")
}
