package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
worlds:
  wurstmineberg:
    jlog_dir: /data/jlog
    logins_log: /data/logins.log
    deaths_log: /data/deaths.log
  creative:
    logins_log: /data/creative/logins.log
main_world: wurstmineberg
people_file: /data/people.json
worlds_dir: /data/world
staleness_threshold: 15s
server:
  address: ":9090"
  rate_limit: 100
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Worlds) != 2 {
		t.Errorf("worlds = %d, want 2", len(cfg.Worlds))
	}
	if cfg.Worlds["wurstmineberg"].JlogDir != "/data/jlog" {
		t.Errorf("jlog_dir = %q", cfg.Worlds["wurstmineberg"].JlogDir)
	}
	if cfg.MainWorld != "wurstmineberg" {
		t.Errorf("main_world = %q", cfg.MainWorld)
	}
	if cfg.StalenessThreshold != 15*time.Second {
		t.Errorf("staleness_threshold = %v", cfg.StalenessThreshold)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	if cfg.Server.RateLimit != 100 {
		t.Errorf("rate_limit = %v", cfg.Server.RateLimit)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
worlds:
  wurstmineberg:
    logins_log: /data/logins.log
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Address != DefaultAddress {
		t.Errorf("address = %q, want %q", cfg.Server.Address, DefaultAddress)
	}
	if cfg.StalenessThreshold != DefaultStaleness {
		t.Errorf("staleness_threshold = %v, want %v", cfg.StalenessThreshold, DefaultStaleness)
	}
	if cfg.CheckpointInterval != DefaultCheckpointInterval {
		t.Errorf("checkpoint_interval = %v, want %v", cfg.CheckpointInterval, DefaultCheckpointInterval)
	}
	if cfg.Logging.Level != DefaultLogLevel || cfg.Logging.Format != DefaultLogFormat {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	// A single configured world becomes the main world.
	if cfg.MainWorld != "wurstmineberg" {
		t.Errorf("main_world = %q, want wurstmineberg", cfg.MainWorld)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("WMB_DATA", "/srv/minecraft")
	path := writeConfig(t, `
worlds:
  wurstmineberg:
    logins_log: ${WMB_DATA}/logins.log
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Worlds["wurstmineberg"].LoginsLog; got != "/srv/minecraft/logins.log" {
		t.Errorf("logins_log = %q", got)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no worlds",
			content: `people_file: /data/people.json`,
			wantErr: "at least one world",
		},
		{
			name: "world without sources",
			content: `
worlds:
  empty: {}
`,
			wantErr: "no sources",
		},
		{
			name: "unknown main world",
			content: `
worlds:
  wurstmineberg:
    logins_log: /data/logins.log
main_world: nonexistent
`,
			wantErr: "not a configured world",
		},
		{
			name: "bad log level",
			content: `
worlds:
  wurstmineberg:
    logins_log: /data/logins.log
logging:
  level: loud
`,
			wantErr: "invalid log level",
		},
		{
			name: "bad log format",
			content: `
worlds:
  wurstmineberg:
    logins_log: /data/logins.log
logging:
  format: xml
`,
			wantErr: "invalid log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load() accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if cfg.MainWorld != "wurstmineberg" {
		t.Errorf("main_world = %q", cfg.MainWorld)
	}
}
