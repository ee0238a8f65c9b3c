package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rickgao/efp-desk/internal/model"
)

func TestLoad(t *testing.T) {
	yaml := `
api:
  rest_url: https://desk.example.com
  ws_url: wss://desk.example.com
feeds:
  reconnect_delay: 2s
  reconnect_max_delay: 2s
directory:
  contacts:
    - id: "+447700900123"
      name: Alice WhatsApp
      type: external-contact
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.RestURL != "https://desk.example.com" {
		t.Errorf("API.RestURL = %q, want %q", cfg.API.RestURL, "https://desk.example.com")
	}
	if cfg.Feeds.ReconnectDelay != 2*time.Second {
		t.Errorf("Feeds.ReconnectDelay = %v, want 2s", cfg.Feeds.ReconnectDelay)
	}
	if len(cfg.Directory.Contacts) != 1 {
		t.Fatalf("len(Directory.Contacts) = %d, want 1", len(cfg.Directory.Contacts))
	}
	want := model.Destination{ID: "+447700900123", Name: "Alice WhatsApp", Type: model.DestinationExternalContact}
	if cfg.Directory.Contacts[0] != want {
		t.Errorf("Directory.Contacts[0] = %+v, want %+v", cfg.Directory.Contacts[0], want)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DESK_HOST", "10.0.0.5:8000")
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
api:
  rest_url: http://${TEST_DESK_HOST}
  ws_url: ws://${TEST_DESK_HOST}
journal:
  database:
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.WSURL != "ws://10.0.0.5:8000" {
		t.Errorf("API.WSURL = %q, want %q", cfg.API.WSURL, "ws://10.0.0.5:8000")
	}
	if cfg.Journal.Database.Password != "secret123" {
		t.Errorf("Journal.Database.Password = %q, want %q", cfg.Journal.Database.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, "log:\n  level: debug\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.API.RestURL != DefaultRestURL {
		t.Errorf("API.RestURL = %q, want default %q", cfg.API.RestURL, DefaultRestURL)
	}
	if cfg.Feeds.RunPath != DefaultRunPath {
		t.Errorf("Feeds.RunPath = %q, want default %q", cfg.Feeds.RunPath, DefaultRunPath)
	}
	if cfg.Feeds.BlotterPath != DefaultBlotterPath {
		t.Errorf("Feeds.BlotterPath = %q, want default %q", cfg.Feeds.BlotterPath, DefaultBlotterPath)
	}
	if cfg.Feeds.ReconnectDelay != DefaultReconnectDelay {
		t.Errorf("Feeds.ReconnectDelay = %v, want default %v", cfg.Feeds.ReconnectDelay, DefaultReconnectDelay)
	}
	if cfg.Composer.CommandPrefix != DefaultCommandPrefix {
		t.Errorf("Composer.CommandPrefix = %q, want default %q", cfg.Composer.CommandPrefix, DefaultCommandPrefix)
	}
	if cfg.Composer.SuggestionLimit != DefaultSuggestionLimit {
		t.Errorf("Composer.SuggestionLimit = %d, want default %d", cfg.Composer.SuggestionLimit, DefaultSuggestionLimit)
	}
	if cfg.Journal.Database.Port != DefaultDBPort {
		t.Errorf("Journal.Database.Port = %d, want default %d", cfg.Journal.Database.Port, DefaultDBPort)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
}

func TestLoadWithDefaults_DisableBlotter(t *testing.T) {
	path := writeTempFile(t, "feeds:\n  disable_blotter: true\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if cfg.Feeds.BlotterPath != "" {
		t.Errorf("Feeds.BlotterPath = %q, want empty", cfg.Feeds.BlotterPath)
	}
}

func TestLoadWithDefaults_DisableRecaps(t *testing.T) {
	path := writeTempFile(t, "feeds:\n  disable_recaps: true\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if cfg.Feeds.RecapPath != "" {
		t.Errorf("Feeds.RecapPath = %q, want empty", cfg.Feeds.RecapPath)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("Load() error = nil, want error for missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() DeskConfig {
		return *Default()
	}

	tests := []struct {
		name    string
		mutate  func(*DeskConfig)
		wantErr string
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*DeskConfig) {},
			wantErr: "",
		},
		{
			name:    "missing rest url",
			mutate:  func(c *DeskConfig) { c.API.RestURL = "" },
			wantErr: "api.rest_url is required",
		},
		{
			name:    "ws url with http scheme",
			mutate:  func(c *DeskConfig) { c.API.WSURL = "http://localhost:8000" },
			wantErr: `api.ws_url scheme must be one of ws, wss, got "http"`,
		},
		{
			name: "max delay below delay",
			mutate: func(c *DeskConfig) {
				c.Feeds.ReconnectDelay = 5 * time.Second
				c.Feeds.ReconnectMaxDelay = time.Second
			},
			wantErr: "feeds.reconnect_max_delay (1s) cannot be less than reconnect_delay (5s)",
		},
		{
			name:    "multi word prefix",
			mutate:  func(c *DeskConfig) { c.Composer.CommandPrefix = "send to" },
			wantErr: `composer.command_prefix must be a single word, got "send to"`,
		},
		{
			name: "contact without id",
			mutate: func(c *DeskConfig) {
				c.Directory.Contacts = []model.Destination{{Name: "Bob"}}
			},
			wantErr: "directory.contacts[0].id is required",
		},
		{
			name: "journal without host",
			mutate: func(c *DeskConfig) {
				c.Journal.Enabled = true
			},
			wantErr: "journal.database.host is required",
		},
		{
			name: "journal min_conns exceeds max_conns",
			mutate: func(c *DeskConfig) {
				c.Journal.Enabled = true
				c.Journal.Database = DBConfig{Host: "localhost", Name: "desk", User: "user", Password: "pass", MaxConns: 2, MinConns: 5}
			},
			wantErr: "journal.database.min_conns (5) cannot exceed max_conns (2)",
		},
		{
			name:    "bad health port",
			mutate:  func(c *DeskConfig) { c.Health.Port = 70000 },
			wantErr: "health.port must be between 0 and 65535, got 70000",
		},
		{
			name:    "bad log level",
			mutate:  func(c *DeskConfig) { c.Log.Level = "loud" },
			wantErr: `log.level "loud" is not one of debug, info, warn, error`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
