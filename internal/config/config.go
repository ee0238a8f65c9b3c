package config

import (
	"time"

	"github.com/rickgao/efp-desk/internal/model"
)

// DeskConfig is the root configuration for a desk client.
type DeskConfig struct {
	API       APIConfig       `yaml:"api"`
	Feeds     FeedsConfig     `yaml:"feeds"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Composer  ComposerConfig  `yaml:"composer"`
	Directory DirectoryConfig `yaml:"directory"`
	Journal   JournalConfig   `yaml:"journal"`
	Health    HealthConfig    `yaml:"health"`
	Log       LogConfig       `yaml:"log"`
}

// APIConfig holds backend endpoint settings.
type APIConfig struct {
	RestURL      string        `yaml:"rest_url"`
	WSURL        string        `yaml:"ws_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// FeedsConfig holds live feed settings. Paths are joined onto api.ws_url.
type FeedsConfig struct {
	RunPath     string `yaml:"run_path"`
	RecapPath   string `yaml:"recap_path"`
	BlotterPath string `yaml:"blotter_path"`

	// DisableBlotter skips the blotter feed and its bootstrap.
	DisableBlotter bool `yaml:"disable_blotter"`

	// DisableRecaps skips the recap feed. Recaps bundled in the run push
	// are then applied instead.
	DisableRecaps bool `yaml:"disable_recaps"`

	// ReconnectDelay is the wait before the first reconnect attempt.
	// ReconnectMaxDelay caps exponential growth; equal to ReconnectDelay
	// gives a fixed delay.
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`

	PingTimeout  time.Duration `yaml:"ping_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	BufferSize   int           `yaml:"buffer_size"`
}

// SnapshotConfig holds bootstrap fetch settings.
type SnapshotConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"` // 0 = bootstrap only
	Timeout         time.Duration `yaml:"timeout"`
}

// ComposerConfig holds command entry settings.
type ComposerConfig struct {
	CommandPrefix   string `yaml:"command_prefix"`
	SuggestionLimit int    `yaml:"suggestion_limit"`
}

// DirectoryConfig holds destinations known locally, merged after the
// backend's list.
type DirectoryConfig struct {
	Contacts []model.Destination `yaml:"contacts"`
}

// JournalConfig holds the optional conversation and recap journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"` // 0 disables
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}
