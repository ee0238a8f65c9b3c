package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL           = "http://localhost:8000"
	DefaultWSURL             = "ws://localhost:8000"
	DefaultAPITimeout        = 30 * time.Second
	DefaultMaxRetries        = 3
	DefaultRetryBackoff      = 1 * time.Second
	DefaultRunPath           = "/api/efp/ws/run"
	DefaultRecapPath         = "/api/efp/ws/recaps"
	DefaultBlotterPath       = "/api/blotter/ws/list"
	DefaultReconnectDelay    = 2 * time.Second
	DefaultReconnectMaxDelay = 30 * time.Second
	DefaultPingTimeout       = 60 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultFeedBufferSize    = 64
	DefaultSnapshotTimeout   = 10 * time.Second
	DefaultCommandPrefix     = "send"
	DefaultSuggestionLimit   = 8
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultBatchSize         = 100
	DefaultFlushInterval     = 1 * time.Second
	DefaultJournalBufferSize = 1024
	DefaultLogLevel          = "info"
)

// ApplyDefaults fills zero-valued optional fields.
func (c *DeskConfig) ApplyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}

	// Feed defaults
	if c.Feeds.RunPath == "" {
		c.Feeds.RunPath = DefaultRunPath
	}
	if c.Feeds.BlotterPath == "" && !c.Feeds.DisableBlotter {
		c.Feeds.BlotterPath = DefaultBlotterPath
	}
	if c.Feeds.RecapPath == "" && !c.Feeds.DisableRecaps {
		c.Feeds.RecapPath = DefaultRecapPath
	}
	if c.Feeds.ReconnectDelay == 0 {
		c.Feeds.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Feeds.ReconnectMaxDelay == 0 {
		c.Feeds.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Feeds.PingTimeout == 0 {
		c.Feeds.PingTimeout = DefaultPingTimeout
	}
	if c.Feeds.WriteTimeout == 0 {
		c.Feeds.WriteTimeout = DefaultWriteTimeout
	}
	if c.Feeds.BufferSize == 0 {
		c.Feeds.BufferSize = DefaultFeedBufferSize
	}

	// Snapshot defaults
	if c.Snapshot.Timeout == 0 {
		c.Snapshot.Timeout = DefaultSnapshotTimeout
	}

	// Composer defaults
	if c.Composer.CommandPrefix == "" {
		c.Composer.CommandPrefix = DefaultCommandPrefix
	}
	if c.Composer.SuggestionLimit == 0 {
		c.Composer.SuggestionLimit = DefaultSuggestionLimit
	}

	// Journal defaults
	applyDBDefaults(&c.Journal.Database)
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultJournalBufferSize
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
