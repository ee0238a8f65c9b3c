package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *DeskConfig) Validate() error {
	if c.API.RestURL == "" {
		return errors.New("api.rest_url is required")
	}
	if err := validateURL("api.rest_url", c.API.RestURL, "http", "https"); err != nil {
		return err
	}
	if c.API.WSURL == "" {
		return errors.New("api.ws_url is required")
	}
	if err := validateURL("api.ws_url", c.API.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if c.Feeds.RunPath == "" {
		return errors.New("feeds.run_path is required")
	}
	if c.Feeds.RecapPath == "" && !c.Feeds.DisableRecaps {
		return errors.New("feeds.recap_path is required")
	}
	if c.Feeds.ReconnectDelay <= 0 {
		return errors.New("feeds.reconnect_delay must be > 0")
	}
	if c.Feeds.ReconnectMaxDelay < c.Feeds.ReconnectDelay {
		return fmt.Errorf("feeds.reconnect_max_delay (%s) cannot be less than reconnect_delay (%s)",
			c.Feeds.ReconnectMaxDelay, c.Feeds.ReconnectDelay)
	}
	if c.Feeds.BufferSize < 1 {
		return errors.New("feeds.buffer_size must be >= 1")
	}

	if c.Snapshot.RefreshInterval < 0 {
		return errors.New("snapshot.refresh_interval must be >= 0")
	}

	if strings.TrimSpace(c.Composer.CommandPrefix) == "" {
		return errors.New("composer.command_prefix is required")
	}
	if strings.ContainsAny(c.Composer.CommandPrefix, " \t\n") {
		return fmt.Errorf("composer.command_prefix must be a single word, got %q", c.Composer.CommandPrefix)
	}
	if c.Composer.SuggestionLimit < 1 {
		return errors.New("composer.suggestion_limit must be >= 1")
	}

	for i, d := range c.Directory.Contacts {
		if d.ID == "" {
			return fmt.Errorf("directory.contacts[%d].id is required", i)
		}
		if d.Name == "" {
			return fmt.Errorf("directory.contacts[%d].name is required", i)
		}
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
	}

	if c.Health.Port < 0 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 0 and 65535, got %d", c.Health.Port)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

// ParseLevel maps a configured level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", level)
	}
	return l, nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid url: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s scheme must be one of %s, got %q", field, strings.Join(schemes, ", "), u.Scheme)
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
