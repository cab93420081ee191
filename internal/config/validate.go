package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks that values are in range. Credentials are not required here.
func (c *Config) Validate() error {
	if c.Connection.HandshakeTimeout <= 0 {
		return errors.New("connection.handshake_timeout must be > 0")
	}
	if c.Connection.WriteTimeout <= 0 {
		return errors.New("connection.write_timeout must be > 0")
	}
	if c.Connection.ShutdownTimeout <= 0 {
		return errors.New("connection.shutdown_timeout must be > 0")
	}
	if c.Connection.ReadLimit < 0 {
		return errors.New("connection.read_limit must be >= 0")
	}

	if c.Relay.ListenAddr == "" {
		return errors.New("relay.listen_addr is required")
	}
	if c.Relay.StreamBufferSize < 1 {
		return errors.New("relay.stream_buffer_size must be >= 1")
	}
	if c.Relay.StreamMaxBufferSize < c.Relay.StreamBufferSize {
		return fmt.Errorf("relay.stream_max_buffer_size (%d) cannot be less than stream_buffer_size (%d)",
			c.Relay.StreamMaxBufferSize, c.Relay.StreamBufferSize)
	}
	if c.Relay.RequestTimeout <= 0 {
		return errors.New("relay.request_timeout must be > 0")
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// ParseLevel maps a logging.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", s)
}
