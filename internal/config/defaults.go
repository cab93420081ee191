package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHandshakeTimeout    = 10 * time.Second
	DefaultWriteTimeout        = 5 * time.Second
	DefaultPingInterval        = 30 * time.Second
	DefaultShutdownTimeout     = 5 * time.Second
	DefaultReadLimit           = 1 << 20
	DefaultListenAddr          = ":8080"
	DefaultStreamBufferSize    = 256
	DefaultStreamMaxBufferSize = 8192
	DefaultRequestTimeout      = 15 * time.Second
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
)

func (c *Config) applyDefaults() {
	// Connection defaults. A zero ping interval gets the default; a negative one
	// is kept and disables pings.
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.ShutdownTimeout == 0 {
		c.Connection.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Connection.ReadLimit == 0 {
		c.Connection.ReadLimit = DefaultReadLimit
	}

	// Relay defaults
	if c.Relay.ListenAddr == "" {
		c.Relay.ListenAddr = DefaultListenAddr
	}
	if c.Relay.StreamBufferSize == 0 {
		c.Relay.StreamBufferSize = DefaultStreamBufferSize
	}
	if c.Relay.StreamMaxBufferSize == 0 {
		c.Relay.StreamMaxBufferSize = DefaultStreamMaxBufferSize
	}
	if c.Relay.RequestTimeout == 0 {
		c.Relay.RequestTimeout = DefaultRequestTimeout
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}
