package config

import "time"

// Config is the root configuration for a relay instance.
type Config struct {
	Alpaca     AlpacaConfig     `yaml:"alpaca"`
	Connection ConnectionConfig `yaml:"connection"`
	Relay      RelayConfig      `yaml:"relay"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// AlpacaConfig holds venue credentials and the stream endpoint. Empty values
// are not a load error; the relay reports them per request.
type AlpacaConfig struct {
	APIKeyID     string `yaml:"api_key_id"`
	APISecretKey string `yaml:"api_secret_key"`
	WebSocketURL string `yaml:"websocket_url"`
}

// ConnectionConfig holds WebSocket client settings.
type ConnectionConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"` // 0 uses the default; negative disables keepalive pings
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	ReadLimit        int64         `yaml:"read_limit"` // bytes
}

// RelayConfig holds the HTTP control surface settings.
type RelayConfig struct {
	ListenAddr          string        `yaml:"listen_addr"`
	StreamBufferSize    int           `yaml:"stream_buffer_size"`
	StreamMaxBufferSize int           `yaml:"stream_max_buffer_size"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
}

// LoggingConfig selects the log level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
