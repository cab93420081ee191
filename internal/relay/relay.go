// Package relay exposes the streaming client through a single
// connect-and-subscribe control operation and an HTTP surface.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rickgao/agora/internal/auth"
	"github.com/rickgao/agora/internal/connection"
	"github.com/rickgao/agora/internal/model"
	"github.com/rickgao/agora/internal/stream"
)

// MsgSubscribed is the acknowledgement returned once every subscribe frame has
// been issued.
const MsgSubscribed = "Connected and subscribed to symbols."

// ErrNotConfigured is wrapped by ConfigError.
var ErrNotConfigured = errors.New("credentials or URL not configured")

// ErrClosed is returned by operations on a relay that has been closed.
var ErrClosed = errors.New("relay closed")

// ConfigError reports which settings were missing.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	if len(e.Missing) == 0 {
		return ErrNotConfigured.Error()
	}
	return fmt.Sprintf("%v: missing %s", ErrNotConfigured, strings.Join(e.Missing, ", "))
}

func (e *ConfigError) Unwrap() error {
	return ErrNotConfigured
}

// Settings are the credentials and endpoint the relay connects with.
type Settings struct {
	KeyID  string
	Secret string
	URL    string
}

// Credentials returns the key pair.
func (s Settings) Credentials() auth.Credentials {
	return auth.Credentials{KeyID: s.KeyID, Secret: s.Secret}
}

// Missing returns the names of unset settings.
func (s Settings) Missing() []string {
	missing := s.Credentials().Missing()
	if strings.TrimSpace(s.URL) == "" {
		missing = append(missing, "websocket_url")
	}
	return missing
}

// SettingsSource supplies settings on every request, so rotated credentials
// take effect on the next connection.
type SettingsSource interface {
	Settings() Settings
}

// StaticSettings is a fixed SettingsSource.
type StaticSettings Settings

// Settings implements SettingsSource.
func (s StaticSettings) Settings() Settings {
	return Settings(s)
}

// Result is the acknowledgement of a connect-and-subscribe request.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Status is a point-in-time view of the relay for health reporting.
type Status struct {
	State         string       `json:"state"`
	ConnectionID  string       `json:"connection_id,omitempty"`
	Authenticated bool         `json:"authenticated"`
	Subscriptions []string     `json:"subscriptions"`
	Stats         stream.Stats `json:"stats"`
}

// Relay owns at most one Connection at a time and the Dispatcher it feeds.
type Relay struct {
	settings   SettingsSource
	connCfg    connection.Config
	dispatcher *stream.Dispatcher
	logger     *slog.Logger

	mu      sync.Mutex // serializes ConnectAndSubscribe
	closed  atomic.Bool
	current atomic.Pointer[connection.Connection]
}

// New creates a relay. No connection is made until ConnectAndSubscribe.
func New(settings SettingsSource, connCfg connection.Config, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		settings:   settings,
		connCfg:    connCfg,
		dispatcher: stream.NewDispatcher(logger),
		logger:     logger,
	}
}

// Dispatcher returns the dispatcher that every connection of this relay feeds.
// Observers registered here survive reconnections.
func (r *Relay) Dispatcher() *stream.Dispatcher {
	return r.dispatcher
}

// Connection returns the current connection, or nil before the first request.
func (r *Relay) Connection() *connection.Connection {
	return r.current.Load()
}

// ConnectAndSubscribe ensures an Active connection and subscribes each symbol
// to trades then quotes, in order. It fails only with a *ConfigError; every
// transport fault is reported as an unsuccessful Result.
func (r *Relay) ConnectAndSubscribe(ctx context.Context, symbols []string) (result Result, err error) {
	settings := r.settings.Settings()
	if missing := settings.Missing(); len(missing) > 0 {
		r.logger.Error("relay not configured", "missing", missing)
		return Result{}, &ConfigError{Missing: missing}
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic in connect and subscribe", "panic", p)
			result = Result{Success: false, Message: fmt.Sprintf("internal error: %v", p)}
			err = nil
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return Result{Success: false, Message: ErrClosed.Error()}, nil
	}

	conn, err := r.activeConnection(ctx, settings)
	if err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}

	for _, symbol := range normalizeSymbols(symbols) {
		for _, ch := range model.Channels {
			if err := conn.Subscribe(ctx, symbol, ch); err != nil {
				r.logger.Error("subscribe failed",
					"conn_id", conn.ID().String(),
					"symbol", symbol,
					"channel", string(ch),
					"error", err,
				)
				return Result{Success: false, Message: err.Error()}, nil
			}
		}
	}

	return Result{Success: true, Message: MsgSubscribed}, nil
}

// activeConnection reuses the current connection while it is Active and
// otherwise replaces it with a fresh one. Must be called with r.mu held.
func (r *Relay) activeConnection(ctx context.Context, settings Settings) (*connection.Connection, error) {
	if conn := r.current.Load(); conn != nil {
		if conn.State() == connection.StateActive {
			r.logger.Debug("reusing active connection", "conn_id", conn.ID().String())
			return conn, nil
		}
		// Release whatever is left of the previous session.
		conn.Close()
	}

	r.dispatcher.Reset()
	conn := connection.New(r.connCfg, r.dispatcher, r.logger)
	r.current.Store(conn)
	if r.closed.Load() {
		// Close ran after the check above and may have missed conn.
		conn.Close()
		return nil, ErrClosed
	}

	if err := conn.Connect(ctx, settings.Credentials(), settings.URL); err != nil {
		r.logger.Error("connect failed", "conn_id", conn.ID().String(), "error", err)
		return nil, err
	}
	return conn, nil
}

// Status reports the current connection and dispatcher state.
func (r *Relay) Status() Status {
	st := Status{
		State:         "disconnected",
		Authenticated: r.dispatcher.Authenticated(),
		Subscriptions: []string{},
		Stats:         r.dispatcher.Stats(),
	}

	conn := r.current.Load()
	if conn == nil {
		return st
	}

	st.State = conn.State().String()
	st.ConnectionID = conn.ID().String()
	for _, sub := range conn.Subscriptions() {
		st.Subscriptions = append(st.Subscriptions, sub.String())
	}
	if conn.State() == connection.StateClosed {
		st.Authenticated = false
	}
	return st
}

// Close disconnects the current connection within ctx and rejects further
// requests. It does not wait for an in-flight request; a dial in progress is
// aborted. Safe to call repeatedly.
func (r *Relay) Close(ctx context.Context) error {
	r.closed.Store(true)
	if conn := r.current.Load(); conn != nil {
		conn.Disconnect(ctx)
	}
	return nil
}

// normalizeSymbols trims whitespace and drops empty entries, preserving order.
func normalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
