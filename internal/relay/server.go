package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/agora/internal/connection"
	"github.com/rickgao/agora/internal/stream"
	"github.com/rickgao/agora/internal/version"
)

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	StreamBufferSize    int           // Initial per-client event buffer
	StreamMaxBufferSize int           // Buffer ceiling before oldest events drop
	RequestTimeout      time.Duration // Bound on a connect request
	WriteTimeout        time.Duration // Write deadline for stream messages
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		StreamBufferSize:    256,
		StreamMaxBufferSize: 8192,
		RequestTimeout:      15 * time.Second,
		WriteTimeout:        5 * time.Second,
	}
}

// Server serves the relay over HTTP:
//
//	POST /v1/connect        connect and subscribe, body {"symbols":[...]}
//	GET  /v1/stream?symbols live trades and quotes over a WebSocket
//	GET  /health            connection and dispatcher status
type Server struct {
	relay    *Relay
	cfg      ServerConfig
	logger   *slog.Logger
	mux      *http.ServeMux
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[uuid.UUID]*stream.Tap
	closed   bool
}

// NewServer creates the HTTP surface for relay.
func NewServer(relay *Relay, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		relay:  relay,
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		sessions: make(map[uuid.UUID]*stream.Tap),
	}

	s.mux.HandleFunc("/v1/connect", s.handleConnect)
	s.mux.HandleFunc("/v1/stream", s.handleStream)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// StreamCount returns the number of open streaming sessions.
func (s *Server) StreamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// CloseStreams ends every streaming session and rejects new ones. Hijacked
// connections are not covered by http.Server.Shutdown.
func (s *Server) CloseStreams() {
	s.mu.Lock()
	s.closed = true
	taps := make([]*stream.Tap, 0, len(s.sessions))
	for _, tap := range s.sessions {
		taps = append(taps, tap)
	}
	s.mu.Unlock()

	for _, tap := range taps {
		tap.Close()
	}
}

type connectRequest struct {
	Symbols []string `json:"symbols"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var req connectRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if q := r.URL.Query().Get("symbols"); q != "" {
		req.Symbols = append(req.Symbols, splitSymbols(q)...)
	}

	requestID := uuid.New().String()
	logger := s.logger.With("request_id", requestID)
	logger.Info("connect request", "symbols", req.Symbols)

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	result, err := s.relay.ConnectAndSubscribe(ctx, req.Symbols)

	status := http.StatusOK
	var cfgErr *ConfigError
	switch {
	case errors.As(err, &cfgErr):
		status = http.StatusServiceUnavailable
		result = Result{Success: false, Message: cfgErr.Error()}
	case err != nil:
		status = http.StatusInternalServerError
		result = Result{Success: false, Message: err.Error()}
	case !result.Success:
		status = http.StatusBadGateway
	}

	logger.Info("connect request complete", "success", result.Success, "message", result.Message)
	writeJSON(w, status, result)
}

// streamMessage is the JSON text message sent to streaming clients.
type streamMessage struct {
	Kind       string          `json:"kind"`
	Symbol     string          `json:"symbol,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
	Data       json.RawMessage `json:"data"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET required", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	symbols := splitSymbols(r.URL.Query().Get("symbols"))

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		s.logger.Warn("stream upgrade failed", "error", err)
		return
	}

	id := uuid.New()
	logger := s.logger.With("session_id", id.String())

	tap := stream.NewTap(s.relay.Dispatcher(), s.cfg.StreamBufferSize, s.cfg.StreamMaxBufferSize,
		symbols, stream.KindTrade, stream.KindQuote)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		tap.Close()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeTimeout()))
		ws.Close()
		return
	}
	s.sessions[id] = tap
	s.mu.Unlock()

	logger.Info("stream session opened", "symbols", symbols, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())

	// Reader: the client sends nothing, but control frames must be read and a
	// client close ends the session.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	sent := s.writeEvents(ctx, ws, tap, logger)

	tap.Close()
	cancel()
	ws.Close()

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	stats := tap.Stats()
	logger.Info("stream session closed",
		"sent", sent,
		"dropped", stats.Dropped,
		"max_buffer", stats.Capacity,
	)
}

// writeEvents forwards tap events to ws until the tap closes, the client goes
// away or a write fails. It returns the number of messages sent.
func (s *Server) writeEvents(ctx context.Context, ws *websocket.Conn, tap *stream.Tap, logger *slog.Logger) int {
	sent := 0
	for {
		ev, ok := tap.Next(ctx)
		if !ok {
			break
		}

		data, err := json.Marshal(streamMessage{
			Kind:       ev.Kind.String(),
			Symbol:     ev.Symbol,
			ReceivedAt: ev.ReceivedAt,
			Data:       ev.Payload,
		})
		if err != nil {
			logger.Error("failed to encode stream message", "error", err)
			continue
		}

		ws.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Debug("stream write failed", "error", err)
			return sent
		}
		sent++
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream closed")
	ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeTimeout()))
	return sent
}

func (s *Server) writeTimeout() time.Duration {
	if s.cfg.WriteTimeout > 0 {
		return s.cfg.WriteTimeout
	}
	return DefaultServerConfig().WriteTimeout
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.relay.Status()

	health := struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Relay   Status `json:"relay"`
		Streams int    `json:"streams"`
	}{
		Status:  "healthy",
		Version: version.String(),
		Relay:   st,
		Streams: s.StreamCount(),
	}

	if st.State != connection.StateActive.String() || !st.Authenticated {
		health.Status = "degraded"
	}

	writeJSON(w, http.StatusOK, health)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// splitSymbols parses a comma-separated symbol list.
func splitSymbols(raw string) []string {
	if raw == "" {
		return nil
	}
	return normalizeSymbols(strings.Split(raw, ","))
}
