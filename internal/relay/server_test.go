package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/agora/internal/stream"
)

func TestServer_ConnectMethodNotAllowed(t *testing.T) {
	s := NewServer(newTestRelay("wss://example.com"), DefaultServerConfig(), nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/connect", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestServer_ConnectBadBody(t *testing.T) {
	s := NewServer(newTestRelay("wss://example.com"), DefaultServerConfig(), nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/connect", strings.NewReader(`{"symbols":`))
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestServer_ConnectResponses(t *testing.T) {
	venue := newMockVenue(t, nil)

	tests := []struct {
		name        string
		settings    Settings
		wantStatus  int
		wantSuccess bool
		wantMessage string
	}{
		{
			name:        "not configured",
			settings:    Settings{URL: venue.url()},
			wantStatus:  http.StatusServiceUnavailable,
			wantMessage: ErrNotConfigured.Error(),
		},
		{
			name:        "connect refused",
			settings:    Settings{KeyID: "K", Secret: "S", URL: "ws://127.0.0.1:1"},
			wantStatus:  http.StatusBadGateway,
			wantMessage: "connect",
		},
		{
			name:        "subscribed",
			settings:    Settings{KeyID: "K", Secret: "S", URL: venue.url()},
			wantStatus:  http.StatusOK,
			wantSuccess: true,
			wantMessage: MsgSubscribed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(StaticSettings(tt.settings), testConnConfig(), nil)
			defer r.Close(context.Background())
			s := NewServer(r, DefaultServerConfig(), nil)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/connect", strings.NewReader(`{"symbols":["AAPL"]}`))
			s.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			var result Result
			if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if result.Success != tt.wantSuccess {
				t.Errorf("success = %v, want %v", result.Success, tt.wantSuccess)
			}
			if !strings.Contains(result.Message, tt.wantMessage) {
				t.Errorf("message = %q, want it to contain %q", result.Message, tt.wantMessage)
			}
		})
	}
}

func TestServer_ConnectSymbolsFromQuery(t *testing.T) {
	venue := newMockVenue(t, nil)
	r := newTestRelay(venue.url())
	defer r.Close(context.Background())
	s := NewServer(r, DefaultServerConfig(), nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/connect?symbols=AAPL,MSFT", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	got := venue.waitFrames(t, 5)
	if len(got) != 5 {
		t.Errorf("got %d frames, want 5: %v", len(got), got)
	}
}

func TestServer_Health(t *testing.T) {
	s := NewServer(newTestRelay("wss://example.com"), DefaultServerConfig(), nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Relay   Status `json:"relay"`
		Streams int    `json:"streams"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "degraded" {
		t.Errorf("status = %q, want degraded before connecting", health.Status)
	}
	if health.Relay.State != "disconnected" {
		t.Errorf("relay state = %q, want disconnected", health.Relay.State)
	}
	if health.Version == "" {
		t.Error("version missing")
	}
}

func dialStream(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/stream" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	return ws
}

func waitObservers(t *testing.T, d *stream.Dispatcher, kind stream.Kind, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for d.ObserverCount(kind) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %d %s observers", n, kind)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_StreamForwardsFilteredEvents(t *testing.T) {
	r := newTestRelay("wss://example.com")
	s := NewServer(r, DefaultServerConfig(), nil)
	server := httptest.NewServer(s)
	defer server.Close()

	ws := dialStream(t, server, "?symbols=AAPL")
	defer ws.Close()

	d := r.Dispatcher()
	waitObservers(t, d, stream.KindTrade, 1)

	d.HandleMessage([]byte(`[
		{"T":"t","S":"MSFT","p":300.0},
		{"T":"t","S":"AAPL","p":150.0},
		{"T":"success","msg":"authenticated"},
		{"T":"q","S":"AAPL","bp":149.9,"ap":150.1}
	]`), time.Now())

	for _, want := range []struct{ kind, symbol string }{
		{"trade", "AAPL"},
		{"quote", "AAPL"},
	} {
		ws.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode stream message: %v", err)
		}
		if msg.Kind != want.kind || msg.Symbol != want.symbol {
			t.Errorf("message = %s %s, want %s %s", msg.Kind, msg.Symbol, want.kind, want.symbol)
		}
		if len(msg.Data) == 0 {
			t.Error("message carries no data")
		}
	}

	if n := s.StreamCount(); n != 1 {
		t.Errorf("StreamCount() = %d, want 1", n)
	}
}

func TestServer_CloseStreams(t *testing.T) {
	r := newTestRelay("wss://example.com")
	s := NewServer(r, DefaultServerConfig(), nil)
	server := httptest.NewServer(s)
	defer server.Close()

	ws := dialStream(t, server, "")
	defer ws.Close()
	waitObservers(t, r.Dispatcher(), stream.KindQuote, 1)

	s.CloseStreams()

	ws.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal closure, got %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for r.Dispatcher().ObserverCount(stream.KindQuote) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream tap was not unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// New sessions are refused after shutdown.
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail after CloseStreams")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 response, got %v", resp)
	}
}

func TestSplitSymbols(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"AAPL", []string{"AAPL"}},
		{"AAPL, MSFT,,GOOG ", []string{"AAPL", "MSFT", "GOOG"}},
	}
	for _, tt := range tests {
		got := splitSymbols(tt.raw)
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("splitSymbols(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
