package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/agora/internal/auth"
	"github.com/rickgao/agora/internal/codec"
	"github.com/rickgao/agora/internal/model"
)

// MessageHandler receives every inbound text message, in receipt order, on
// the receive loop.
type MessageHandler interface {
	HandleMessage(data []byte, receivedAt time.Time)
}

// Connection is a single streaming session with the venue.
type Connection struct {
	id      uuid.UUID
	cfg     Config
	handler MessageHandler
	logger  *slog.Logger

	// State
	mu       sync.RWMutex
	state    State
	conn     *websocket.Conn
	cancel   context.CancelFunc
	loopDone chan struct{}

	// Send serialization; also guards the check-send-record sequence of Subscribe
	sendMu sync.Mutex
	subs   *Registry

	finishOnce sync.Once
	closed     chan struct{}
}

// New creates an Idle connection that delivers inbound messages to handler.
func New(cfg Config, handler MessageHandler, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.New()
	return &Connection{
		id:      id,
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("conn_id", id.String()),
		subs:    NewRegistry(),
		closed:  make(chan struct{}),
	}
}

// ID returns the connection's identity.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Done is closed once the connection reaches Closed.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// Subscriptions returns the pairs sent on this connection in send order. A
// Closed connection has none.
func (c *Connection) Subscriptions() []model.Subscription {
	if c.State() == StateClosed {
		return nil
	}
	return c.subs.List()
}

// Connect opens the socket, starts the receive loop and sends the
// authentication frame. It returns once the frame is written; the venue's
// verdict arrives later as a success or error event.
func (c *Connection) Connect(ctx context.Context, creds auth.Credentials, rawURL string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return &ConnectError{URL: rawURL, Err: ErrNotIdle}
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := validateURL(rawURL); err != nil {
		c.logger.Error("invalid websocket url", "url", rawURL, "error", err)
		c.finish("invalid url")
		return &ConnectError{URL: rawURL, Err: err}
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.logger.Error("websocket connection error", "url", rawURL, "status", status, "error", err)
		c.finish("dial failed")
		return &ConnectError{URL: rawURL, Err: err}
	}
	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}

	// The scope outlives ctx, which only bounds the connect call itself.
	scope, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})

	c.mu.Lock()
	if c.state != StateConnecting {
		// Disconnect won the race while dialing.
		c.mu.Unlock()
		cancel()
		conn.Close()
		return &ConnectError{URL: rawURL, Err: ErrAlreadyClosed}
	}
	c.conn = conn
	c.cancel = cancel
	c.loopDone = loopDone
	c.state = StateOpen
	c.mu.Unlock()

	go c.receiveLoop(scope, conn, loopDone)
	if c.cfg.PingInterval > 0 {
		go c.heartbeatLoop(scope, conn)
	}

	c.logger.Info("connected to market data stream", "url", rawURL)

	if err := c.authenticate(ctx, creds); err != nil {
		c.finish("auth failed")
		return &ConnectError{URL: rawURL, Err: err}
	}
	return nil
}

// authenticate sends the auth frame without waiting for a reply.
func (c *Connection) authenticate(ctx context.Context, creds auth.Credentials) error {
	if !c.transition(StateOpen, StateAuthenticating) {
		c.logger.Error("websocket is not open for authentication", "state", c.State().String())
		return &SendError{Op: "auth", Err: ErrNotConnected}
	}

	c.logger.Info("attempting authentication",
		"key_id", creds.KeyID,
		"secret_prefix", creds.SecretPrefix(),
	)

	frame, err := creds.Frame()
	if err != nil {
		return &SendError{Op: "auth", Err: err}
	}

	c.sendMu.Lock()
	err = c.writeLocked(ctx, frame)
	c.sendMu.Unlock()
	if err != nil {
		return &SendError{Op: "auth", Err: err}
	}

	c.transition(StateAuthenticating, StateActive)
	c.logger.Info("authentication message sent")
	return nil
}

// Subscribe requests one channel for one symbol. Repeating a pair already sent
// on this connection is a no-op.
func (c *Connection) Subscribe(ctx context.Context, symbol string, ch model.Channel) error {
	sub := model.Subscription{Symbol: symbol, Channel: ch}
	op := "subscribe " + sub.String()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.State().canSend() {
		c.logger.Error("websocket is not open for subscription", "subscription", sub.String())
		return &SendError{Op: op, Err: ErrNotConnected}
	}

	if c.subs.Contains(symbol, ch) {
		c.logger.Debug("already subscribed", "subscription", sub.String())
		return nil
	}

	frame, err := codec.EncodeSubscribe(ch, symbol)
	if err != nil {
		return &SendError{Op: op, Err: err}
	}

	if err := c.writeLocked(ctx, frame); err != nil {
		return &SendError{Op: op, Err: err}
	}

	c.subs.Add(symbol, ch)
	c.logger.Info("subscription message sent", "subscription", sub.String())
	return nil
}

// writeLocked writes one text frame. Must be called with sendMu held. A write
// failure other than a context error is a transport fault and closes the
// connection.
func (c *Connection) writeLocked(ctx context.Context, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if conn == nil || !state.canSend() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Error("websocket write failed", "error", err)
		c.finish("write failed")
		return err
	}
	return nil
}

// Disconnect sends a normal-closure close frame, cancels the receive loop
// scope and releases the socket. The wait for the receive loop is bounded by
// ctx and Config.ShutdownTimeout. Safe to call repeatedly.
func (c *Connection) Disconnect(ctx context.Context) {
	defer c.clearSubscriptions()

	c.mu.Lock()
	state := c.state
	conn := c.conn
	cancel := c.cancel
	loopDone := c.loopDone
	if state == StateClosed {
		c.mu.Unlock()
		return
	}
	if state == StateClosing {
		c.mu.Unlock()
		c.wait(ctx, c.closed)
		return
	}
	if conn == nil {
		// Idle or still dialing: nothing to close on the wire.
		c.mu.Unlock()
		c.finish("disconnect requested")
		return
	}
	c.state = StateClosing
	c.mu.Unlock()

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, CloseReason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug("failed to send close frame", "error", err)
	}

	cancel()

	// Let the receive loop read the server's close echo, then force the socket
	// closed regardless.
	c.wait(ctx, loopDone)
	c.finish("disconnect requested")
	c.logger.Info("websocket disconnected")
}

// Close implements io.Closer with a Disconnect bounded by ShutdownTimeout.
func (c *Connection) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeout())
	defer cancel()
	c.Disconnect(ctx)
	return nil
}

func (c *Connection) shutdownTimeout() time.Duration {
	if c.cfg.ShutdownTimeout > 0 {
		return c.cfg.ShutdownTimeout
	}
	return DefaultConfig().ShutdownTimeout
}

// wait blocks until ch is closed, ctx is done or ShutdownTimeout elapses.
func (c *Connection) wait(ctx context.Context, ch <-chan struct{}) {
	timer := time.NewTimer(c.shutdownTimeout())
	defer timer.Stop()

	select {
	case <-ch:
	case <-ctx.Done():
		c.logger.Warn("shutdown wait cancelled", "error", ctx.Err())
	case <-timer.C:
		c.logger.Warn("shutdown timeout, forcing close")
	}
}

// transition moves from one state to another and reports whether it did.
func (c *Connection) transition(from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return false
	}
	c.state = to
	return true
}

// clearSubscriptions empties the registry from the send path.
func (c *Connection) clearSubscriptions() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.subs.Clear()
}

// finish moves the connection to Closed, cancels the scope and releases the
// socket. Runs once.
func (c *Connection) finish(reason string) {
	c.finishOnce.Do(func() {
		c.mu.Lock()
		previous := c.state
		c.state = StateClosed
		conn := c.conn
		cancel := c.cancel
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			conn.Close()
		}
		close(c.closed)

		c.logger.Info("connection closed", "reason", reason, "previous_state", previous.String())
	})
}

// receiveLoop is the sole reader of conn.
func (c *Connection) receiveLoop(scope context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer c.logger.Info("websocket receive loop ended")

	// A blocked read does not observe the scope. On cancel, allow a short grace
	// for the peer's close echo, then fail the read.
	stop := context.AfterFunc(scope, func() {
		conn.SetReadDeadline(time.Now().Add(min(closeGrace, c.shutdownTimeout())))
	})
	defer stop()

	for {
		msgType, data, err := conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			c.handleReadError(scope, err)
			return
		}

		switch msgType {
		case websocket.TextMessage:
			c.handler.HandleMessage(data, receivedAt)
		default:
			c.logger.Debug("ignoring non-text message", "type", msgType, "bytes", len(data))
		}
	}
}

func (c *Connection) handleReadError(scope context.Context, err error) {
	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr):
		c.logger.Info("websocket close message received",
			"code", closeErr.Code,
			"description", closeErr.Text,
		)
		c.mu.Lock()
		if c.state != StateClosed {
			c.state = StateClosing
		}
		c.mu.Unlock()
		c.finish(fmt.Sprintf("remote close %d", closeErr.Code))
	case scope.Err() != nil:
		c.logger.Info("websocket receive loop canceled")
		c.finish("canceled")
	default:
		c.logger.Warn("websocket receive loop ending due to transport error", "error", err)
		c.finish("transport error")
	}
}

// heartbeatLoop sends keepalive pings until the scope ends.
func (c *Connection) heartbeatLoop(scope context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-scope.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}
		}
	}
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}
