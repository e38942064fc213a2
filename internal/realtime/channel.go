// Package realtime owns the single live WebSocket connection for an active
// conversation: dialing, frame decode, outbound sends, and the reconnection
// state machine.
//
// A Channel is scoped to one conversation for its whole lifetime. Switching
// conversations means closing the old channel and constructing a new one,
// so backoff state never leaks across conversations.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/healthbridge/chat-client/internal/apierr"
	"github.com/healthbridge/chat-client/internal/model"
	"github.com/healthbridge/chat-client/pkg/logger"
	"github.com/healthbridge/chat-client/pkg/metrics"
)

// Close codes the server uses to reject a session. Neither is ever retried.
const (
	StatusAuthFailure  websocket.StatusCode = 4001
	StatusUnauthorized websocket.StatusCode = 4003
)

// Conn is the subset of a websocket connection the channel uses. The
// default implementation wraps coder/websocket; tests substitute a scripted
// connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a connection to the given URL.
type Dialer func(ctx context.Context, url string) (Conn, error)

// Clock abstracts time for the backoff schedule so reconnection timing is
// testable without wall-clock delays.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close(code websocket.StatusCode, reason string) error {
	return w.conn.Close(code, reason)
}

// WebsocketDialer dials with coder/websocket.
func WebsocketDialer(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// Config configures a Channel.
type Config struct {
	ConversationID string

	// URL builds the connection URL. Called once per dial so a refreshed
	// credential is picked up on reconnect.
	URL func() string

	Dial        Dialer
	Clock       Clock
	BackoffBase time.Duration
	MaxAttempts int
	Logger      *logger.Logger
}

// Channel is the realtime connection for one conversation.
type Channel struct {
	cfg    Config
	log    *logger.Logger
	events chan Event

	mu         sync.Mutex
	state      State
	conn       Conn
	cancel     context.CancelFunc
	deliberate bool
	attempts   int

	bo *backoff.ExponentialBackOff
}

// NewChannel creates an idle channel for one conversation.
func NewChannel(cfg Config) *Channel {
	if cfg.Dial == nil {
		cfg.Dial = WebsocketDialer
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BackoffBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = cfg.BackoffBase << uint(cfg.MaxAttempts)
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &Channel{
		cfg:    cfg,
		log:    cfg.Logger.WithConversation(cfg.ConversationID),
		events: make(chan Event, 64),
		state:  StateIdle,
		bo:     bo,
	}
}

// Events returns the event stream. It is closed when the channel reaches a
// terminal state.
func (c *Channel) Events() <-chan Event { return c.events }

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins connecting. It is a no-op unless the channel is idle.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = StateConnecting
	c.mu.Unlock()

	go c.run(runCtx)
}

// Send transmits one user message frame. It fails with NotConnectedError
// unless the channel is open.
func (c *Channel) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	state, conn := c.state, c.conn
	c.mu.Unlock()

	if state != StateOpen || conn == nil {
		return &apierr.NotConnectedError{State: string(state)}
	}
	data, err := json.Marshal(model.OutboundFrame{Content: text})
	if err != nil {
		return err
	}
	return conn.Write(ctx, data)
}

// Ping transmits a keepalive probe; the server answers with a pong frame.
func (c *Channel) Ping(ctx context.Context) error {
	c.mu.Lock()
	state, conn := c.state, c.conn
	c.mu.Unlock()

	if state != StateOpen || conn == nil {
		return &apierr.NotConnectedError{State: string(state)}
	}
	data, err := json.Marshal(model.PingFrame{Type: "ping"})
	if err != nil {
		return err
	}
	return conn.Write(ctx, data)
}

// Close tears the channel down deliberately: the live connection is closed
// with a normal-closure code, any pending retry timer is cancelled, and no
// reconnect is attempted.
func (c *Channel) Close() {
	c.mu.Lock()
	c.deliberate = true
	conn, cancel := c.conn, c.cancel
	alreadyTerminal := c.state.Terminal()
	if c.state == StateIdle {
		c.state = StateClosedNormal
		alreadyTerminal = true
		close(c.events)
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client shutdown")
	}
	if cancel != nil && !alreadyTerminal {
		cancel()
	}
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.events)

	for {
		c.setState(ctx, StateConnecting, 0, 0, nil)

		conn, err := c.cfg.Dial(ctx, c.cfg.URL())
		if err != nil {
			if c.teardownRequested(ctx) {
				c.setState(ctx, StateClosedNormal, 0, 0, nil)
				return
			}
			code := websocket.CloseStatus(err)
			if terminal := c.rejectionError(code); terminal != nil {
				c.log.Warn("handshake rejected", zap.Int("code", int(code)))
				c.setState(ctx, StateClosedFailed, 0, 0, terminal)
				return
			}
			c.log.Warn("dial failed", zap.Error(err))
			if !c.scheduleRetry(ctx, err) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.attempts = 0 // a successful open resets the retry budget
		c.mu.Unlock()
		c.bo.Reset()
		c.setState(ctx, StateOpen, 0, 0, nil)
		metrics.ConnectionsActive.Inc()

		readErr := c.readLoop(ctx, conn)

		metrics.ConnectionsActive.Dec()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if c.teardownRequested(ctx) {
			c.setState(ctx, StateClosedNormal, 0, 0, nil)
			return
		}

		code := websocket.CloseStatus(readErr)
		if code == websocket.StatusNormalClosure {
			c.setState(ctx, StateClosedNormal, 0, 0, nil)
			return
		}
		if terminal := c.rejectionError(code); terminal != nil {
			c.log.Warn("session rejected", zap.Int("code", int(code)))
			c.setState(ctx, StateClosedFailed, 0, 0, terminal)
			return
		}

		c.log.Warn("connection lost", zap.Error(readErr))
		if !c.scheduleRetry(ctx, readErr) {
			return
		}
	}
}

// scheduleRetry applies the backoff policy after an abnormal closure. It
// returns false when the channel reached a terminal state.
func (c *Channel) scheduleRetry(ctx context.Context, cause error) bool {
	c.mu.Lock()
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	if attempt > c.cfg.MaxAttempts {
		c.setState(ctx, StateClosedFailed, attempt-1, 0, &apierr.ChannelError{
			Detail:   "reconnect attempts exhausted",
			Terminal: true,
		})
		return false
	}

	delay := c.bo.NextBackOff()
	metrics.ReconnectsTotal.Inc()
	c.setState(ctx, StateClosedRetrying, attempt, delay, &apierr.ChannelError{Detail: "connection lost"})
	c.log.Info("reconnect scheduled",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
	)

	select {
	case <-c.cfg.Clock.After(delay):
		return true
	case <-ctx.Done():
		c.setState(ctx, StateClosedNormal, 0, 0, nil)
		return false
	}
}

func (c *Channel) rejectionError(code websocket.StatusCode) *apierr.ChannelError {
	switch code {
	case StatusAuthFailure:
		return &apierr.ChannelError{Code: int(code), Detail: "Authentication failed. Please log in again.", Terminal: true}
	case StatusUnauthorized:
		return &apierr.ChannelError{Code: int(code), Detail: "Unauthorized access to this chat.", Terminal: true}
	default:
		return nil
	}
}

func (c *Channel) teardownRequested(ctx context.Context) bool {
	c.mu.Lock()
	deliberate := c.deliberate
	c.mu.Unlock()
	return deliberate || ctx.Err() != nil
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		frame, err := model.DecodeFrame(data)
		if err != nil {
			// one bad frame must not end the session
			metrics.MalformedFramesTotal.Inc()
			c.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		metrics.RecordFrame(string(frame.Type))
		c.dispatch(ctx, frame)
	}
}

func (c *Channel) dispatch(ctx context.Context, frame *model.Frame) {
	base := EventScope{ConversationID: c.cfg.ConversationID}

	switch frame.Type {
	case model.FrameConnectionEstablished:
		c.emit(ctx, ConnectionAck{EventScope: base})

	case model.FramePreviousMessages:
		msgs := make([]model.Message, 0, len(frame.Messages))
		for i := range frame.Messages {
			msgs = append(msgs, frame.Messages[i].ToMessages(c.cfg.ConversationID)...)
		}
		c.emit(ctx, HistorySnapshot{EventScope: base, Messages: msgs})

	case model.FrameTypingStart:
		c.emit(ctx, ThinkingStarted{EventScope: base})

	case model.FrameTypingEnd:
		c.emit(ctx, ThinkingEnded{EventScope: base})

	case model.FrameMessage:
		msgs := frame.Message.ToMessages(c.cfg.ConversationID)
		for _, m := range msgs {
			c.emit(ctx, MessageComplete{EventScope: base, Message: m})
		}

	case model.FrameMessageUpdate:
		c.emit(ctx, MessageDelta{EventScope: base, MessageID: frame.MessageID, Content: frame.Content})

	case model.FrameStreamingComplete:
		c.emit(ctx, StreamingComplete{EventScope: base})

	case model.FrameError:
		c.emit(ctx, ServerError{EventScope: base, Detail: frame.Detail})

	case model.FramePong:
		c.log.Debug("pong received")

	default:
		c.log.Debug("ignoring unknown frame type", zap.String("type", string(frame.Type)))
	}
}

func (c *Channel) setState(ctx context.Context, state State, attempt int, retryIn time.Duration, err error) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	c.emit(ctx, StateChanged{
		EventScope: EventScope{ConversationID: c.cfg.ConversationID},
		State:      state,
		Attempt:    attempt,
		RetryIn:    retryIn,
		Err:        err,
	})
}

// emit delivers ev to the consumer, applying backpressure. A full buffer
// blocks the caller until the consumer drains or the channel is torn down,
// so streamed content and terminal state changes are never lost.
func (c *Channel) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
		return
	default:
	}
	select {
	case c.events <- ev:
	case <-ctx.Done():
		c.log.Warn("channel torn down with event undelivered")
	}
}
