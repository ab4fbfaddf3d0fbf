// Package transport keeps one websocket to the agent alive for the lifetime of
// the process. It reconnects on a fixed delay forever and hands decoded
// envelopes to a single set of callbacks.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ent0n29/maitred/internal/clock"
	"github.com/ent0n29/maitred/internal/observability"
	"github.com/ent0n29/maitred/internal/protocol"
	"github.com/ent0n29/maitred/internal/reliability"
)

var (
	ErrNotConnected = errors.New("transport: channel not open")
	ErrClosed       = errors.New("transport: channel closed")
)

type State int32

const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	DefaultReconnectDelay = 2 * time.Second
	writeTimeout          = 5 * time.Second
	handshakeTimeout      = 10 * time.Second
)

type Options struct {
	// BaseURL is the agent address; http and https are mapped to ws and wss.
	BaseURL        string
	ReconnectDelay time.Duration
	Clock          clock.Clock
	Dialer         *websocket.Dialer
	Logger         zerolog.Logger
	Metrics        *observability.Metrics
}

// Channel is the reconnecting message channel. Every (re)connect gets a new
// generation; callbacks from a connection whose generation is no longer
// current are dropped.
type Channel struct {
	baseURL string
	delay   time.Duration
	clock   clock.Clock
	dialer  *websocket.Dialer
	log     zerolog.Logger
	metrics *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	gen       uint64
	state     State
	conn      *websocket.Conn
	sessionID string
	audio     bool
	attempt   int
	reconnect clock.Timer
	closed    bool

	onMessage func(protocol.Envelope)
	onOpen    func()
	onClose   func(error)
	onError   func(error)

	writeMu sync.Mutex
}

func New(opts Options) *Channel {
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		baseURL: opts.BaseURL,
		delay:   delay,
		clock:   clk,
		dialer:  dialer,
		log:     opts.Logger.With().Str("component", "transport").Logger(),
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		state:   Closed,
	}
}

func (c *Channel) OnMessage(fn func(protocol.Envelope)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

func (c *Channel) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	c.mu.Unlock()
}

func (c *Channel) OnClose(fn func(error)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// OnError receives envelopes that failed to decode. The read loop keeps going.
func (c *Channel) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect replaces the current connection with a new one for sessionID. It
// does not block on the dial.
func (c *Channel) Connect(sessionID string, audioEnabled bool) error {
	if _, err := EndpointURL(c.baseURL, sessionID, audioEnabled); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.gen++
	gen := c.gen
	old := c.conn
	c.conn = nil
	c.stopReconnectLocked()
	c.sessionID = sessionID
	c.audio = audioEnabled
	c.attempt = 0
	c.state = Connecting
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
		c.metrics.SetConnected(false)
	}
	go c.dial(gen)
	return nil
}

// Send writes env if the channel is open and returns ErrNotConnected otherwise.
func (c *Channel) Send(env protocol.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == Open
	c.mu.Unlock()
	if !open || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	c.metrics.ObserveMessage("outbound", env.Kind())
	return nil
}

// Close stops reconnecting permanently and closes the live connection.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	c.stopReconnectLocked()
	conn := c.conn
	c.conn = nil
	c.state = Closed
	c.mu.Unlock()

	c.cancel()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.metrics.SetConnected(false)
	return conn.Close()
}

func (c *Channel) dial(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	sessionID, audioEnabled, attempt := c.sessionID, c.audio, c.attempt
	c.mu.Unlock()

	endpoint, err := EndpointURL(c.baseURL, sessionID, audioEnabled)
	if err != nil {
		c.drop(gen, nil, err)
		return
	}

	ctx, span := observability.Tracer().Start(c.ctx, "transport.dial")
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.Bool("is_audio", audioEnabled),
		attribute.Int("attempt", attempt),
	)
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		span.End()
		c.log.Warn().Err(err).Str("url", endpoint).Int("attempt", attempt).Msg("agent dial failed")
		c.drop(gen, nil, err)
		return
	}
	span.End()

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.state = Open
	c.attempt = 0
	onOpen := c.onOpen
	c.mu.Unlock()

	c.metrics.SetConnected(true)
	c.log.Info().Str("session_id", sessionID).Bool("is_audio", audioEnabled).Msg("agent channel open")
	if onOpen != nil {
		onOpen()
	}
	go c.readLoop(gen, conn)
}

func (c *Channel) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.drop(gen, conn, err)
			return
		}

		c.mu.Lock()
		current := gen == c.gen
		onMessage, onError := c.onMessage, c.onError
		c.mu.Unlock()
		if !current {
			return
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			c.metrics.ObserveMalformed()
			c.log.Error().Err(err).Int("bytes", len(data)).Msg("dropping inbound message")
			if onError != nil {
				onError(err)
			}
			continue
		}
		c.metrics.ObserveMessage("inbound", env.Kind())
		if onMessage != nil {
			onMessage(env)
		}
	}
}

// drop handles the end of a connection or a failed dial for generation gen.
func (c *Channel) drop(gen uint64, conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	wasOpen := c.state == Open
	c.conn = nil
	c.state = Closed
	onClose := c.onClose
	c.scheduleReconnectLocked(gen)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.metrics.SetConnected(false)
	if wasOpen {
		c.log.Warn().Err(cause).Msg("agent channel closed")
	}
	if onClose != nil {
		onClose(cause)
	}
}

func (c *Channel) scheduleReconnectLocked(gen uint64) {
	c.stopReconnectLocked()
	c.attempt++
	delay := reliability.FixedDelay(c.attempt, c.delay)
	c.metrics.ObserveReconnect()
	c.log.Debug().Dur("delay", delay).Int("attempt", c.attempt).Msg("reconnect scheduled")
	c.reconnect = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		if gen != c.gen || c.closed {
			c.mu.Unlock()
			return
		}
		c.gen++
		next := c.gen
		c.reconnect = nil
		c.state = Connecting
		c.mu.Unlock()
		go c.dial(next)
	})
}

func (c *Channel) stopReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

// EndpointURL builds <base>/ws/<sessionID>?is_audio=<bool>.
func EndpointURL(baseURL, sessionID string, audioEnabled bool) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse agent url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported agent url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("agent url host is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("session id is required")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u = u.JoinPath("ws", sessionID)
	q := url.Values{}
	q.Set("is_audio", strconv.FormatBool(audioEnabled))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
