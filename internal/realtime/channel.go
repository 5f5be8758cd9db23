// Package realtime owns the live bidirectional channel to the chat service.
// One channel is scoped to one authenticated identity; components subscribe
// to decoded inbound events and publish fire-and-forget outbound events.
package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatcore/internal/domain"
	"chatcore/internal/security"
)

// Handler receives one decoded inbound event. Handlers run sequentially on
// the channel's read loop; long work must move to its own goroutine.
type Handler func(domain.Event)

// Options tunes the connection and reconnection behaviour.
type Options struct {
	URL                  string
	HandshakeTimeout     time.Duration
	ReconnectMaxAttempts int
	ReconnectInitialWait time.Duration
	ReconnectMaxWait     time.Duration
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.ReconnectMaxAttempts <= 0 {
		o.ReconnectMaxAttempts = 8
	}
	if o.ReconnectInitialWait <= 0 {
		o.ReconnectInitialWait = 500 * time.Millisecond
	}
	if o.ReconnectMaxWait <= 0 {
		o.ReconnectMaxWait = 30 * time.Second
	}
	return o
}

// Channel is a websocket client with automatic, bounded reconnection.
// Room membership is not remembered across drops; whoever joined a room must
// re-join when the connected event fires again.
type Channel struct {
	opts     Options
	identity security.Identity
	clientID string
	log      zerolog.Logger

	handlersMu sync.RWMutex
	handlers   map[string][]Handler

	connMu sync.Mutex
	conn   *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	down     chan error
	downOnce sync.Once
}

func NewChannel(opts Options, identity security.Identity, log zerolog.Logger) *Channel {
	return &Channel{
		opts:     opts.withDefaults(),
		identity: identity,
		clientID: uuid.NewString(),
		log:      log,
		handlers: make(map[string][]Handler),
		down:     make(chan error, 1),
	}
}

// Subscribe registers a handler invoked once per received event of the given
// name. Subscriptions survive reconnections.
func (c *Channel) Subscribe(event string, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// Connect establishes the channel and starts the read loop. The server
// acknowledges setup with a connected event, which is dispatched like any
// other inbound event.
func (c *Channel) Connect(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	conn, err := c.dial(c.ctx)
	if err != nil {
		c.cancel()
		return fmt.Errorf("connect channel: %w", err)
	}

	c.setConn(conn)
	go c.readPump(conn)
	return nil
}

// Publish sends an event with best-effort, at-most-once semantics. While the
// channel is down the frame is dropped, never queued or retried.
func (c *Channel) Publish(event string, fields map[string]any) error {
	frame := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		frame[k] = v
	}
	frame["type"] = event

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		c.log.Debug().Str("event", event).Msg("publish dropped: channel down")
		return domain.ErrDisconnected
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}

// Down reports the terminal failure after reconnection attempts exhaust.
// The caller is expected to surface this to the user.
func (c *Channel) Down() <-chan error {
	return c.down
}

// Disconnect tears the channel down and stops any reconnection in progress.
func (c *Channel) Disconnect() {
	if c.cancel != nil {
		c.cancel()
	}
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.identity.Token)

	conn, _, err := dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w", c.opts.URL, err)
	}

	setup := map[string]any{
		"type":      domain.EventSetup,
		"client_id": c.clientID,
		"user_id":   c.identity.UserID,
	}
	if err := conn.WriteJSON(setup); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send setup: %w", err)
	}
	return conn, nil
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Channel) readPump(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			c.setConn(nil)
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Msg("channel dropped, reconnecting")
			c.reconnect()
			return
		}
		c.handleFrame(raw)
	}
}

func (c *Channel) handleFrame(raw []byte) {
	ev, err := domain.DecodeEvent(raw)
	if err != nil {
		c.log.Debug().Err(err).Msg("dropping inbound frame")
		return
	}
	c.dispatch(ev)
}

func (c *Channel) dispatch(ev domain.Event) {
	c.handlersMu.RLock()
	handlers := c.handlers[ev.EventName()]
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// reconnect retries the dial with exponential backoff until it succeeds or
// the attempt budget is spent. Each successful reconnection re-issues setup;
// the resulting connected ack tells subscribers to re-join their rooms.
func (c *Channel) reconnect() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.ReconnectInitialWait
	bo.MaxInterval = c.opts.ReconnectMaxWait
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(c.opts.ReconnectMaxAttempts)),
		c.ctx,
	)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		conn, err := c.dial(c.ctx)
		if err != nil {
			c.log.Debug().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
			return err
		}
		c.setConn(conn)
		go c.readPump(conn)
		return nil
	}, policy)

	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.log.Error().Err(err).Int("attempts", attempt).Msg("reconnect gave up")
		c.downOnce.Do(func() {
			c.down <- fmt.Errorf("%w: %v", domain.ErrDisconnected, err)
		})
		return
	}
	c.log.Info().Int("attempts", attempt).Msg("channel reconnected")
}
