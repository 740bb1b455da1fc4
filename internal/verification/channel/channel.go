// Package channel keeps at most one websocket open to the backend notification endpoint and
// feeds verification frames to a Handler.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"salesops-relay/internal/verification/domain"
)

// ErrDisconnected is returned by Connect when Disconnect was called while it was dialing.
var ErrDisconnected = errors.New("channel: disconnected while connecting")

const (
	// DefaultPath is the notification endpoint path appended to the configured base URL.
	DefaultPath = "/ws/notifications"

	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// Options configures a Channel.
type Options struct {
	// BaseURL is the ws:// or wss:// base address; Path is appended.
	BaseURL string
	// Path defaults to DefaultPath.
	Path string
	// Token is sent as "Authorization: Bearer <token>" on the upgrade request when set.
	Token string
	// PingInterval enables keepalive pings and a read deadline of twice the interval. Zero disables.
	PingInterval time.Duration
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Logger defaults to zap.NewNop.
	Logger *zap.Logger
	// OnState is called with the new connected flag whenever it changes.
	OnState func(connected bool)
}

// Channel is the transport to the backend. Connect and Disconnect are idempotent; a lost socket
// is not re-dialed.
type Channel struct {
	opts    Options
	handler Handler
	logger  *zap.Logger
	dialer  *websocket.Dialer

	mu sync.Mutex
	// gen counts Disconnect calls so a dial that started before one is discarded.
	gen       uint64
	conn      *websocket.Conn
	done      chan struct{}
	connected atomic.Bool
}

// New returns a disconnected Channel delivering frames to h.
func New(opts Options, h Handler) *Channel {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	c := &Channel{opts: opts, handler: h, logger: opts.Logger, dialer: opts.Dialer}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	return c
}

// Endpoint returns the full socket URL.
func (c *Channel) Endpoint() string {
	return strings.TrimSuffix(c.opts.BaseURL, "/") + "/" + strings.TrimPrefix(c.opts.Path, "/")
}

// Connected reports whether a socket is open.
func (c *Channel) Connected() bool {
	return c.connected.Load()
}

// Done returns a channel closed when the current socket's read loop exits. It returns a closed
// channel when no socket is open.
func (c *Channel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Connect opens the socket and subscribes to the verification channel. It is a no-op while a
// socket is already open. The dial runs without the lock; a Disconnect issued meanwhile wins and
// Connect returns ErrDisconnected.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	gen := c.gen
	c.mu.Unlock()

	endpoint := c.Endpoint()
	conn, err := c.dial(ctx, endpoint)
	if err != nil {
		return err
	}

	c.mu.Lock()
	switch {
	case c.gen != gen:
		c.mu.Unlock()
		_ = conn.Close()
		return ErrDisconnected
	case c.conn != nil:
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	done := make(chan struct{})
	c.conn = conn
	c.done = done
	c.connected.Store(true)
	c.mu.Unlock()

	c.logger.Info("channel: connected", zap.String("endpoint", endpoint))
	c.notifyState(true)

	go c.readLoop(conn, done)
	if c.opts.PingInterval > 0 {
		go c.pingLoop(conn, done)
	}
	return nil
}

// dial opens and subscribes a socket that is not yet published to c.
func (c *Channel) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("channel: dial %s: status=%d: %w", endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("channel: dial %s: %w", endpoint, err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(domain.NewSubscribeFrame(domain.Channel)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel: subscribe: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	conn.SetReadLimit(maxMessageSize)
	if c.opts.PingInterval > 0 {
		wait := 2 * c.opts.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
	}
	return conn, nil
}

// Disconnect closes the socket if open and abandons any dial in progress.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.gen++
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected.Store(false)
	c.mu.Unlock()

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.Close()
	c.logger.Info("channel: disconnected")
	c.notifyState(false)
}

func (c *Channel) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		mt, payload, err := conn.ReadMessage()
		if err != nil {
			c.dropped(conn, err)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if c.opts.PingInterval > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2 * c.opts.PingInterval))
		}
		HandlePayload(c.handler, payload, c.logger)
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("channel: ping failed", zap.Error(err))
				return
			}
		}
	}
}

// dropped clears conn if it is still the current socket.
func (c *Channel) dropped(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected.Store(false)
	c.mu.Unlock()
	_ = conn.Close()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Info("channel: closed by server")
	} else {
		c.logger.Warn("channel: socket error", zap.Error(err))
	}
	c.notifyState(false)
}

func (c *Channel) notifyState(connected bool) {
	if c.opts.OnState != nil {
		c.opts.OnState(connected)
	}
}
