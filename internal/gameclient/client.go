// Package gameclient talks to a round server: a websocket client that re-dials with exponential
// backoff, and a fasthttp probe of the HTTP endpoints.
package gameclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/park285/matka-round-server/internal/obslog"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// Frame is one server event with its payload left raw.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type (
	FrameHandler func(Frame)
	StateHandler func(State)
)

var ErrClosed = errors.New("gameclient: closed")

type Client struct {
	url     string
	backoff Backoff

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	attempt  int
	timer    *time.Timer
	gen      uint64
	closed   bool
	onFrame  []FrameHandler
	onState  []StateHandler
	rootCtx  context.Context
	rootStop context.CancelFunc
	wg       sync.WaitGroup
}

func New(wsURL string, b Backoff) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{url: wsURL, backoff: b, state: StateDisconnected, rootCtx: ctx, rootStop: cancel}
}

// OnFrame registers h for every received frame. Handlers run on the read goroutine.
func (c *Client) OnFrame(h FrameHandler) {
	c.mu.Lock()
	c.onFrame = append(c.onFrame, h)
	c.mu.Unlock()
}

func (c *Client) OnStateChange(h StateHandler) {
	c.mu.Lock()
	c.onState = append(c.onState, h)
	c.mu.Unlock()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials once. On failure a reconnect is scheduled and the dial error returned.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.setState(StateConnecting)
	if err := c.dial(ctx, gen); err != nil {
		c.setState(StateDisconnected)
		c.Reconnect()
		return err
	}
	return nil
}

// Reconnect schedules a dial after the next backoff delay. Calling it again before the timer
// fires cancels the pending timer and re-arms it at the same attempt. It reports false once
// attempts are exhausted or the client is closed.
func (c *Client) Reconnect() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	replacing := false
	if c.timer != nil {
		replacing = c.timer.Stop()
		c.timer = nil
	}
	if !replacing || c.attempt == 0 {
		c.attempt++
	}
	c.gen++
	if c.backoff.exhausted(c.attempt) {
		c.mu.Unlock()
		obslog.L().Warn("gameclient_reconnect_exhausted", zap.String("url", c.url), zap.Int("attempts", c.attempt-1))
		c.setState(StateFailed)
		return false
	}
	gen, delay := c.gen, c.backoff.Delay(c.attempt)
	c.timer = time.AfterFunc(delay, func() { c.redial(gen) })
	attempt := c.attempt
	c.mu.Unlock()

	obslog.L().Info("gameclient_reconnect_scheduled", zap.Int("attempt", attempt), zap.Duration("delay", delay))
	c.setState(StateReconnecting)
	return true
}

func (c *Client) redial(gen uint64) {
	c.mu.Lock()
	stale := c.closed || gen != c.gen
	c.timer = nil
	c.mu.Unlock()
	if stale {
		return
	}
	ctx, cancel := context.WithTimeout(c.rootCtx, 10*time.Second)
	defer cancel()
	if err := c.dial(ctx, gen); err != nil {
		obslog.L().Debug("gameclient_dial_failed", zap.Error(err))
		c.Reconnect()
	}
}

func (c *Client) dial(ctx context.Context, gen uint64) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		return nil
	}
	c.conn = conn
	c.attempt = 0
	c.wg.Add(1)
	c.mu.Unlock()

	c.setState(StateConnected)
	go c.listen(conn)
	return nil
}

func (c *Client) listen(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		var f Frame
		if err := wsjson.Read(c.rootCtx, conn, &f); err != nil {
			c.mu.Lock()
			closing := c.closed
			current := c.conn == conn
			if current {
				c.conn = nil
			}
			c.mu.Unlock()
			_ = conn.Close(websocket.StatusGoingAway, "reconnect")
			if closing || !current {
				return
			}
			c.setState(StateDisconnected)
			c.Reconnect()
			return
		}

		c.mu.Lock()
		handlers := make([]FrameHandler, len(c.onFrame))
		copy(handlers, c.onFrame)
		c.mu.Unlock()
		for _, h := range handlers {
			h(f)
		}
	}
}

// Send writes one {type, payload} frame.
func (c *Client) Send(ctx context.Context, typ string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("gameclient: not connected")
	}
	return wsjson.Write(ctx, conn, map[string]any{"type": typ, "payload": payload})
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	handlers := make([]StateHandler, len(c.onState))
	copy(handlers, c.onState)
	c.mu.Unlock()
	for _, h := range handlers {
		h(s)
	}
}

// Close stops reconnecting, closes the connection and waits for the reader to exit.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	defer c.setState(StateClosed)
	select {
	case <-ctx.Done():
		c.rootStop()
		return ctx.Err()
	case <-done:
		c.rootStop()
		return nil
	}
}
