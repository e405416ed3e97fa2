// Package realtime implements the model leg of the bridge: a WebSocket
// client for OpenAI's Realtime API with typed event envelopes, keepalive,
// and session initialization.
package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arcline-ai/voicebridge/internal/log"
)

// DefaultURL is the production Realtime endpoint.
const DefaultURL = "wss://api.openai.com/v1/realtime"

const recvPoll = 1 * time.Second

// Options configures a Conn.
type Options struct {
	// URL overrides the provider endpoint. The model query parameter is
	// appended automatically.
	URL    string
	APIKey string
	Model  string

	PingInterval time.Duration
	PingTimeout  time.Duration
	CloseTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.URL == "" {
		out.URL = DefaultURL
	}
	if out.PingInterval <= 0 {
		out.PingInterval = 15 * time.Second
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 10 * time.Second
	}
	if out.CloseTimeout <= 0 {
		out.CloseTimeout = 10 * time.Second
	}
	return out
}

// Conn is a connection to the Realtime API. One internal goroutine is the
// sole socket reader; Recv drains its channel. Sends serialize through a
// single mutex so event order is preserved.
type Conn struct {
	opts Options

	ws   *websocket.Conn
	wsMu sync.Mutex

	msgCh chan []byte
	done  chan struct{}

	mu       sync.Mutex
	closed   bool
	lastPong time.Time

	lostOnce sync.Once

	// OnConnectionLost fires once when the socket dies for any reason
	// other than a local Close. Set before the first Recv.
	OnConnectionLost func(err error)
}

// Dial connects and authenticates to the Realtime API and starts the
// reader and keepalive goroutines.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	o := opts.withDefaults()
	if o.APIKey == "" {
		return nil, &ConnectionError{Reason: "refused", Cause: fmt.Errorf("missing API key")}
	}

	url := fmt.Sprintf("%s?model=%s", o.URL, o.Model)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+o.APIKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, &ConnectionError{Reason: "dial failed", Cause: err, Retryable: true}
	}

	c := &Conn{
		opts:  o,
		ws:    ws,
		msgCh: make(chan []byte, 64),
		done:  make(chan struct{}),
	}
	c.lastPong = time.Now()

	ws.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return nil
	})
	ws.SetPingHandler(func(appData string) error {
		c.wsMu.Lock()
		defer c.wsMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	go c.readLoop()
	go c.keepAlive()

	log.Debug("realtime connection established", "url", o.URL, "model", o.Model)
	return c, nil
}

// Send writes one envelope to the socket. Callers on multiple goroutines
// are safe; each envelope goes out whole and in call order.
func (c *Conn) Send(env Envelope) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	if c.isClosed() {
		return ErrNotConnected
	}
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.ws.WriteJSON(env); err != nil {
		cerr := &ConnectionError{Reason: "write failed", Cause: err, Retryable: true}
		go c.connectionLost(cerr)
		return cerr
	}
	return nil
}

// Recv returns the next event, waiting up to one second. A miss returns
// ErrNoMessage so callers can poll without blocking shutdown.
func (c *Conn) Recv() (*Event, error) {
	timer := time.NewTimer(recvPoll)
	defer timer.Stop()

	select {
	case data, ok := <-c.msgCh:
		if !ok {
			return nil, ErrClosed
		}
		ev, err := ParseEvent(data)
		if err != nil {
			cerr := &ConnectionError{Reason: "protocol violation", Cause: err}
			c.connectionLost(cerr)
			return nil, cerr
		}
		return ev, nil
	case <-c.done:
		return nil, ErrClosed
	case <-timer.C:
		return nil, ErrNoMessage
	}
}

// Close shuts the connection down. Safe to call more than once and from
// any goroutine; the first call sends a close frame and the rest no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)

	c.wsMu.Lock()
	deadline := time.Now().Add(c.opts.CloseTimeout)
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := c.ws.Close()
	c.wsMu.Unlock()

	return err
}

// IsConnected reports whether the connection is still usable.
func (c *Conn) IsConnected() bool {
	return !c.isClosed()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// readLoop is the only goroutine that reads the socket. It forwards raw
// frames to msgCh and reports the connection lost when the read fails.
func (c *Conn) readLoop() {
	defer close(c.msgCh)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				c.connectionLost(&ConnectionError{Reason: "read failed", Cause: err, Retryable: true})
			}
			return
		}
		select {
		case c.msgCh <- data:
		case <-c.done:
			return
		}
	}
}

// keepAlive pings on an interval and declares the connection lost when the
// peer stops answering.
func (c *Conn) keepAlive() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		gap := time.Since(c.lastPong)
		c.mu.Unlock()
		if gap > c.opts.PingInterval+c.opts.PingTimeout {
			c.connectionLost(&ConnectionError{
				Reason:    "ping timeout",
				Cause:     fmt.Errorf("no pong for %s", gap.Round(time.Millisecond)),
				Retryable: true,
			})
			return
		}

		c.wsMu.Lock()
		err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.PingTimeout))
		c.wsMu.Unlock()
		if err != nil && !c.isClosed() {
			c.connectionLost(&ConnectionError{Reason: "ping failed", Cause: err, Retryable: true})
			return
		}
	}
}

func (c *Conn) connectionLost(err error) {
	c.lostOnce.Do(func() {
		log.Warn("realtime connection lost", "error", err)
		if c.OnConnectionLost != nil {
			c.OnConnectionLost(err)
		}
		c.Close()
	})
}
