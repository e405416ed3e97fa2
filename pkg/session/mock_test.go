package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arcline-ai/voicebridge/internal/config"
	"github.com/arcline-ai/voicebridge/pkg/realtime"
)

// fakeConn is an in-memory model connection. Tests feed inbound events
// through the events channel and inspect recorded sends.
type fakeConn struct {
	mu     sync.Mutex
	sent   []realtime.Envelope
	events chan *realtime.Event
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan *realtime.Event, 32)}
}

func (c *fakeConn) Send(env realtime.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return realtime.ErrNotConnected
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) Recv() (*realtime.Event, error) {
	select {
	case ev, ok := <-c.events:
		if !ok {
			return nil, realtime.ErrClosed
		}
		return ev, nil
	case <-time.After(20 * time.Millisecond):
		return nil, realtime.ErrNoMessage
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) sentEnvelopes() []realtime.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]realtime.Envelope(nil), c.sent...)
}

func (c *fakeConn) sentOfType(envType string) []realtime.Envelope {
	var out []realtime.Envelope
	for _, env := range c.sentEnvelopes() {
		if env["type"] == envType {
			out = append(out, env)
		}
	}
	return out
}

// waitForSent polls until at least one envelope of the given type was
// sent, failing the test on timeout.
func (c *fakeConn) waitForSent(t *testing.T, envType string) realtime.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if envs := c.sentOfType(envType); len(envs) > 0 {
			return envs[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q envelope", envType)
	return nil
}

func (c *fakeConn) feed(ev *realtime.Event) {
	c.events <- ev
}

// fakeAudio is an in-memory caller leg.
type fakeAudio struct {
	mu            sync.Mutex
	inbound       [][]byte
	outbound      [][]byte
	cleared       int
	speechStarted int
}

func (a *fakeAudio) Receive() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.inbound) == 0 {
		return nil
	}
	chunk := a.inbound[0]
	a.inbound = a.inbound[1:]
	return chunk
}

func (a *fakeAudio) SendOutboundAudio(audio []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outbound = append(a.outbound, audio)
}

func (a *fakeAudio) ClearBuffers() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleared++
}

func (a *fakeAudio) HandleSpeechStarted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.speechStarted++
	a.outbound = nil
}

func (a *fakeAudio) queueInbound(chunk []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inbound = append(a.inbound, chunk)
}

func (a *fakeAudio) outboundChunks() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]byte(nil), a.outbound...)
}

func (a *fakeAudio) speechStartedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speechStarted
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.OpenAI.APIKey = "sk-test"
	cfg.Session.ToolDebounceMs = 10
	cfg.Session.ToolShutdownTimeoutSecs = 1
	return cfg
}

// newTestSession wires a session over the fakes with a dialer that hands
// back the provided connection.
func newTestSession(t *testing.T, cfg *config.Config) (*Session, *fakeConn, *fakeAudio) {
	t.Helper()

	conn := newFakeConn()
	audio := &fakeAudio{}
	tools := NewRegistry()

	dial := func(ctx context.Context, onLost func(error)) (LLMConn, error) {
		return conn, nil
	}

	s := New("call-test", cfg, audio, tools, dial)
	t.Cleanup(s.Disconnect)
	return s, conn, audio
}

// startConversation connects and runs the loops on a background
// goroutine, returning a stop function.
func startConversation(t *testing.T, s *Session) context.CancelFunc {
	t.Helper()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.StartConversation(ctx, "")
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("conversation loops did not stop")
		}
	})
	return cancel
}
