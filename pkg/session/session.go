package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arcline-ai/voicebridge/internal/config"
	"github.com/arcline-ai/voicebridge/internal/log"
	"github.com/arcline-ai/voicebridge/pkg/realtime"
)

const inputLoopYield = 10 * time.Millisecond

// LLMConn is the model leg as the session sees it.
type LLMConn interface {
	Send(realtime.Envelope) error
	Recv() (*realtime.Event, error)
	Close() error
}

// AudioIO is the caller leg as the session sees it.
type AudioIO interface {
	Receive() []byte
	SendOutboundAudio(audio []byte)
	ClearBuffers()
	HandleSpeechStarted()
}

// Dialer opens and initializes a model connection. onLost fires once if
// the connection dies after a successful dial.
type Dialer func(ctx context.Context, onLost func(error)) (LLMConn, error)

// RealtimeDialer returns a Dialer backed by the Realtime API, performing
// the session.update handshake with the registry's tools.
func RealtimeDialer(cfg *config.Config, tools *Registry) Dialer {
	return func(ctx context.Context, onLost func(error)) (LLMConn, error) {
		conn, err := realtime.Dial(ctx, realtime.Options{
			APIKey:       cfg.OpenAI.APIKey,
			Model:        cfg.OpenAI.Model,
			PingInterval: time.Duration(cfg.OpenAI.PingIntervalSecs) * time.Second,
			PingTimeout:  time.Duration(cfg.OpenAI.PingTimeoutSecs) * time.Second,
			CloseTimeout: time.Duration(cfg.OpenAI.CloseTimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		conn.OnConnectionLost = onLost

		err = realtime.Initialize(conn, realtime.SessionSettings{
			Instructions: cfg.OpenAI.Instructions,
			Voice:        cfg.OpenAI.Voice,
			Speed:        cfg.OpenAI.Speed,
			InputFormat:  cfg.Audio.InputFormat,
			OutputFormat: cfg.Audio.OutputFormat,
			SampleRate:   cfg.Audio.SampleRate,
			TurnDetection: realtime.TurnDetection{
				Type:              cfg.VAD.Type,
				CreateResponse:    cfg.VAD.CreateResponse,
				Threshold:         cfg.VAD.Threshold,
				PrefixPaddingMs:   cfg.VAD.PrefixPaddingMs,
				SilenceDurationMs: cfg.VAD.SilenceDurationMs,
			},
			Tools:               tools.Specs(),
			CreationTimeoutSecs: cfg.Session.CreationTimeoutSecs,
		})
		if err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

// Session bridges one telephony call to one model conversation. It owns
// the state machine, routes model events to the processors, forwards
// caller audio upstream, and handles barge-in truncation.
type Session struct {
	callID string
	cfg    *config.Config
	dial   Dialer
	audio  AudioIO
	tools  *Registry

	dispatcher *Dispatcher
	router     *Router
	audioProc  *AudioProcessor
	funcProc   *FunctionCallProcessor
	metrics    *MetricsCollector

	mu         sync.Mutex
	state      State
	conn       LLMConn
	cancel     context.CancelFunc
	transcript strings.Builder

	disconnectOnce sync.Once

	// Lifecycle callbacks. They run synchronously on session goroutines
	// and must not block.
	OnStateChange   func(old, new State)
	OnSpeechStarted func()
	OnSpeechStopped func()
	OnError         func(err error)
}

// New creates a session for one call and wires its processors together.
func New(callID string, cfg *config.Config, audio AudioIO, tools *Registry, dial Dialer) *Session {
	s := &Session{
		callID:     callID,
		cfg:        cfg,
		dial:       dial,
		audio:      audio,
		tools:      tools,
		dispatcher: NewDispatcher(),
		metrics:    NewMetricsCollector(),
		state:      StateDisconnected,
	}
	s.router = NewRouter(s.dispatcher)

	s.audioProc = NewAudioProcessor(AudioProcessorConfig{
		Mode:                    cfg.Audio.StreamingMode,
		MaxMemoryMB:             cfg.Audio.MaxMemoryMB,
		MaxChunksPerResponse:    cfg.Audio.MaxChunksPerResponse,
		WindowSizeChunks:        cfg.Audio.WindowSizeChunks,
		WindowTimeout:           time.Duration(cfg.Audio.WindowTimeoutMs) * time.Millisecond,
		ImmediateThresholdBytes: cfg.Audio.ImmediateThresholdBytes,
		InputFormat:             cfg.Audio.InputFormat,
		SampleRate:              cfg.Audio.SampleRate,
	})
	s.audioProc.OnAudioReady = func(audio []byte) {
		s.metrics.IncrementAudioOut()
		s.audio.SendOutboundAudio(audio)
	}
	s.audioProc.OnMemoryLimit = func(audio []byte) {
		s.audio.SendOutboundAudio(audio)
	}

	s.funcProc = NewFunctionCallProcessor(tools, cfg.Session.NonBlockingTools)
	s.funcProc.OnToolResult = s.sendToolResult
	s.funcProc.OnToolError = s.sendToolError

	s.registerHandlers()
	return s
}

func (s *Session) registerHandlers() {
	s.dispatcher.Register(realtime.EventAudioDelta, func(_ string, ev *realtime.Event) error {
		audio, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			return fmt.Errorf("decode audio delta: %w", err)
		}
		s.metrics.MarkFirstAudio()
		s.audioProc.AddChunk(audio, ev.ItemID)
		return nil
	})

	s.dispatcher.Register(realtime.EventResponseCreated, func(_ string, _ *realtime.Event) error {
		s.setState(StateSpeaking)
		return nil
	})

	s.dispatcher.Register(realtime.EventResponseDone, func(_ string, _ *realtime.Event) error {
		s.audioProc.FinalizeResponse()
		s.metrics.MarkResponseDone()
		if s.State() == StateSpeaking {
			s.setState(StateConnected)
		}
		return nil
	})

	s.dispatcher.Register(realtime.EventFunctionDelta, func(_ string, ev *realtime.Event) error {
		s.funcProc.HandleDelta(ev)
		return nil
	})

	s.dispatcher.Register(realtime.EventFunctionDone, func(_ string, ev *realtime.Event) error {
		s.funcProc.HandleDone(ev)
		return nil
	})

	s.dispatcher.Register(realtime.EventInputTranscript, func(_ string, ev *realtime.Event) error {
		if ev.Transcript != "" {
			log.Info("caller said", "call_id", s.callID, "transcript", strings.TrimSpace(ev.Transcript))
		}
		return nil
	})
}

// Connect dials the model and performs the session handshake.
func (s *Session) Connect(ctx context.Context) error {
	if s.State() != StateDisconnected {
		return fmt.Errorf("session: already connected or connecting")
	}
	s.setState(StateConnecting)

	conn, err := s.dial(ctx, s.handleConnectionLost)
	if err != nil {
		s.setState(StateError)
		s.fireError(fmt.Errorf("session: connect: %w", err))
		return fmt.Errorf("session: connect: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.setState(StateConnected)

	log.Info("session connected", "call_id", s.callID)
	return nil
}

// StartConversation runs the audio input and event receive loops until
// the context is cancelled or the connection fails. The optional initial
// message primes the model to speak first.
func (s *Session) StartConversation(ctx context.Context, initialMessage string) error {
	if s.State() != StateConnected {
		return fmt.Errorf("session: must be connected to start a conversation")
	}

	if initialMessage != "" {
		if err := s.send(realtime.UserMessage(initialMessage)); err != nil {
			return err
		}
		if err := s.send(realtime.ResponseCreate()); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	log.Info("starting conversation loops", "call_id", s.callID)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.audioInputLoop(ctx) })
	g.Go(func() error { return s.receiveLoop(ctx) })
	return g.Wait()
}

// SendTextMessage injects a typed user message into the conversation.
func (s *Session) SendTextMessage(text string) error {
	if err := s.send(realtime.UserMessage(text)); err != nil {
		return err
	}
	return s.send(realtime.ResponseCreate())
}

// Disconnect tears the session down: cancels the loops, stops tools,
// clears buffered state, and closes the model socket. Idempotent.
func (s *Session) Disconnect() {
	s.disconnectOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		conn := s.conn
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}

		timeout := time.Duration(s.cfg.Session.ToolShutdownTimeoutSecs) * time.Second
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		s.funcProc.CancelTasks(timeout)

		s.audioProc.ClearAccumulation()
		s.funcProc.ClearPending()

		if conn != nil {
			conn.Close()
		}

		s.setState(StateDisconnected)
		log.Info("session disconnected", "call_id", s.callID)
	})
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CallID returns the session's call identifier.
func (s *Session) CallID() string {
	return s.callID
}

// SetStreamingMode switches the audio streaming policy at runtime.
func (s *Session) SetStreamingMode(mode config.StreamingMode, opts ...StreamingModeOption) {
	s.audioProc.SetStreamingMode(mode, opts...)
}

// Info merges audio memory and tool execution introspection.
func (s *Session) Info() map[string]any {
	info := s.audioProc.MemoryInfo()
	for k, v := range s.funcProc.StatusInfo() {
		info[k] = v
	}
	info["state"] = s.State().String()
	return info
}

// Metrics exposes the per-turn latency collector.
func (s *Session) Metrics() *MetricsCollector {
	return s.metrics
}

// AddTool registers a tool. Tools added after Connect are not announced
// to the model until the next session.
func (s *Session) AddTool(t Tool) error {
	return s.tools.Add(t)
}

// audioInputLoop drains the caller's inbound queue into the model's input
// buffer, yielding briefly between polls.
func (s *Session) audioInputLoop(ctx context.Context) error {
	log.Debug("audio input loop started", "call_id", s.callID)
	defer log.Debug("audio input loop ended", "call_id", s.callID)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch s.State() {
		case StateConnected, StateListening, StateSpeaking:
		default:
			return nil
		}

		if chunk := s.audio.Receive(); chunk != nil {
			if err := s.sendAudio(chunk); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(inputLoopYield):
		}
	}
}

// sendAudio tracks timing and forwards one caller chunk upstream.
func (s *Session) sendAudio(chunk []byte) error {
	s.audioProc.TrackInputAudio(chunk)
	s.metrics.IncrementAudioIn()
	return s.send(realtime.AppendAudio(base64.StdEncoding.EncodeToString(chunk)))
}

// receiveLoop pulls model events and routes them. Poll misses keep the
// loop responsive to cancellation.
func (s *Session) receiveLoop(ctx context.Context) error {
	log.Debug("receive loop started", "call_id", s.callID)
	defer log.Debug("receive loop ended", "call_id", s.callID)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ev, err := s.conn.Recv()
		if err != nil {
			if errors.Is(err, realtime.ErrNoMessage) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, realtime.ErrClosed) {
				return nil
			}
			return fmt.Errorf("session: receive: %w", err)
		}

		s.router.Route(ev)
		s.handleDirectEvent(ev)
	}
}

// handleDirectEvent covers the events the session reacts to itself, after
// the dispatcher has run.
func (s *Session) handleDirectEvent(ev *realtime.Event) {
	switch ev.Type {
	case realtime.TypeSpeechStarted:
		s.setState(StateListening)
		s.audio.HandleSpeechStarted()
		s.interruptResponse()
		s.audioProc.ResetInputTiming()
		if s.OnSpeechStarted != nil {
			s.OnSpeechStarted()
		}

	case realtime.TypeSpeechStopped:
		s.metrics.MarkSpeechEnd()
		if s.OnSpeechStopped != nil {
			s.OnSpeechStopped()
		}

	case realtime.TypeTranscriptDelta, realtime.TypeOutputTranscriptDelta:
		if ev.Delta != "" {
			s.mu.Lock()
			s.transcript.WriteString(ev.Delta)
			s.mu.Unlock()
		}

	case realtime.TypeTranscriptDone, realtime.TypeOutputTranscriptDone:
		s.mu.Lock()
		text := strings.TrimSpace(s.transcript.String())
		s.transcript.Reset()
		s.mu.Unlock()
		if text != "" {
			log.Info("assistant said", "call_id", s.callID, "transcript", text)
		}

	case realtime.TypeError:
		apiErr := &realtime.APIError{Type: "unknown", Message: "unknown error"}
		if ev.Error != nil {
			apiErr = &realtime.APIError{Type: ev.Error.Type, Code: ev.Error.Code, Message: ev.Error.Message}
		}
		log.Error("model error event", "call_id", s.callID, "error", apiErr)
		s.fireError(apiErr)
	}
}

// interruptResponse truncates the in-flight assistant item at the point
// the caller actually heard, then drops everything buffered for it. The
// current item is cleared so a response is truncated at most once.
func (s *Session) interruptResponse() {
	itemID := s.audioProc.LastAssistantItem()
	audioEndMs := s.audioProc.InterruptTiming()

	if itemID == "" || audioEndMs <= 0 {
		log.Debug("no active response to interrupt", "call_id", s.callID)
		return
	}

	if err := s.send(realtime.TruncateItem(itemID, audioEndMs)); err != nil {
		log.Error("failed to send truncate", "call_id", s.callID, "error", err)
	}
	s.audioProc.ClearAccumulation()
	s.audioProc.ClearCurrentItem()

	log.Info("interrupted response", "call_id", s.callID, "audio_end_ms", audioEndMs)
}

// sendToolResult delivers a tool output to the model. Final results are
// followed by a short debounce and a response request; executing
// acknowledgments are not, so the model keeps the turn open.
func (s *Session) sendToolResult(callID, toolName string, result any, final bool) {
	out, err := json.Marshal(result)
	if err != nil {
		log.Error("failed to marshal tool result", "tool", toolName, "error", err)
		s.sendToolError(callID, fmt.Sprintf("unserializable result from %s", toolName))
		return
	}

	if err := s.send(realtime.FunctionCallOutput(callID, string(out))); err != nil {
		log.Error("failed to send tool result", "tool", toolName, "error", err)
		return
	}

	if final {
		time.Sleep(s.toolDebounce())
		if err := s.send(realtime.ResponseCreate()); err != nil {
			log.Error("failed to request response after tool result", "tool", toolName, "error", err)
		}
		log.Info("sent final tool result", "tool", toolName, "call_id", callID)
	}
}

// sendToolError reports a failed call as a structured error output and
// asks the model to respond to it.
func (s *Session) sendToolError(callID, message string) {
	out, _ := json.Marshal(map[string]string{"error": message})
	if err := s.send(realtime.FunctionCallOutput(callID, string(out))); err != nil {
		log.Error("failed to send tool error", "call_id", callID, "error", err)
		return
	}
	time.Sleep(s.toolDebounce())
	if err := s.send(realtime.ResponseCreate()); err != nil {
		log.Error("failed to request response after tool error", "call_id", callID, "error", err)
	}
}

func (s *Session) toolDebounce() time.Duration {
	d := time.Duration(s.cfg.Session.ToolDebounceMs) * time.Millisecond
	if d < 0 {
		d = 0
	}
	return d
}

func (s *Session) send(env realtime.Envelope) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return realtime.ErrNotConnected
	}
	return conn.Send(env)
}

func (s *Session) setState(newState State) {
	s.mu.Lock()
	old := s.state
	if old == newState {
		s.mu.Unlock()
		return
	}
	s.state = newState
	s.mu.Unlock()

	log.Debug("session state changed", "call_id", s.callID, "from", old, "to", newState)
	if s.OnStateChange != nil {
		s.OnStateChange(old, newState)
	}
}

func (s *Session) handleConnectionLost(err error) {
	log.Error("model connection lost", "call_id", s.callID, "error", err)
	s.setState(StateError)
	s.fireError(err)

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) fireError(err error) {
	if s.OnError != nil {
		s.OnError(err)
	}
}
