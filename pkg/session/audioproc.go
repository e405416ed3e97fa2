package session

import (
	"sync"
	"time"

	"github.com/arcline-ai/voicebridge/internal/config"
	"github.com/arcline-ai/voicebridge/internal/log"
)

// AudioProcessorConfig tunes the streaming policy and the input duration
// math. InputFormat and SampleRate must match what the model session
// declared, otherwise truncation offsets drift.
type AudioProcessorConfig struct {
	Mode config.StreamingMode

	MaxMemoryMB          int
	MaxChunksPerResponse int

	WindowSizeChunks        int
	WindowTimeout           time.Duration
	ImmediateThresholdBytes int

	InputFormat string
	SampleRate  int
}

// AudioProcessor applies the streaming policy to model audio and tracks
// the timing needed for barge-in truncation. All methods are safe for
// concurrent use.
type AudioProcessor struct {
	mu  sync.Mutex
	cfg AudioProcessorConfig

	// Accumulate state, at most one item at a time.
	chunks        [][]byte
	currentItemID string
	currentSize   int

	// Windowed state.
	windowChunks [][]byte
	windowTimer  *time.Timer

	// Truncation timing.
	lastAssistantItem string
	responseStart     time.Time
	inputDurationMs   float64

	// OnAudioReady delivers processed audio downstream. It must only
	// enqueue the audio and never call back into the processor.
	OnAudioReady func(audio []byte)

	// OnMemoryLimit fires when accumulate mode hits a cap, carrying the
	// buffered audio so it can be flushed early.
	OnMemoryLimit func(audio []byte)
}

// NewAudioProcessor creates a processor with the given policy.
func NewAudioProcessor(cfg AudioProcessorConfig) *AudioProcessor {
	if cfg.MaxMemoryMB <= 0 {
		cfg.MaxMemoryMB = 50
	}
	if cfg.MaxChunksPerResponse <= 0 {
		cfg.MaxChunksPerResponse = 1000
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	return &AudioProcessor{cfg: cfg}
}

// StreamingMode returns the active mode.
func (p *AudioProcessor) StreamingMode() config.StreamingMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Mode
}

// StreamingModeOption adjusts windowed-mode parameters when switching.
type StreamingModeOption func(*AudioProcessorConfig)

// WithWindowSize overrides the chunk count that flushes a window.
func WithWindowSize(chunks int) StreamingModeOption {
	return func(c *AudioProcessorConfig) { c.WindowSizeChunks = chunks }
}

// WithWindowTimeout overrides the window flush deadline.
func WithWindowTimeout(d time.Duration) StreamingModeOption {
	return func(c *AudioProcessorConfig) { c.WindowTimeout = d }
}

// WithImmediateThreshold overrides the large-delta bypass size.
func WithImmediateThreshold(bytes int) StreamingModeOption {
	return func(c *AudioProcessorConfig) { c.ImmediateThresholdBytes = bytes }
}

// SetStreamingMode switches modes at runtime. Any pending window timer is
// cancelled; buffered audio stays until the next flush point.
func (p *AudioProcessor) SetStreamingMode(mode config.StreamingMode, opts ...StreamingModeOption) {
	p.mu.Lock()
	old := p.cfg.Mode
	p.cfg.Mode = mode
	for _, opt := range opts {
		opt(&p.cfg)
	}
	p.stopWindowTimerLocked()
	p.mu.Unlock()

	log.Info("audio streaming mode changed", "from", old, "to", mode)
}

// AddChunk feeds one decoded audio delta for the given assistant item.
// A new item flushes and resets accumulation first. Returns false when an
// accumulate cap forced an early flush of the buffered audio; the chunk
// itself still starts the next accumulation run.
func (p *AudioProcessor) AddChunk(audio []byte, itemID string) bool {
	p.mu.Lock()

	if itemID != p.lastAssistantItem {
		p.lastAssistantItem = itemID
		p.resetForNewResponseLocked(itemID)
	}

	if p.cfg.Mode == config.StreamAccumulate {
		maxBytes := p.cfg.MaxMemoryMB * 1024 * 1024
		if p.currentSize+len(audio) > maxBytes || len(p.chunks) >= p.cfg.MaxChunksPerResponse {
			buffered := concat(p.chunks)
			count := len(p.chunks)
			p.chunks = append([][]byte(nil), audio)
			p.currentSize = len(audio)
			p.mu.Unlock()
			log.Warn("audio accumulation limit reached, flushing early",
				"buffered_bytes", len(buffered), "chunks", count)
			if p.OnMemoryLimit != nil && len(buffered) > 0 {
				p.OnMemoryLimit(buffered)
			}
			return false
		}
	}

	switch p.cfg.Mode {
	case config.StreamIndividual:
		p.mu.Unlock()
		p.emit(audio)

	case config.StreamWindowed:
		p.windowChunks = append(p.windowChunks, audio)
		if p.windowTimer == nil {
			p.windowTimer = time.AfterFunc(p.cfg.WindowTimeout, p.flushWindow)
		}
		full := len(p.windowChunks) >= p.cfg.WindowSizeChunks ||
			len(audio) >= p.cfg.ImmediateThresholdBytes
		if full {
			p.flushWindowLocked()
		}
		p.mu.Unlock()

	case config.StreamAccumulate:
		p.chunks = append(p.chunks, audio)
		p.currentSize += len(audio)
		p.mu.Unlock()
	}

	return true
}

// FinalizeResponse flushes whatever the active mode still holds: the
// remaining window in windowed mode, the whole concatenation in accumulate
// mode (emitted exactly once, then cleared). Individual mode has nothing
// left to send.
func (p *AudioProcessor) FinalizeResponse() {
	p.mu.Lock()

	var pending []byte
	switch p.cfg.Mode {
	case config.StreamWindowed:
		pending = concat(p.windowChunks)
		p.windowChunks = nil
		p.stopWindowTimerLocked()
	case config.StreamAccumulate:
		pending = concat(p.chunks)
		if len(pending) > 0 {
			log.Info("finalizing accumulated audio response",
				"chunks", len(p.chunks), "bytes", len(pending))
		}
	}
	p.clearAccumulationLocked()
	p.mu.Unlock()

	if len(pending) > 0 {
		p.emit(pending)
	}
}

// ClearAccumulation discards everything buffered, used on interruption
// and teardown.
func (p *AudioProcessor) ClearAccumulation() {
	p.mu.Lock()
	if n := len(p.chunks); n > 0 {
		log.Debug("clearing accumulated audio", "chunks", n, "bytes", p.currentSize)
	}
	p.clearAccumulationLocked()
	p.mu.Unlock()
}

// TrackInputAudio accounts one caller chunk toward the input duration.
// The duration math follows the declared codec: pcm16 carries two bytes
// per sample, g711_ulaw one.
func (p *AudioProcessor) TrackInputAudio(audio []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	samples := float64(len(audio))
	if p.cfg.InputFormat == "pcm16" {
		samples /= 2
	}
	p.inputDurationMs += samples / float64(p.cfg.SampleRate) * 1000
}

// ResetInputTiming starts a fresh caller turn.
func (p *AudioProcessor) ResetInputTiming() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputDurationMs = 0
}

// InterruptTiming returns the truncation offset for a barge-in: the
// smaller of response playback elapsed time and caller audio heard, in
// whole milliseconds. Zero when no response is in flight.
func (p *AudioProcessor) InterruptTiming() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.responseStart.IsZero() {
		return 0
	}
	elapsed := float64(time.Since(p.responseStart).Milliseconds())
	if p.inputDurationMs < elapsed {
		return int(p.inputDurationMs)
	}
	return int(elapsed)
}

// LastAssistantItem returns the item ID of the response being played,
// empty when none.
func (p *AudioProcessor) LastAssistantItem() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAssistantItem
}

// ClearCurrentItem forgets the in-flight response so a second barge-in
// cannot truncate the same item twice.
func (p *AudioProcessor) ClearCurrentItem() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastAssistantItem = ""
	p.responseStart = time.Time{}
}

// MemoryInfo reports buffering state for introspection.
func (p *AudioProcessor) MemoryInfo() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()

	maxBytes := p.cfg.MaxMemoryMB * 1024 * 1024
	info := map[string]any{
		"streaming_mode":     string(p.cfg.Mode),
		"current_chunks":     len(p.chunks),
		"window_chunks":      len(p.windowChunks),
		"current_size_bytes": p.currentSize,
		"max_memory_mb":      p.cfg.MaxMemoryMB,
		"max_chunks":         p.cfg.MaxChunksPerResponse,
	}
	if p.cfg.Mode == config.StreamAccumulate {
		info["memory_usage_percent"] = float64(p.currentSize) / float64(maxBytes) * 100
		info["chunk_usage_percent"] = float64(len(p.chunks)) / float64(p.cfg.MaxChunksPerResponse) * 100
	}
	return info
}

// resetForNewResponseLocked flushes whatever the previous item still has
// buffered, then starts fresh state for the new one. Must hold p.mu.
func (p *AudioProcessor) resetForNewResponseLocked(itemID string) {
	var pending []byte
	switch p.cfg.Mode {
	case config.StreamWindowed:
		pending = concat(p.windowChunks)
	case config.StreamAccumulate:
		pending = concat(p.chunks)
	}
	if len(pending) > 0 {
		log.Debug("flushing pending audio for new response", "bytes", len(pending))
		p.emit(pending)
	}

	p.stopWindowTimerLocked()
	p.chunks = nil
	p.windowChunks = nil
	p.currentItemID = itemID
	p.currentSize = 0
	p.responseStart = time.Now()
}

func (p *AudioProcessor) clearAccumulationLocked() {
	p.stopWindowTimerLocked()
	p.chunks = nil
	p.windowChunks = nil
	p.currentItemID = ""
	p.currentSize = 0
}

func (p *AudioProcessor) stopWindowTimerLocked() {
	if p.windowTimer != nil {
		p.windowTimer.Stop()
		p.windowTimer = nil
	}
}

// flushWindow is the timer path into flushWindowLocked.
func (p *AudioProcessor) flushWindow() {
	p.mu.Lock()
	p.flushWindowLocked()
	p.mu.Unlock()
}

// flushWindowLocked emits the buffered window. Must hold p.mu.
func (p *AudioProcessor) flushWindowLocked() {
	if len(p.windowChunks) == 0 {
		return
	}
	combined := concat(p.windowChunks)
	p.windowChunks = nil
	p.stopWindowTimerLocked()

	log.Debug("flushing audio window", "bytes", len(combined))
	p.emit(combined)
}

// emit hands audio downstream. May run with or without p.mu held; the
// callback must only enqueue and never reenter the processor.
func (p *AudioProcessor) emit(audio []byte) {
	if p.OnAudioReady != nil {
		p.OnAudioReady(audio)
	}
}

func concat(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total == 0 {
		return nil
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
