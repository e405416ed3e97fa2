package session

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/arcline-ai/voicebridge/internal/config"
)

type audioSink struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (s *audioSink) collect(audio []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, audio)
}

func (s *audioSink) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.chunks...)
}

func newProcessor(mode config.StreamingMode) (*AudioProcessor, *audioSink) {
	sink := &audioSink{}
	p := NewAudioProcessor(AudioProcessorConfig{
		Mode:                    mode,
		MaxMemoryMB:             1,
		MaxChunksPerResponse:    5,
		WindowSizeChunks:        3,
		WindowTimeout:           50 * time.Millisecond,
		ImmediateThresholdBytes: 1024,
		InputFormat:             "g711_ulaw",
		SampleRate:              8000,
	})
	p.OnAudioReady = sink.collect
	return p, sink
}

func TestIndividualMode(t *testing.T) {
	p, sink := newProcessor(config.StreamIndividual)

	p.AddChunk([]byte("one"), "item_1")
	p.AddChunk([]byte("two"), "item_1")

	got := sink.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected immediate forwarding of 2 chunks, got %d", len(got))
	}
	if string(got[0]) != "one" || string(got[1]) != "two" {
		t.Errorf("unexpected chunks %q", got)
	}

	// Finalize has nothing left to send.
	p.FinalizeResponse()
	if len(sink.snapshot()) != 2 {
		t.Errorf("finalize emitted extra audio in individual mode")
	}
}

func TestWindowedMode(t *testing.T) {
	t.Run("flushes on chunk count", func(t *testing.T) {
		p, sink := newProcessor(config.StreamWindowed)

		p.AddChunk([]byte("a"), "item_1")
		p.AddChunk([]byte("b"), "item_1")
		if len(sink.snapshot()) != 0 {
			t.Fatal("window flushed early")
		}
		p.AddChunk([]byte("c"), "item_1")

		got := sink.snapshot()
		if len(got) != 1 || string(got[0]) != "abc" {
			t.Errorf("expected one combined window, got %q", got)
		}
	})

	t.Run("large delta flushes immediately", func(t *testing.T) {
		p, sink := newProcessor(config.StreamWindowed)

		big := bytes.Repeat([]byte{0x7f}, 2048)
		p.AddChunk(big, "item_1")

		got := sink.snapshot()
		if len(got) != 1 || len(got[0]) != 2048 {
			t.Errorf("expected immediate flush of large delta, got %d windows", len(got))
		}
	})

	t.Run("timer flushes a stale window", func(t *testing.T) {
		p, sink := newProcessor(config.StreamWindowed)

		p.AddChunk([]byte("x"), "item_1")

		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if len(sink.snapshot()) == 1 {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatal("window timer never flushed")
	})

	t.Run("finalize flushes the remainder", func(t *testing.T) {
		p, sink := newProcessor(config.StreamWindowed)

		p.AddChunk([]byte("tail"), "item_1")
		p.FinalizeResponse()

		got := sink.snapshot()
		if len(got) != 1 || string(got[0]) != "tail" {
			t.Errorf("expected remainder flush, got %q", got)
		}
	})
}

func TestAccumulateMode(t *testing.T) {
	t.Run("holds until finalize then emits once", func(t *testing.T) {
		p, sink := newProcessor(config.StreamAccumulate)

		p.AddChunk([]byte("aa"), "item_1")
		p.AddChunk([]byte("bb"), "item_1")
		if len(sink.snapshot()) != 0 {
			t.Fatal("accumulate mode emitted before finalize")
		}

		p.FinalizeResponse()
		got := sink.snapshot()
		if len(got) != 1 || string(got[0]) != "aabb" {
			t.Fatalf("expected one concatenation, got %q", got)
		}

		// Second finalize must not re-emit.
		p.FinalizeResponse()
		if len(sink.snapshot()) != 1 {
			t.Error("finalize emitted twice")
		}
	})

	t.Run("new item flushes the previous one", func(t *testing.T) {
		p, sink := newProcessor(config.StreamAccumulate)

		p.AddChunk([]byte("old"), "item_1")
		p.AddChunk([]byte("new"), "item_2")

		got := sink.snapshot()
		if len(got) != 1 || string(got[0]) != "old" {
			t.Fatalf("expected the previous item's audio flushed, got %q", got)
		}

		p.FinalizeResponse()
		got = sink.snapshot()
		if len(got) != 2 || string(got[1]) != "new" {
			t.Errorf("expected the new item's audio on finalize, got %q", got)
		}
	})

	t.Run("chunk cap flushes early and keeps streaming", func(t *testing.T) {
		sink := &audioSink{}
		p := NewAudioProcessor(AudioProcessorConfig{
			Mode:                 config.StreamAccumulate,
			MaxMemoryMB:          1,
			MaxChunksPerResponse: 3,
			InputFormat:          "g711_ulaw",
			SampleRate:           8000,
		})
		p.OnAudioReady = sink.collect
		var early [][]byte
		p.OnMemoryLimit = func(audio []byte) { early = append(early, audio) }

		for i, b := range []byte("abcde") {
			ok := p.AddChunk([]byte{b}, "item_1")
			if i == 3 && ok {
				t.Fatal("expected early flush at the chunk cap")
			}
			if i != 3 && !ok {
				t.Fatalf("chunk %d flushed unexpectedly", i)
			}
		}
		p.FinalizeResponse()

		// The first three bytes go out once at the cap; the rest keep
		// accumulating and arrive on finalize. Nothing is dropped or
		// repeated.
		if len(early) != 1 || string(early[0]) != "abc" {
			t.Fatalf("expected one early flush of %q, got %q", "abc", early)
		}
		got := sink.snapshot()
		if len(got) != 1 || string(got[0]) != "de" {
			t.Errorf("expected remainder %q on finalize, got %q", "de", got)
		}
	})

	t.Run("memory cap flushes early and keeps the breaching chunk", func(t *testing.T) {
		sink := &audioSink{}
		p := NewAudioProcessor(AudioProcessorConfig{
			Mode:                 config.StreamAccumulate,
			MaxMemoryMB:          1,
			MaxChunksPerResponse: 1000,
			InputFormat:          "g711_ulaw",
			SampleRate:           8000,
		})
		p.OnAudioReady = sink.collect
		var earlyBytes int
		p.OnMemoryLimit = func(audio []byte) { earlyBytes = len(audio) }

		half := bytes.Repeat([]byte{1}, 600*1024)
		if !p.AddChunk(half, "item_1") {
			t.Fatal("first chunk should fit")
		}
		if p.AddChunk(half, "item_1") {
			t.Fatal("second chunk should breach the 1MB cap")
		}
		if earlyBytes != 600*1024 {
			t.Errorf("expected buffered audio flushed early, got %d bytes", earlyBytes)
		}

		p.FinalizeResponse()
		got := sink.snapshot()
		if len(got) != 1 || len(got[0]) != 600*1024 {
			t.Fatalf("expected the breaching chunk on finalize, got %d emissions", len(got))
		}
	})
}

func TestModeSwitching(t *testing.T) {
	p, sink := newProcessor(config.StreamAccumulate)

	p.SetStreamingMode(config.StreamIndividual)
	p.AddChunk([]byte("now"), "item_1")

	got := sink.snapshot()
	if len(got) != 1 || string(got[0]) != "now" {
		t.Errorf("expected immediate forwarding after switch, got %q", got)
	}

	p.SetStreamingMode(config.StreamWindowed, WithWindowSize(2), WithWindowTimeout(time.Hour))
	p.AddChunk([]byte("w1"), "item_1")
	p.AddChunk([]byte("w2"), "item_1")

	got = sink.snapshot()
	if len(got) != 2 || string(got[1]) != "w1w2" {
		t.Errorf("expected window flush after switch, got %q", got)
	}
}

func TestInputTimingAndInterrupt(t *testing.T) {
	t.Run("ulaw duration is one ms per eight bytes", func(t *testing.T) {
		p, _ := newProcessor(config.StreamAccumulate)

		// 1600 bytes of 8kHz µ-law is 200ms of audio.
		p.TrackInputAudio(bytes.Repeat([]byte{0}, 1600))
		p.AddChunk([]byte("x"), "item_1")

		time.Sleep(350 * time.Millisecond)
		got := p.InterruptTiming()
		if got != 200 {
			t.Errorf("expected input-limited timing of 200ms, got %d", got)
		}
	})

	t.Run("pcm16 duration halves the byte count", func(t *testing.T) {
		p := NewAudioProcessor(AudioProcessorConfig{
			Mode:        config.StreamAccumulate,
			InputFormat: "pcm16",
			SampleRate:  24000,
		})

		// 4800 bytes of 24kHz pcm16 is 100ms of audio.
		p.TrackInputAudio(bytes.Repeat([]byte{0}, 4800))
		p.AddChunk([]byte("x"), "item_1")

		time.Sleep(250 * time.Millisecond)
		if got := p.InterruptTiming(); got != 100 {
			t.Errorf("expected 100ms, got %d", got)
		}
	})

	t.Run("elapsed-limited when response just started", func(t *testing.T) {
		p, _ := newProcessor(config.StreamAccumulate)

		p.TrackInputAudio(bytes.Repeat([]byte{0}, 80000)) // 10s heard
		p.AddChunk([]byte("x"), "item_1")
		time.Sleep(50 * time.Millisecond)

		got := p.InterruptTiming()
		if got < 40 || got > 500 {
			t.Errorf("expected elapsed-limited timing near 50ms, got %d", got)
		}
	})

	t.Run("zero without an active response", func(t *testing.T) {
		p, _ := newProcessor(config.StreamAccumulate)
		p.TrackInputAudio(bytes.Repeat([]byte{0}, 1600))
		if got := p.InterruptTiming(); got != 0 {
			t.Errorf("expected 0, got %d", got)
		}
	})

	t.Run("reset starts a fresh turn", func(t *testing.T) {
		p, _ := newProcessor(config.StreamAccumulate)
		p.TrackInputAudio(bytes.Repeat([]byte{0}, 1600))
		p.ResetInputTiming()
		p.AddChunk([]byte("x"), "item_1")
		time.Sleep(20 * time.Millisecond)
		if got := p.InterruptTiming(); got != 0 {
			t.Errorf("expected 0 after reset, got %d", got)
		}
	})

	t.Run("clearing the current item disarms truncation", func(t *testing.T) {
		p, _ := newProcessor(config.StreamAccumulate)
		p.AddChunk([]byte("x"), "item_1")
		if p.LastAssistantItem() != "item_1" {
			t.Fatalf("expected item_1, got %q", p.LastAssistantItem())
		}
		p.ClearCurrentItem()
		if p.LastAssistantItem() != "" {
			t.Error("expected no current item")
		}
		if got := p.InterruptTiming(); got != 0 {
			t.Errorf("expected 0 after clear, got %d", got)
		}
	})
}

func TestMemoryInfo(t *testing.T) {
	p, _ := newProcessor(config.StreamAccumulate)
	p.AddChunk([]byte("abcd"), "item_1")

	info := p.MemoryInfo()
	if info["current_chunks"] != 1 || info["current_size_bytes"] != 4 {
		t.Errorf("unexpected memory info %v", info)
	}
	if info["streaming_mode"] != "accumulate" {
		t.Errorf("unexpected mode %v", info["streaming_mode"])
	}
}
