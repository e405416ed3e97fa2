package config

import (
	"errors"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Audio.InputFormat != "g711_ulaw" {
		t.Errorf("expected g711_ulaw input format, got %q", cfg.Audio.InputFormat)
	}
	if cfg.Audio.SampleRate != 8000 {
		t.Errorf("expected 8000 Hz sample rate, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.QueueDepth != 100 {
		t.Errorf("expected queue depth 100, got %d", cfg.Audio.QueueDepth)
	}
	if cfg.Audio.StreamingMode != StreamAccumulate {
		t.Errorf("expected accumulate streaming, got %q", cfg.Audio.StreamingMode)
	}
	if cfg.OpenAI.PingIntervalSecs != 15 || cfg.OpenAI.PingTimeoutSecs != 10 {
		t.Errorf("unexpected keepalive defaults: %d/%d",
			cfg.OpenAI.PingIntervalSecs, cfg.OpenAI.PingTimeoutSecs)
	}
	if cfg.Session.CreationTimeoutSecs != 5 {
		t.Errorf("expected creation timeout 5s, got %d", cfg.Session.CreationTimeoutSecs)
	}
}

func TestLoadFromReader(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	t.Run("overrides defaults", func(t *testing.T) {
		yaml := `
server:
  listen_addr: ":9090"
  log_level: debug
audio:
  streaming_mode: windowed
  window_size_chunks: 5
  window_timeout_ms: 100
`
		cfg, err := LoadFromReader(strings.NewReader(yaml))
		if err != nil {
			t.Fatalf("LoadFromReader: %v", err)
		}
		if cfg.Server.ListenAddr != ":9090" {
			t.Errorf("expected :9090, got %q", cfg.Server.ListenAddr)
		}
		if cfg.Audio.StreamingMode != StreamWindowed {
			t.Errorf("expected windowed, got %q", cfg.Audio.StreamingMode)
		}
		if cfg.Audio.WindowSizeChunks != 5 {
			t.Errorf("expected window size 5, got %d", cfg.Audio.WindowSizeChunks)
		}
		// Untouched sections keep defaults.
		if cfg.Audio.QueueDepth != 100 {
			t.Errorf("expected default queue depth, got %d", cfg.Audio.QueueDepth)
		}
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		if _, err := LoadFromReader(strings.NewReader("serverr:\n  x: 1\n")); err == nil {
			t.Fatal("expected error for unknown top-level key")
		}
	})

	t.Run("empty input keeps defaults", func(t *testing.T) {
		cfg, err := LoadFromReader(strings.NewReader(""))
		if err != nil {
			t.Fatalf("LoadFromReader: %v", err)
		}
		if cfg.Server.ListenAddr != ":8080" {
			t.Errorf("expected default listen addr, got %q", cfg.Server.ListenAddr)
		}
	})

	t.Run("api key comes from env", func(t *testing.T) {
		cfg, err := LoadFromReader(strings.NewReader(""))
		if err != nil {
			t.Fatalf("LoadFromReader: %v", err)
		}
		if cfg.OpenAI.APIKey != "sk-test" {
			t.Errorf("expected env API key, got %q", cfg.OpenAI.APIKey)
		}
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.OpenAI.APIKey = "sk-test"
		return cfg
	}

	t.Run("valid config passes", func(t *testing.T) {
		if err := valid().Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("missing api key", func(t *testing.T) {
		cfg := valid()
		cfg.OpenAI.APIKey = ""
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("ulaw requires 8000 hz", func(t *testing.T) {
		cfg := valid()
		cfg.Audio.SampleRate = 24000
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("bad streaming mode", func(t *testing.T) {
		cfg := valid()
		cfg.Audio.StreamingMode = "burst"
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("multiple failures joined", func(t *testing.T) {
		cfg := valid()
		cfg.OpenAI.APIKey = ""
		cfg.Audio.QueueDepth = 0
		cfg.OpenAI.Speed = 3.0
		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected error")
		}
		var joined interface{ Unwrap() []error }
		if !errors.As(err, &joined) {
			t.Fatalf("expected joined error, got %T", err)
		}
		if n := len(joined.Unwrap()); n != 3 {
			t.Errorf("expected 3 joined errors, got %d: %v", n, err)
		}
	})
}
