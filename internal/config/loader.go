package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from the YAML file at path, applies environment
// overrides, and validates the result. An empty path skips the file and
// uses defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %s: %w", path, err)
		}
		defer f.Close()

		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults, applies environment
// overrides, and validates.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides file values from the environment. The API key has no
// YAML equivalent and must come from here.
func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		c.OpenAI.Model = v
	}
	if v := os.Getenv("VOICEBRIDGE_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("VOICEBRIDGE_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = LogLevel(v)
	}
}

// Validate checks the configuration and returns all problems joined together.
func (c *Config) Validate() error {
	var errs []error

	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("config: OPENAI_API_KEY is required"))
	}
	if c.OpenAI.Model == "" {
		errs = append(errs, errors.New("config: openai.model must not be empty"))
	}
	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("config: server.listen_addr must not be empty"))
	}
	if !c.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("config: server.log_level %q is not one of debug, info, warn, error", c.Server.LogLevel))
	}
	if !c.Audio.StreamingMode.IsValid() {
		errs = append(errs, fmt.Errorf("config: audio.streaming_mode %q is not one of individual, windowed, accumulate", c.Audio.StreamingMode))
	}

	switch c.Audio.InputFormat {
	case "g711_ulaw", "pcm16":
	default:
		errs = append(errs, fmt.Errorf("config: audio.input_format %q is not one of g711_ulaw, pcm16", c.Audio.InputFormat))
	}
	switch c.Audio.OutputFormat {
	case "g711_ulaw", "pcm16":
	default:
		errs = append(errs, fmt.Errorf("config: audio.output_format %q is not one of g711_ulaw, pcm16", c.Audio.OutputFormat))
	}
	if c.Audio.InputFormat == "g711_ulaw" && c.Audio.SampleRate != 8000 {
		errs = append(errs, fmt.Errorf("config: audio.sample_rate must be 8000 for g711_ulaw, got %d", c.Audio.SampleRate))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("config: audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.QueueDepth <= 0 {
		errs = append(errs, fmt.Errorf("config: audio.queue_depth must be positive, got %d", c.Audio.QueueDepth))
	}
	if c.Audio.MaxMemoryMB <= 0 {
		errs = append(errs, fmt.Errorf("config: audio.max_memory_mb must be positive, got %d", c.Audio.MaxMemoryMB))
	}
	if c.Audio.MaxChunksPerResponse <= 0 {
		errs = append(errs, fmt.Errorf("config: audio.max_chunks_per_response must be positive, got %d", c.Audio.MaxChunksPerResponse))
	}
	if c.Audio.StreamingMode == StreamWindowed {
		if c.Audio.WindowSizeChunks <= 0 {
			errs = append(errs, fmt.Errorf("config: audio.window_size_chunks must be positive, got %d", c.Audio.WindowSizeChunks))
		}
		if c.Audio.WindowTimeoutMs <= 0 {
			errs = append(errs, fmt.Errorf("config: audio.window_timeout_ms must be positive, got %d", c.Audio.WindowTimeoutMs))
		}
	}

	if c.OpenAI.Speed < 0.25 || c.OpenAI.Speed > 1.5 {
		errs = append(errs, fmt.Errorf("config: openai.speed %.2f outside [0.25, 1.5]", c.OpenAI.Speed))
	}
	if c.OpenAI.PingIntervalSecs <= 0 {
		errs = append(errs, fmt.Errorf("config: openai.ping_interval_secs must be positive, got %d", c.OpenAI.PingIntervalSecs))
	}
	if c.OpenAI.PingTimeoutSecs <= 0 {
		errs = append(errs, fmt.Errorf("config: openai.ping_timeout_secs must be positive, got %d", c.OpenAI.PingTimeoutSecs))
	}

	if c.VAD.Threshold < 0 || c.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("config: vad.threshold %.2f outside [0, 1]", c.VAD.Threshold))
	}

	if c.Session.CreationTimeoutSecs <= 0 {
		errs = append(errs, fmt.Errorf("config: session.creation_timeout_secs must be positive, got %d", c.Session.CreationTimeoutSecs))
	}
	if c.Session.ToolDebounceMs < 0 {
		errs = append(errs, fmt.Errorf("config: session.tool_debounce_ms must not be negative, got %d", c.Session.ToolDebounceMs))
	}
	if c.Twilio.PauseLength < 0 {
		errs = append(errs, fmt.Errorf("config: twilio.pause_length must not be negative, got %d", c.Twilio.PauseLength))
	}

	return errors.Join(errs...)
}
