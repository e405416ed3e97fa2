// Package config provides configuration for the voicebridge server.
// Configuration is loaded from a YAML file and overridden by environment
// variables; the OpenAI API key is env-only and required.
package config

// LogLevel is a slog-compatible level name.
type LogLevel string

// Valid log levels.
const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// IsValid reports whether the level is one of the known names.
func (l LogLevel) IsValid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// StreamingMode selects how model audio deltas are forwarded to the caller.
type StreamingMode string

const (
	// StreamIndividual forwards every delta immediately.
	StreamIndividual StreamingMode = "individual"

	// StreamWindowed batches deltas into small time/count windows.
	StreamWindowed StreamingMode = "windowed"

	// StreamAccumulate retains all deltas until the response completes.
	StreamAccumulate StreamingMode = "accumulate"
)

// IsValid reports whether the mode is a known streaming mode.
func (m StreamingMode) IsValid() bool {
	switch m {
	case StreamIndividual, StreamWindowed, StreamAccumulate:
		return true
	}
	return false
}

// Config is the root configuration for the voicebridge process.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Twilio  TwilioConfig  `yaml:"twilio"`
	Audio   AudioConfig   `yaml:"audio"`
	VAD     VADConfig     `yaml:"vad"`
	Session SessionConfig `yaml:"session"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// ListenAddr is the address the fiber app binds to, e.g. ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls slog verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// OpenAIConfig holds the Realtime API connection settings.
type OpenAIConfig struct {
	// APIKey is read from OPENAI_API_KEY; never set it in YAML.
	APIKey string `yaml:"-"`

	Model        string  `yaml:"model"`
	Instructions string  `yaml:"instructions"`
	Voice        string  `yaml:"voice"`
	Speed        float64 `yaml:"speed"`

	// Keepalive settings, in seconds.
	PingIntervalSecs int `yaml:"ping_interval_secs"`
	PingTimeoutSecs  int `yaml:"ping_timeout_secs"`
	CloseTimeoutSecs int `yaml:"close_timeout_secs"`
}

// TwilioConfig holds settings for the TwiML webhook and greeting flow.
type TwilioConfig struct {
	// Voice is the Twilio <Say> voice used for the greeting.
	Voice string `yaml:"voice"`

	GreetingMessage string `yaml:"greeting_message"`
	ReadyMessage    string `yaml:"ready_message"`

	// PauseLength is the <Pause> between greeting and ready message, seconds.
	PauseLength int `yaml:"pause_length"`

	// InitialMessage is sent to the model when the media stream starts.
	InitialMessage string `yaml:"initial_message"`
}

// AudioConfig holds wire codec and buffering settings shared by both legs.
type AudioConfig struct {
	// InputFormat and OutputFormat name the Realtime audio codec
	// ("g711_ulaw" for telephony paths, "pcm16" for 24 kHz paths).
	InputFormat  string `yaml:"input_format"`
	OutputFormat string `yaml:"output_format"`

	// SampleRate in Hz. Must match the declared codec (8000 for g711_ulaw).
	SampleRate int `yaml:"sample_rate"`

	// QueueDepth bounds the inbound and outbound audio queues.
	QueueDepth int `yaml:"queue_depth"`

	// Accumulate-mode caps. Breaching either flushes early.
	MaxMemoryMB          int `yaml:"max_memory_mb"`
	MaxChunksPerResponse int `yaml:"max_chunks_per_response"`

	// Streaming policy for model audio deltas.
	StreamingMode           StreamingMode `yaml:"streaming_mode"`
	WindowSizeChunks        int           `yaml:"window_size_chunks"`
	WindowTimeoutMs         int           `yaml:"window_timeout_ms"`
	ImmediateThresholdBytes int           `yaml:"immediate_threshold_bytes"`
}

// VADConfig holds server-side turn detection settings.
type VADConfig struct {
	Type              string  `yaml:"type"`
	CreateResponse    bool    `yaml:"create_response"`
	Threshold         float64 `yaml:"threshold"`
	PrefixPaddingMs   int     `yaml:"prefix_padding_ms"`
	SilenceDurationMs int     `yaml:"silence_duration_ms"`
}

// SessionConfig holds per-session lifecycle settings.
type SessionConfig struct {
	// CreationTimeoutSecs bounds the wait for session.created.
	CreationTimeoutSecs int `yaml:"creation_timeout_secs"`

	// NonBlockingTools enables the executing-acknowledgment tool flow.
	NonBlockingTools bool `yaml:"non_blocking_tools"`

	// ToolDebounceMs is the pause between a function_call_output and the
	// response.create that follows it.
	ToolDebounceMs int `yaml:"tool_debounce_ms"`

	// ToolShutdownTimeoutSecs bounds the wait for in-flight tool tasks
	// during teardown.
	ToolShutdownTimeoutSecs int `yaml:"tool_shutdown_timeout_secs"`
}

// Default returns a Config with sensible defaults for a Twilio bridge:
// µ-law at 8 kHz on both legs, accumulate streaming, server VAD.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LevelInfo,
		},
		OpenAI: OpenAIConfig{
			Model:            "gpt-realtime",
			Voice:            "alloy",
			Speed:            1.0,
			PingIntervalSecs: 15,
			PingTimeoutSecs:  10,
			CloseTimeoutSecs: 10,
		},
		Twilio: TwilioConfig{
			Voice: "Google.en-US-Chirp3-HD-Aoede",
			GreetingMessage: "Please wait while we connect your call to the A. I. voice assistant, " +
				"powered by Twilio and the Open A I Realtime API",
			ReadyMessage: "O.K. you can start talking!",
			PauseLength:  1,
			InitialMessage: "Hello! I am an AI voice assistant powered by Twilio and OpenAI. " +
				"How can I help you today?",
		},
		Audio: AudioConfig{
			InputFormat:             "g711_ulaw",
			OutputFormat:            "g711_ulaw",
			SampleRate:              8000,
			QueueDepth:              100,
			MaxMemoryMB:             50,
			MaxChunksPerResponse:    1000,
			StreamingMode:           StreamAccumulate,
			WindowSizeChunks:        10,
			WindowTimeoutMs:         200,
			ImmediateThresholdBytes: 1024,
		},
		VAD: VADConfig{
			Type:              "server_vad",
			CreateResponse:    true,
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		},
		Session: SessionConfig{
			CreationTimeoutSecs:     5,
			NonBlockingTools:        true,
			ToolDebounceMs:          100,
			ToolShutdownTimeoutSecs: 5,
		},
	}
}
