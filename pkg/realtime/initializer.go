package realtime

import (
	"time"

	"github.com/arcline-ai/voicebridge/internal/log"
)

// ToolSpec is a tool definition in the provider's schema.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string
	CreateResponse    bool
	Threshold         float64
	PrefixPaddingMs   int
	SilenceDurationMs int
}

// SessionSettings is everything the session.update handshake declares.
type SessionSettings struct {
	Instructions string
	Voice        string
	Speed        float64

	InputFormat  string
	OutputFormat string
	SampleRate   int

	TurnDetection TurnDetection
	Tools         []ToolSpec

	// CreationTimeoutSecs bounds the wait for session.created, polled in
	// one-second slices.
	CreationTimeoutSecs int
}

// SessionUpdate builds the session.update envelope. Both audio legs carry
// explicit format and rate; tools are tagged as functions and tool_choice
// is auto only when tools exist.
func SessionUpdate(s SessionSettings) Envelope {
	tools := make([]map[string]any, 0, len(s.Tools))
	for _, t := range s.Tools {
		tools = append(tools, map[string]any{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Parameters,
		})
	}

	toolChoice := "none"
	if len(tools) > 0 {
		toolChoice = "auto"
	}

	return Envelope{
		"type": "session.update",
		"session": map[string]any{
			"type":         "realtime",
			"instructions": s.Instructions,
			"tools":        tools,
			"tool_choice":  toolChoice,
			"audio": map[string]any{
				"input": map[string]any{
					"format": map[string]any{
						"type": s.InputFormat,
						"rate": s.SampleRate,
					},
					"turn_detection": map[string]any{
						"type":                s.TurnDetection.Type,
						"create_response":     s.TurnDetection.CreateResponse,
						"threshold":           s.TurnDetection.Threshold,
						"prefix_padding_ms":   s.TurnDetection.PrefixPaddingMs,
						"silence_duration_ms": s.TurnDetection.SilenceDurationMs,
					},
				},
				"output": map[string]any{
					"format": map[string]any{
						"type": s.OutputFormat,
						"rate": s.SampleRate,
					},
					"voice": s.Voice,
					"speed": s.Speed,
				},
			},
		},
	}
}

// Initialize sends session.update and waits for the provider to confirm.
// An error event fails immediately; unrelated events are logged and the
// wait continues; running out of the timeout returns ErrSessionTimeout.
func Initialize(conn *Conn, settings SessionSettings) error {
	if err := conn.Send(SessionUpdate(settings)); err != nil {
		return err
	}

	timeoutSecs := settings.CreationTimeoutSecs
	if timeoutSecs <= 0 {
		timeoutSecs = 5
	}
	deadline := time.Now().Add(time.Duration(timeoutSecs) * time.Second)

	// Bounded by wall time, not iterations: a burst of unrelated events
	// must not eat into the wait budget.
	for time.Now().Before(deadline) {
		ev, err := conn.Recv()
		if err != nil {
			if err == ErrNoMessage {
				continue
			}
			return err
		}

		switch ev.Type {
		case TypeSessionCreated:
			log.Info("realtime session created")
			return nil
		case TypeError:
			apiErr := &APIError{Type: "server_error", Message: "session creation failed"}
			if ev.Error != nil {
				apiErr = &APIError{Type: ev.Error.Type, Code: ev.Error.Code, Message: ev.Error.Message}
			}
			return apiErr
		default:
			log.Debug("event during session init", "type", ev.Type)
		}
	}

	return ErrSessionTimeout
}
