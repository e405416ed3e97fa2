package realtime

import (
	"encoding/json"
	"fmt"
)

// Provider event types we act on. Both the current and the legacy audio
// delta names appear in the wild, so both are mapped.
const (
	TypeSessionCreated        = "session.created"
	TypeSessionUpdated        = "session.updated"
	TypeError                 = "error"
	TypeSpeechStarted         = "input_audio_buffer.speech_started"
	TypeSpeechStopped         = "input_audio_buffer.speech_stopped"
	TypeAudioDelta            = "response.audio.delta"
	TypeOutputAudioDelta      = "response.output_audio.delta"
	TypeAudioDone             = "response.audio.done"
	TypeOutputAudioDone       = "response.output_audio.done"
	TypeTranscriptDelta       = "response.audio_transcript.delta"
	TypeOutputTranscriptDelta = "response.output_audio_transcript.delta"
	TypeTranscriptDone        = "response.audio_transcript.done"
	TypeOutputTranscriptDone  = "response.output_audio_transcript.done"
	TypeFunctionArgsDelta     = "response.function_call_arguments.delta"
	TypeFunctionArgsDone      = "response.function_call_arguments.done"
	TypeResponseCreated       = "response.created"
	TypeResponseDone          = "response.done"
	TypeInputTranscriptDone   = "conversation.item.input_audio_transcription.completed"
)

// Internal event names used by dispatcher subscriptions.
const (
	EventAudioDelta      = "audio_delta"
	EventAudioDone       = "audio_done"
	EventTranscriptDelta = "transcript_delta"
	EventTranscriptDone  = "transcript_done"
	EventFunctionDelta   = "function_call_delta"
	EventFunctionDone    = "function_call_done"
	EventSpeechStarted   = "speech_started"
	EventSpeechStopped   = "speech_stopped"
	EventResponseCreated = "response_created"
	EventResponseDone    = "response_done"
	EventSessionCreated  = "session_created"
	EventSessionUpdated  = "session_updated"
	EventInputTranscript = "input_transcript_done"
	EventError           = "error"
)

var internalNames = map[string]string{
	TypeAudioDelta:            EventAudioDelta,
	TypeOutputAudioDelta:      EventAudioDelta,
	TypeAudioDone:             EventAudioDone,
	TypeOutputAudioDone:       EventAudioDone,
	TypeTranscriptDelta:       EventTranscriptDelta,
	TypeOutputTranscriptDelta: EventTranscriptDelta,
	TypeTranscriptDone:        EventTranscriptDone,
	TypeOutputTranscriptDone:  EventTranscriptDone,
	TypeFunctionArgsDelta:     EventFunctionDelta,
	TypeFunctionArgsDone:      EventFunctionDone,
	TypeSpeechStarted:         EventSpeechStarted,
	TypeSpeechStopped:         EventSpeechStopped,
	TypeResponseCreated:       EventResponseCreated,
	TypeResponseDone:          EventResponseDone,
	TypeSessionCreated:        EventSessionCreated,
	TypeSessionUpdated:        EventSessionUpdated,
	TypeInputTranscriptDone:   EventInputTranscript,
	TypeError:                 EventError,
}

// InternalName maps a provider event type to the internal name the
// dispatcher uses. Unmapped types pass through unchanged.
func InternalName(providerType string) string {
	if name, ok := internalNames[providerType]; ok {
		return name
	}
	return providerType
}

// ErrorDetail carries the provider's error payload.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is a decoded inbound provider event. Only the fields the bridge
// acts on are typed; everything else stays in Raw.
type Event struct {
	Type         string       `json:"type"`
	EventID      string       `json:"event_id"`
	Delta        string       `json:"delta"`
	ItemID       string       `json:"item_id"`
	ResponseID   string       `json:"response_id"`
	CallID       string       `json:"call_id"`
	Name         string       `json:"name"`
	Arguments    string       `json:"arguments"`
	Transcript   string       `json:"transcript"`
	AudioStartMs int          `json:"audio_start_ms"`
	AudioEndMs   int          `json:"audio_end_ms"`
	Error        *ErrorDetail `json:"error"`

	Raw json.RawMessage `json:"-"`
}

// ParseEvent decodes a provider frame. A frame without a type field is
// rejected; per the wire contract that means the connection is unusable.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("realtime: decode event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("realtime: event missing type field")
	}
	ev.Raw = append(json.RawMessage(nil), data...)
	return &ev, nil
}

// Envelope is an outbound provider message.
type Envelope map[string]any

// AppendAudio wraps base64 µ-law or PCM16 payload for the input buffer.
func AppendAudio(audioB64 string) Envelope {
	return Envelope{
		"type":  "input_audio_buffer.append",
		"audio": audioB64,
	}
}

// UserMessage creates a conversation item carrying user text.
func UserMessage(text string) Envelope {
	return Envelope{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}
}

// FunctionCallOutput returns a tool result for the given call.
func FunctionCallOutput(callID, output string) Envelope {
	return Envelope{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	}
}

// TruncateItem cuts an in-progress assistant item at audioEndMs so the
// conversation history matches what the caller actually heard.
func TruncateItem(itemID string, audioEndMs int) Envelope {
	return Envelope{
		"type":          "conversation.item.truncate",
		"item_id":       itemID,
		"content_index": 0,
		"audio_end_ms":  audioEndMs,
	}
}

// ResponseCreate asks the model to produce a response.
func ResponseCreate() Envelope {
	return Envelope{"type": "response.create"}
}
