// Package telephony implements the caller leg of the bridge: Twilio Media
// Streams framing, bounded audio queues, and mark-based playback tracking.
package telephony

// Frame is a Twilio Media Streams message. Inbound frames carry one of the
// event payloads; outbound frames are built with the constructors below.
type Frame struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Protocol       string        `json:"protocol,omitempty"`
	Version        string        `json:"version,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
	DTMF           *DTMFPayload  `json:"dtmf,omitempty"`
}

// Inbound event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
	EventDTMF      = "dtmf"
)

// StartPayload describes the stream Twilio is opening.
type StartPayload struct {
	AccountSid  string      `json:"accountSid"`
	StreamSid   string      `json:"streamSid"`
	CallSid     string      `json:"callSid"`
	Tracks      []string    `json:"tracks"`
	MediaFormat MediaFormat `json:"mediaFormat"`
}

// MediaFormat declares the codec of the stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one base64 audio chunk. Timestamp is milliseconds
// since stream start, sent by Twilio as a string.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// MarkPayload names a playback checkpoint.
type MarkPayload struct {
	Name string `json:"name"`
}

// StopPayload closes the stream.
type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// DTMFPayload reports a keypad press.
type DTMFPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// markName tags every outbound media chunk so Twilio's mark echoes tell us
// how much the caller has actually heard.
const markName = "responsePart"

// MediaFrame wraps a base64 payload for the given stream.
func MediaFrame(streamSid, payloadB64 string) *Frame {
	return &Frame{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaPayload{Payload: payloadB64},
	}
}

// MarkFrame requests a playback checkpoint echo.
func MarkFrame(streamSid string) *Frame {
	return &Frame{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      &MarkPayload{Name: markName},
	}
}

// ClearFrame tells Twilio to discard all buffered outbound audio.
func ClearFrame(streamSid string) *Frame {
	return &Frame{Event: "clear", StreamSid: streamSid}
}
