package web

import (
	"encoding/xml"
	"fmt"

	"github.com/arcline-ai/voicebridge/internal/config"
)

// TwiML voice response: greet the caller, pause, announce readiness, then
// connect the call's audio to the media stream endpoint.
type voiceResponse struct {
	XMLName xml.Name `xml:"Response"`
	// Verbs are emitted in order: greeting, pause, ready, connect.
	// encoding/xml cannot marshal two sibling fields with the same
	// element name ("Say"), so repeated verbs must go through a slice.
	Verbs []any
}

type say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr"`
	Text    string   `xml:",chardata"`
}

type pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

// BuildTwiML renders the incoming-call response pointing the media stream
// at wss://host/media-stream.
func BuildTwiML(cfg config.TwilioConfig, host string) (string, error) {
	resp := voiceResponse{
		Verbs: []any{
			say{Voice: cfg.Voice, Text: cfg.GreetingMessage},
			pause{Length: cfg.PauseLength},
			say{Voice: cfg.Voice, Text: cfg.ReadyMessage},
			twimlConnect{
				Stream: twimlStream{URL: fmt.Sprintf("wss://%s/media-stream", host)},
			},
		},
	}

	out, err := xml.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("web: marshal twiml: %w", err)
	}
	return xml.Header + string(out), nil
}
