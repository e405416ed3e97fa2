// Package session orchestrates one voice call: the lifecycle state
// machine, event routing, audio streaming policy, barge-in truncation,
// and tool execution.
package session

// State is the lifecycle state of a call session.
type State int

const (
	// StateDisconnected is the initial and terminal state.
	StateDisconnected State = iota

	// StateConnecting means the model socket dial and handshake are in
	// progress.
	StateConnecting

	// StateConnected means the model session is ready but no conversation
	// loops are running yet.
	StateConnected

	// StateListening means the caller is speaking.
	StateListening

	// StateSpeaking means the model is producing a response.
	StateSpeaking

	// StateError is entered on connection or session failure.
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
