package web

import (
	"sync"

	"github.com/arcline-ai/voicebridge/internal/log"
	"github.com/arcline-ai/voicebridge/pkg/session"
)

// Registry tracks live call sessions so shutdown can disconnect them all.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session.Session)}
}

// Add records a session under its call ID.
func (r *Registry) Add(callID string, s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[callID] = s
}

// Remove forgets a session.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callID)
}

// Get looks a session up by call ID.
func (r *Registry) Get(callID string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown disconnects every live session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*session.Session)
	r.mu.Unlock()

	for _, s := range sessions {
		log.Info("disconnecting session on shutdown", "call_id", s.CallID())
		s.Disconnect()
	}
}
