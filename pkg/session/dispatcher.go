package session

import (
	"sync"

	"github.com/arcline-ai/voicebridge/internal/log"
	"github.com/arcline-ai/voicebridge/pkg/realtime"
)

// HandlerFunc processes one dispatched event. Returned errors are logged
// by the dispatcher and never stop delivery to other handlers.
type HandlerFunc func(event string, ev *realtime.Event) error

// Dispatcher fans events out to registered handlers. Handlers for one
// event run in registration order; global handlers see every event after
// the specific ones.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
	global   []HandlerFunc
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string][]HandlerFunc)}
}

// Register subscribes fn to one event name.
func (d *Dispatcher) Register(event string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[event] = append(d.handlers[event], fn)
}

// RegisterGlobal subscribes fn to every event.
func (d *Dispatcher) RegisterGlobal(fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.global = append(d.global, fn)
}

// Dispatch delivers one event. A failing handler is logged and skipped so
// one component's error never starves the others.
func (d *Dispatcher) Dispatch(event string, ev *realtime.Event) {
	d.mu.RLock()
	specific := d.handlers[event]
	global := d.global
	d.mu.RUnlock()

	for _, fn := range specific {
		if err := fn(event, ev); err != nil {
			log.Error("event handler failed", "event", event, "error", err)
		}
	}
	for _, fn := range global {
		if err := fn(event, ev); err != nil {
			log.Error("global event handler failed", "event", event, "error", err)
		}
	}
}

// HandlerCount reports how many handlers are registered for an event.
func (d *Dispatcher) HandlerCount(event string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[event])
}

// Router translates provider event types to the internal names handlers
// subscribe under, then dispatches both so provider-specific handlers
// still fire.
type Router struct {
	dispatcher *Dispatcher
}

// NewRouter wraps a dispatcher.
func NewRouter(d *Dispatcher) *Router {
	return &Router{dispatcher: d}
}

// Route dispatches one provider event.
func (r *Router) Route(ev *realtime.Event) {
	internal := realtime.InternalName(ev.Type)
	r.dispatcher.Dispatch(internal, ev)
	if internal != ev.Type {
		r.dispatcher.Dispatch(ev.Type, ev)
	}
}
