package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/arcline-ai/voicebridge/pkg/realtime"
)

// Tool is a function the model can call during a conversation.
type Tool struct {
	Name        string
	Description string

	// Parameters is the JSON schema of the arguments object.
	Parameters map[string]any

	Handler func(ctx context.Context, args map[string]any) (any, error)
}

// Registry holds the tools offered to the model. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Add registers a tool, replacing any tool with the same name.
func (r *Registry) Add(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("session: tool missing name")
	}
	if t.Handler == nil {
		return fmt.Errorf("session: tool %q missing handler", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// Remove unregisters a tool by name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Specs renders the registry in the provider's tool schema, in
// registration order.
func (r *Registry) Specs() []realtime.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]realtime.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		specs = append(specs, realtime.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return specs
}
