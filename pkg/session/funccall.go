package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcline-ai/voicebridge/internal/log"
	"github.com/arcline-ai/voicebridge/pkg/realtime"
)

// pendingCall accumulates streamed function call arguments for one call_id.
type pendingCall struct {
	name string
	args string
}

// FunctionCallProcessor accumulates streamed tool calls and executes them.
// In non-blocking mode the model gets an immediate executing
// acknowledgment and the tool runs on its own goroutine, so the voice
// conversation never stalls on a slow tool.
type FunctionCallProcessor struct {
	tools       *Registry
	nonBlocking bool

	mu      sync.Mutex
	pending map[string]*pendingCall
	active  int

	tasks      sync.WaitGroup
	taskCtx    context.Context
	taskCancel context.CancelFunc

	// OnToolResult reports a result for call_id. final is false for the
	// executing acknowledgment of non-blocking mode.
	OnToolResult func(callID, toolName string, result any, final bool)

	// OnToolError reports a failed or unresolvable call.
	OnToolError func(callID, message string)
}

// NewFunctionCallProcessor creates a processor over the given registry.
func NewFunctionCallProcessor(tools *Registry, nonBlocking bool) *FunctionCallProcessor {
	ctx, cancel := context.WithCancel(context.Background())
	return &FunctionCallProcessor{
		tools:       tools,
		nonBlocking: nonBlocking,
		pending:     make(map[string]*pendingCall),
		taskCtx:     ctx,
		taskCancel:  cancel,
	}
}

// HandleDelta accumulates one streamed arguments fragment.
func (f *FunctionCallProcessor) HandleDelta(ev *realtime.Event) {
	if ev.CallID == "" {
		log.Warn("function call delta without call_id")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	call, ok := f.pending[ev.CallID]
	if !ok {
		call = &pendingCall{}
		f.pending[ev.CallID] = call
	}
	call.args += ev.Delta
	if ev.Name != "" {
		call.name = ev.Name
	}
}

// HandleDone resolves and executes a completed call. Unknown tools and
// malformed arguments become tool errors sent back to the model, never
// session failures.
func (f *FunctionCallProcessor) HandleDone(ev *realtime.Event) {
	callID := ev.CallID
	if callID == "" {
		callID = uuid.NewString()
	}

	name := ev.Name
	argsStr := ev.Arguments

	f.mu.Lock()
	if call, ok := f.pending[callID]; ok {
		argsStr = call.args
		if name == "" {
			name = call.name
		}
		delete(f.pending, callID)
	} else if argsStr == "" {
		argsStr = "{}"
	}
	f.mu.Unlock()

	tool, ok := f.tools.Get(name)
	if !ok {
		log.Error("unknown function called", "name", name, "call_id", callID)
		f.toolError(callID, fmt.Sprintf("Unknown function: %s", name))
		return
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(argsStr), &args); err != nil {
		log.Error("invalid function arguments", "name", name, "error", err)
		f.toolError(callID, fmt.Sprintf("Invalid JSON arguments: %v", err))
		return
	}

	log.Info("function call completed", "name", name, "call_id", callID)
	f.execute(tool, args, callID)
}

func (f *FunctionCallProcessor) execute(tool Tool, args map[string]any, callID string) {
	if !f.nonBlocking {
		result, err := tool.Handler(f.taskCtx, args)
		if err != nil {
			f.toolError(callID, err.Error())
			return
		}
		f.toolResult(callID, tool.Name, result, true)
		return
	}

	// Acknowledge immediately so the model can keep talking.
	f.toolResult(callID, tool.Name, map[string]any{
		"status":  "executing",
		"message": fmt.Sprintf("Working on %s for you. I'll have the result shortly and will let you know!", tool.Name),
	}, false)

	f.mu.Lock()
	f.active++
	f.mu.Unlock()

	f.tasks.Add(1)
	go func() {
		defer f.tasks.Done()
		defer func() {
			f.mu.Lock()
			f.active--
			f.mu.Unlock()
			if r := recover(); r != nil {
				log.Error("tool panicked", "name", tool.Name, "panic", r)
				f.toolError(callID, fmt.Sprintf("tool %s panicked", tool.Name))
			}
		}()

		result, err := tool.Handler(f.taskCtx, args)
		if err != nil {
			log.Error("tool execution failed", "name", tool.Name, "error", err)
			f.toolError(callID, err.Error())
			return
		}
		log.Info("tool execution completed", "name", tool.Name, "call_id", callID)
		f.toolResult(callID, tool.Name, result, true)
	}()
}

// CancelTasks stops in-flight tools and waits up to timeout for them to
// finish. Returns false if the wait expired with tasks still running; in
// that case the waiter goroutine lingers until the stuck tool finally
// honors its context and returns, so handlers must respect cancellation.
func (f *FunctionCallProcessor) CancelTasks(timeout time.Duration) bool {
	f.taskCancel()

	done := make(chan struct{})
	go func() {
		f.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.Warn("tool tasks still running after shutdown deadline")
		return false
	}
}

// ClearPending drops accumulated but unfinished calls.
func (f *FunctionCallProcessor) ClearPending() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := len(f.pending); n > 0 {
		log.Debug("clearing pending function calls", "count", n)
	}
	f.pending = make(map[string]*pendingCall)
}

// StatusInfo reports execution state for introspection.
func (f *FunctionCallProcessor) StatusInfo() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]any{
		"active_tool_tasks":      f.active,
		"pending_function_calls": len(f.pending),
		"non_blocking_tools":     f.nonBlocking,
		"available_tools":        f.tools.Names(),
	}
}

func (f *FunctionCallProcessor) toolResult(callID, name string, result any, final bool) {
	if f.OnToolResult != nil {
		f.OnToolResult(callID, name, result, final)
	}
}

func (f *FunctionCallProcessor) toolError(callID, message string) {
	if f.OnToolError != nil {
		f.OnToolError(callID, message)
	}
}
