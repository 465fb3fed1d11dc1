// Package tool wraps external capabilities behind a uniform call
// contract with per-call timeouts and contained failures. A tool failure
// never propagates as a fault: it is reported as a *ToolError the
// calling agent folds into its answer as a caveat.
package tool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ubyagro/biogrow/internal/generation"
)

// DefaultTimeout bounds a tool call when its definition sets none.
const DefaultTimeout = 20 * time.Second

// ToolError reports a failed or timed-out tool call.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Func executes a tool. args is the JSON arguments object produced by
// the model; the returned string is folded back into the agent's context.
type Func func(ctx context.Context, args string) (string, error)

// Definition describes one registered tool.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema for the arguments object.
	Timeout     time.Duration  // 0 uses DefaultTimeout.
	Fn          Func
}

// Registry holds the available tools. Registration happens at startup;
// Call is safe for concurrent use afterwards.
type Registry struct {
	defs   map[string]Definition
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		defs:   make(map[string]Definition),
		logger: logger,
	}
}

// Register adds a tool. Duplicate names are rejected.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool: definition needs a name")
	}
	if def.Fn == nil {
		return fmt.Errorf("tool: %s has no implementation", def.Name)
	}
	if _, ok := r.defs[def.Name]; ok {
		return fmt.Errorf("tool: %s already registered", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// Defs returns the generation-facing definitions for the named tools, in
// the given order. Unknown names are skipped.
func (r *Registry) Defs(names ...string) []generation.ToolDef {
	out := make([]generation.ToolDef, 0, len(names))
	for _, name := range names {
		def, ok := r.defs[name]
		if !ok {
			continue
		}
		out = append(out, generation.ToolDef{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	return out
}

// Call invokes a tool by name with a per-call timeout. All failure
// modes, including panics inside the tool, surface as *ToolError.
func (r *Registry) Call(ctx context.Context, name, args string) (result string, err error) {
	def, ok := r.defs[name]
	if !ok {
		return "", &ToolError{Tool: name, Err: fmt.Errorf("not registered")}
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", rec)
			result, err = "", &ToolError{Tool: name, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	start := time.Now()
	out, callErr := def.Fn(callCtx, args)
	elapsed := time.Since(start)

	if callErr != nil {
		r.logger.Warn("tool call failed", "tool", name, "duration", elapsed, "error", callErr)
		return "", &ToolError{Tool: name, Err: callErr}
	}
	r.logger.Debug("tool call completed", "tool", name, "duration", elapsed)
	return out, nil
}

// Invoker returns a generation.ToolInvoker restricted to the named
// subset. Agents expose only their own tool set to the model.
func (r *Registry) Invoker(allowed ...string) generation.ToolInvoker {
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		set[name] = true
	}
	return func(ctx context.Context, name, args string) (string, error) {
		if !set[name] {
			return "", &ToolError{Tool: name, Err: fmt.Errorf("not available to this agent")}
		}
		return r.Call(ctx, name, args)
	}
}
