// Package registry maps tool names to their handlers and argument schemas.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/codex-k8s/desktop-mcp-server/internal/classifier"
	"github.com/codex-k8s/desktop-mcp-server/internal/execution"
)

// ErrDuplicateTool is returned when a tool name is registered twice.
var ErrDuplicateTool = errors.New("tool already registered")

// Request is one validated invocation handed to a handler.
type Request struct {
	// ID identifies the invocation.
	ID string
	// Tool is the invoked tool name.
	Tool string
	// Arguments are the validated tool arguments.
	Arguments map[string]any
	// CorrelationID links related invocations.
	CorrelationID string
}

// Handler executes a tool.
type Handler interface {
	// Execute runs the tool and returns its result payload.
	Execute(ctx context.Context, req Request, ec *execution.Context) (any, error)
}

// PermissionValidator is implemented by handlers that gate execution.
// A non-nil error denies the invocation.
type PermissionValidator interface {
	ValidatePermissions(ctx context.Context, req Request) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request, ec *execution.Context) (any, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, req Request, ec *execution.Context) (any, error) {
	return f(ctx, req, ec)
}

// Annotations are hints surfaced to MCP clients.
type Annotations struct {
	ReadOnly    bool
	Destructive *bool
	Idempotent  bool
	OpenWorld   *bool
	Title       string
}

// Tool describes a registered tool.
type Tool struct {
	Name        string
	Title       string
	Description string
	Group       classifier.Group
	InputSchema map[string]any
	Annotations *Annotations
	Handler     Handler

	schema *jsonschema.Schema
}

// Registry is a concurrency-safe tool table.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Tools without an input schema accept any object.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return errors.New("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", tool.Name)
	}
	if tool.InputSchema == nil {
		tool.InputSchema = map[string]any{"type": "object"}
	}
	compiled, err := compileSchema(tool.Name, tool.InputSchema)
	if err != nil {
		return fmt.Errorf("tool %s: %w", tool.Name, err)
	}
	tool.schema = compiled

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, tool.Name)
	}
	r.tools[tool.Name] = &tool
	return nil
}

// Handler returns the handler registered for name.
func (r *Registry) Handler(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return tool.Handler, true
}

// Lookup returns a copy of the tool registered for name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return *tool, true
}

// SetGroup replaces the compatibility group of a registered tool.
func (r *Registry) SetGroup(name string, group classifier.Group) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	tool, ok := r.tools[name]
	if !ok {
		return false
	}
	tool.Group = group
	return true
}

// Tools returns all registered tools sorted by name.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, name := range slices.Sorted(maps.Keys(r.tools)) {
		out = append(out, *r.tools[name])
	}
	return out
}

// ValidateArguments checks args against the tool's input schema.
func (r *Registry) ValidateArguments(name string, args map[string]any) error {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown tool %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	if err := tool.schema.Validate(decoded); err != nil {
		return fmt.Errorf("arguments invalid: %w", err)
	}
	return nil
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode input schema: %w", err)
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(data))
	if err != nil {
		return nil, fmt.Errorf("compile input schema: %w", err)
	}
	return compiled, nil
}
