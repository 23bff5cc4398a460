// Package tools defines the tool interface and registry exposed to the agent.
// Tools validate their own arguments and return a single textual result.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Argument errors. Tools wrap these so callers can tell a malformed tool
// call from a failed execution.
var (
	ErrMissingArgument = errors.New("missing required argument")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Tool is the interface all tools must implement.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "shell").
	Name() string

	// Description returns a human-readable description.
	Description() string

	// InputSchema returns a JSON Schema object describing the tool's parameters.
	// This is sent to the LLM as the tool's input_schema for function calling.
	InputSchema() map[string]any

	// Validate checks that params are well-formed before anything runs.
	Validate(params map[string]any) error

	// Execute runs the tool with the given parameters.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result is the outcome of a tool execution.
type Result struct {
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Success  bool           `json:"success"`
}

// Definition describes a tool for an LLM function-calling request.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// MaxOutputBytes is the default cap for tool output to prevent OOM.
const MaxOutputBytes = 1 << 20 // 1 MB

// contextKey is an unexported type for context keys defined in this package.
type contextKey int

const (
	userIDKey contextKey = iota
	workspaceKey
)

// ContextWithUserID returns a new context carrying the caller's ID.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext extracts the user ID from context, or "" if not set.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithWorkspace returns a new context carrying the agent workspace path.
func ContextWithWorkspace(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, workspaceKey, dir)
}

// WorkspaceFromContext returns the workspace path, or "" if not set.
func WorkspaceFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(workspaceKey).(string); ok {
		return v
	}
	return ""
}

// TruncateOutput caps a string at maxBytes, appending a truncation notice if cut.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const suffix = "\n... [output truncated]"
	if maxBytes <= len(suffix) {
		return s[:maxBytes]
	}
	return s[:maxBytes-len(suffix)] + suffix
}

// StringArg extracts a required string parameter. An empty string is
// returned as-is; presence is what is required.
func StringArg(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingArgument, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidArgument, key, v)
	}
	return s, nil
}

// OptionalPositiveInt extracts an optional positive integer parameter.
// JSON numbers arrive as float64 and must be whole. Returns 0, false when absent.
func OptionalPositiveInt(params map[string]any, key string) (uint64, bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return 0, false, nil
	}

	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	case uint64:
		n = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("%w: %s must be an integer: %v", ErrInvalidArgument, key, err)
		}
		n = f
	default:
		return 0, false, fmt.Errorf("%w: %s must be an integer, got %T", ErrInvalidArgument, key, v)
	}

	if n != math.Trunc(n) || n <= 0 || n > math.MaxInt32 {
		return 0, false, fmt.Errorf("%w: %s must be a positive integer, got %v", ErrInvalidArgument, key, v)
	}
	return uint64(n), true, nil
}

// Registry holds available tools keyed by name.
// Thread-safe for concurrent reads; writes should only happen at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics on duplicate names (startup config error, not runtime).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the function-calling definitions of all tools, sorted by name.
func (r *Registry) Definitions() []Definition {
	names := r.List()
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		t := r.Get(name)
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}
