// Package registry holds tool name -> handler bindings and input-schema
// metadata.
//
// DESIGN: Registration happens once at process start, before concurrent
// traffic begins; a duplicate name is a programming error and fails hard
// rather than being recovered at runtime. The read path (Resolve, List) is
// what runs under concurrency, guarded by an RWMutex.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/toolbridge/tool-gateway/internal/credentials"
)

// Handler executes one tool call. Arguments are already validated against
// the tool's input schema for type and requiredness; deeper semantic
// validation is the handler's job. Credentials are passed explicitly, never
// read from ambient state.
type Handler interface {
	Handle(ctx context.Context, args map[string]any, creds *credentials.Credentials) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, args map[string]any, creds *credentials.Credentials) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, args map[string]any, creds *credentials.Credentials) (any, error) {
	return f(ctx, args, creds)
}

// ToolSpec describes one registered tool. Immutable after registration.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`

	schema *compiledSchema
}

// ValidateArgs checks args against the tool's input schema. A nil schema
// accepts anything. Returns the list of violations, empty when valid.
func (s *ToolSpec) ValidateArgs(args map[string]any) []string {
	if s.schema == nil {
		return nil
	}
	return s.schema.validate(args)
}

// Registry maps tool names to handlers and specs.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]binding
}

type binding struct {
	spec    *ToolSpec
	handler Handler
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]binding)}
}

// Register adds a binding. The tool's input schema is compiled here so that
// a malformed schema also fails at startup, not per request.
func (r *Registry) Register(spec ToolSpec, handler Handler) error {
	if spec.Name == "" {
		return fmt.Errorf("register: tool name is empty")
	}
	if handler == nil {
		return fmt.Errorf("register %q: handler is nil", spec.Name)
	}
	if len(spec.InputSchema) > 0 {
		compiled, err := compileSchema(spec.Name, spec.InputSchema)
		if err != nil {
			return fmt.Errorf("register %q: %w", spec.Name, err)
		}
		spec.schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("register %q: duplicate tool name", spec.Name)
	}
	r.tools[spec.Name] = binding{spec: &spec, handler: handler}
	return nil
}

// Resolve returns the spec and handler for name.
func (r *Registry) Resolve(name string) (*ToolSpec, Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.tools[name]
	if !ok {
		return nil, nil, false
	}
	return b.spec, b.handler, true
}

// List returns all registered specs sorted by name, for capability
// discovery.
func (r *Registry) List() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, b := range r.tools {
		specs = append(specs, *b.spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
