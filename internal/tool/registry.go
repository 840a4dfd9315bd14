// Package tool tracks the tools a connected session offers and routes calls to it.
package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/opsbridge/opsbridge/pkg/protocol"
)

// Session is the external tool-providing session the registry delegates to.
type Session interface {
	ListTools(ctx context.Context) ([]protocol.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (protocol.ToolResult, error)
}

// Registry tracks the tools last discovered from a session and dispatches invocations to it.
// The descriptor list is replaced wholesale on every successful Discover.
type Registry struct {
	session Session

	mu         sync.RWMutex
	discovered bool
	tools      []protocol.ToolDescriptor
	index      map[string]int
}

// NewRegistry creates a registry backed by session.
func NewRegistry(session Session) *Registry {
	return &Registry{
		session: session,
		index:   make(map[string]int),
	}
}

// Discover queries the session for its current tool list. It never serves a cached list.
// On failure the previously discovered tools are kept.
func (r *Registry) Discover(ctx context.Context) ([]protocol.ToolDescriptor, error) {
	descs, err := r.session.ListTools(ctx)
	if err != nil {
		return nil, &DiscoveryError{Err: err}
	}

	index := make(map[string]int, len(descs))
	for i, d := range descs {
		if d.Name == "" {
			return nil, &DiscoveryError{Err: fmt.Errorf("tool at position %d has no name", i)}
		}
		if _, dup := index[d.Name]; dup {
			return nil, &DiscoveryError{Err: fmt.Errorf("duplicate tool name %q", d.Name)}
		}
		index[d.Name] = i
	}

	r.mu.Lock()
	r.tools = descs
	r.index = index
	r.discovered = true
	r.mu.Unlock()

	out := make([]protocol.ToolDescriptor, len(descs))
	copy(out, descs)
	return out, nil
}

// Invoke runs the named tool through the session and returns its joined text output.
//
// Once a discovery has succeeded, names outside the last-discovered set fail with
// UnknownToolError without touching the session. Before any discovery the call is
// forwarded and the session's own lookup failure surfaces as an InvocationError.
func (r *Registry) Invoke(ctx context.Context, name string, arguments map[string]any) (string, error) {
	r.mu.RLock()
	discovered := r.discovered
	_, known := r.index[name]
	r.mu.RUnlock()

	if discovered && !known {
		return "", &UnknownToolError{Name: name}
	}

	if arguments == nil {
		arguments = map[string]any{}
	}
	result, err := r.session.CallTool(ctx, name, arguments)
	if err != nil {
		return "", &InvocationError{Tool: name, Err: err}
	}
	return result.Text(), nil
}

// Has returns true if name was among the last-discovered tools.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[name]
	return ok
}

// Names returns the last-discovered tool names in discovery order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.tools))
	for i, t := range r.tools {
		names[i] = t.Name
	}
	return names
}

// Len returns the number of last-discovered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions converts descriptors into the function-calling schema sent to the model.
func Definitions(descs []protocol.ToolDescriptor) []protocol.ToolDefinition {
	defs := make([]protocol.ToolDefinition, 0, len(descs))
	for _, d := range descs {
		defs = append(defs, d.Definition())
	}
	return defs
}
