// Package tools defines the tool contract the assistant exposes to the
// model and a registry to hold the configured set.
package tools

import (
	"context"
	"fmt"
	"sync"
)

// Tool is a capability the model can invoke during a conversation.
// ParameterSchema returns a JSON Schema document describing the input
// object; Execute receives the decoded input and returns text for the
// model.
type Tool interface {
	Name() string
	Description() string
	ParameterSchema() string
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// Registry holds registered tools by name, preserving registration order
// for prompt and schema assembly.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Tool
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]Tool{}}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(t Tool) {
	if r == nil || t == nil {
		return
	}
	name := t.Name()
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; !exists {
		r.order = append(r.order, name)
	}
	r.byName[name] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// List returns the registered tools in registration order.
func (r *Registry) List() []Tool {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Execute dispatches an invocation to the named tool.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return t.Execute(ctx, params)
}
