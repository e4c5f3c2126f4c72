package tools

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Tool is the interface every bash/read/write/edit/attach implementation
// satisfies, and the only thing the agent loop and the provider layer know
// about a tool.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Def is a tool's definition as handed to the LLM provider.
type Def struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Registry holds every tool available to a run and dispatches calls by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Defs returns every registered tool's definition, for the provider's tool_defs.
func (r *Registry) Defs() []Def {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Def, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Def{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
	}
	return defs
}

// Execute dispatches a single tool call and stamps the result with how long
// it took, for the telemetry layer's tool spans.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	t, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}
	start := time.Now()
	res := t.Execute(ctx, args)
	if res != nil {
		res.DurationMS = time.Since(start).Milliseconds()
	}
	return res
}

// Sequential reports whether calls to this tool must never run concurrently
// with other calls in the same turn. bash shares one working directory and
// attach shares one chat queue ordering guarantee — running either in
// parallel with a sibling tool call would race on that shared state, so the
// agent loop serializes them instead of dispatching them through errgroup.
func Sequential(name string) bool {
	return name == "bash" || name == "attach"
}
