// Package tools defines the tool interface and registry agents call into.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/jkaninda/astro/internal/llm"
)

// Tool is the interface every agent tool implements.
type Tool interface {
	// Name is the identifier the model calls the tool by.
	Name() string
	Description() string
	// InputSchema is a JSON Schema object sent to the model for function calling.
	InputSchema() map[string]any
	// Validate checks params before Execute so malformed calls fail fast.
	Validate(params map[string]any) error
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result is the outcome of a tool execution.
type Result struct {
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Success  bool           `json:"success"`
}

// MaxOutputBytes caps tool output handed back to the model.
const MaxOutputBytes = 1 << 20

// TruncateOutput caps a string at maxBytes, appending a truncation notice if cut.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const suffix = "\n... [output truncated]"
	if maxBytes <= len(suffix) {
		return CutUTF8(s, maxBytes)
	}
	return CutUTF8(s, maxBytes-len(suffix)) + suffix
}

// CutUTF8 returns at most maxBytes of s without splitting a character.
func CutUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	if maxBytes <= 0 {
		return ""
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

// Registry holds tools keyed by name. Writes happen at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range ts {
		r.MustRegister(t)
	}
	return r
}

// Register adds a tool, failing on a duplicate name.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("duplicate tool registration: %s", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// MustRegister is Register for built-in tools, where a clash is a programming error.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Subset builds a registry restricted to names. Unknown names are an error.
func (r *Registry) Subset(names []string) (*Registry, error) {
	sub := NewRegistry()
	for _, name := range names {
		t := r.Get(name)
		if t == nil {
			return nil, fmt.Errorf("unknown tool %q (available: %v)", name, r.Names())
		}
		if err := sub.Register(t); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// Definitions converts the registry into model tool definitions, sorted by name.
func (r *Registry) Definitions() []llm.ToolDefinition {
	names := r.Names()
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.Get(name)
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}
