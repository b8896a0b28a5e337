package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/coverdesk/coverdesk/internal/store"
)

// ErrUnknownTool is returned for names outside the closed tool set.
var ErrUnknownTool = errors.New("unknown tool")

// MaxArgsSize bounds tool argument payloads (1MB).
const MaxArgsSize = 1 << 20

// Registry holds the closed tool set with compiled argument schemas.
// It is constructed once per process and never mutated afterwards, so
// lookups need no locking.
type Registry struct {
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry builds the full CRM tool set over the given stores and
// compiles every argument schema up front, so schema errors surface at
// startup rather than mid-stream.
func NewRegistry(stores store.StoreSet) (*Registry, error) {
	all := []Tool{
		&createDealTool{deals: stores.Deals},
		&moveDealStageTool{deals: stores.Deals},
		&createClientTool{clients: stores.Clients},
		&createAppointmentTool{appointments: stores.Appointments},
		&searchClientsTool{clients: stores.Clients},
		&getPipelineTool{deals: stores.Deals},
		&listAppointmentsTool{appointments: stores.Appointments},
	}

	r := &Registry{
		tools:   make(map[string]Tool, len(all)),
		schemas: make(map[string]*jsonschema.Schema, len(all)),
	}
	for _, tool := range all {
		compiler := jsonschema.NewCompiler()
		resource := tool.Name() + ".schema.json"
		if err := compiler.AddResource(resource, bytes.NewReader(tool.Schema())); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", tool.Name(), err)
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for tool %s: %w", tool.Name(), err)
		}
		r.tools[tool.Name()] = tool
		r.schemas[tool.Name()] = schema
	}
	return r, nil
}

// Lookup returns the tool for name, or ErrUnknownTool.
func (r *Registry) Lookup(name string) (Tool, error) {
	tool, ok := r.tools[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool, nil
}

// Validate checks args against the tool's compiled schema.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	schema, ok := r.schemas[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if len(args) > MaxArgsSize {
		return fmt.Errorf("arguments exceed %d bytes", MaxArgsSize)
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// All returns every registered tool, for handing to the provider.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// IsMutating reports whether name is a registered write tool.
func (r *Registry) IsMutating(name string) bool {
	tool, ok := r.tools[name]
	return ok && tool.Mutating()
}
