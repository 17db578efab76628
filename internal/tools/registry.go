// Package tools is the static catalogue of dispatchable tool contracts.
// Discovery (the /schema endpoint, the MCP tool listing) and pre-dispatch
// validation both read this one source, so they cannot drift apart.
package tools

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Param is one declared parameter of a tool. Type is a JSON Schema primitive:
// string, integer, boolean, or array.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// Definition is one tool's immutable contract. ReadOnly marks tools that are
// safe to retry on transient upstream failures.
type Definition struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	ReadOnly    bool    `json:"read_only"`
	Params      []Param `json:"parameters"`
}

// InputSchema renders the MCP-style JSON Schema object for the tool.
func (d Definition) InputSchema() json.RawMessage {
	properties := make(map[string]any, len(d.Params))
	var required []string
	for _, p := range d.Params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Type == "array" {
			prop["items"] = map[string]any{"type": "string"}
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	data, _ := json.Marshal(schema)
	return data
}

// Registry holds the catalogue, loaded once at startup and read-only after.
type Registry struct {
	byName map[string]Definition
	order  []string
}

// NewRegistry builds a registry from definitions; duplicate names are a
// programming error and fail loudly.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{byName: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("tool definition with empty name")
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate tool definition: %s", d.Name)
		}
		r.byName[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	sort.Strings(r.order)
	return r, nil
}

// List returns every definition in stable name order.
func (r *Registry) List() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (Definition, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Validate checks params against the definition: required fields present,
// basic type compatibility. The first violation is reported with the
// offending field's name.
func Validate(def Definition, params map[string]any) error {
	for _, p := range def.Params {
		v, present := params[p.Name]
		if !present || v == nil {
			if p.Required {
				return fmt.Errorf("missing field: %s", p.Name)
			}
			continue
		}
		if !typeCompatible(p.Type, v) {
			return fmt.Errorf("invalid type for field: %s (want %s)", p.Name, p.Type)
		}
	}
	return nil
}

func typeCompatible(want string, v any) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "integer", "number":
		switch v.(type) {
		case float64, int, int64, json.Number:
			return true
		}
		return false
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}
