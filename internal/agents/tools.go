package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var ErrToolNotAllowed = errors.New("tool not allowed for agent")

// ToolFunc executes a tool call. args is the raw JSON arguments object.
type ToolFunc func(ctx context.Context, user UserContext, args json.RawMessage) (interface{}, error)

// Tool is a function exposed to the model. Parameters is a JSON schema in
// strict mode.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Func        ToolFunc
}

// Tools is the set of tools agents may reference by name.
type Tools struct {
	byName map[string]Tool
}

// NewTools registers tools after checking their schemas are strict.
func NewTools(tools ...Tool) (*Tools, error) {
	t := &Tools{byName: make(map[string]Tool, len(tools))}
	for _, tool := range tools {
		if tool.Name == "" || tool.Func == nil {
			return nil, fmt.Errorf("tool %q is incomplete", tool.Name)
		}
		if _, dup := t.byName[tool.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", tool.Name)
		}
		if err := ValidateStrictSchema(tool.Parameters); err != nil {
			return nil, fmt.Errorf("tool %q: %w", tool.Name, err)
		}
		t.byName[tool.Name] = tool
	}
	return t, nil
}

func (t *Tools) Get(name string) (Tool, bool) {
	tool, ok := t.byName[name]
	return tool, ok
}

func (t *Tools) Names() []string {
	names := make([]string, 0, len(t.byName))
	for n := range t.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Call runs a tool on behalf of agent, enforcing its allow-list.
func (t *Tools) Call(ctx context.Context, agent *Agent, name string, user UserContext, args json.RawMessage) (interface{}, error) {
	allowed := false
	for _, n := range agent.Tools {
		if n == name {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s cannot call %s", ErrToolNotAllowed, agent.Name, name)
	}
	tool, ok := t.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotAllowed, name)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return tool.Func(ctx, user, args)
}

// ValidateStrictSchema checks the strict function-calling rules: every object
// lists all of its properties as required and forbids additional properties.
func ValidateStrictSchema(schema map[string]interface{}) error {
	return validateSchema("$", schema)
}

func validateSchema(path string, schema map[string]interface{}) error {
	if schema == nil {
		return fmt.Errorf("%s: missing schema", path)
	}
	if schema["type"] == "object" || schema["properties"] != nil {
		props, _ := schema["properties"].(map[string]interface{})
		if ap, ok := schema["additionalProperties"].(bool); !ok || ap {
			return fmt.Errorf("%s: additionalProperties must be false", path)
		}
		required := map[string]bool{}
		switch req := schema["required"].(type) {
		case []string:
			for _, r := range req {
				required[r] = true
			}
		case []interface{}:
			for _, r := range req {
				if s, ok := r.(string); ok {
					required[s] = true
				}
			}
		}
		for name, p := range props {
			if !required[name] {
				return fmt.Errorf("%s.%s: property must be required", path, name)
			}
			sub, ok := p.(map[string]interface{})
			if !ok {
				return fmt.Errorf("%s.%s: property schema must be an object", path, name)
			}
			if err := validateSchema(path+"."+name, sub); err != nil {
				return err
			}
		}
		for r := range required {
			if _, ok := props[r]; !ok {
				return fmt.Errorf("%s: required %q is not a property", path, r)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		return validateSchema(path+"[]", items)
	}
	return nil
}

// ObjectSchema builds a strict object schema where every property is required.
func ObjectSchema(props map[string]interface{}) map[string]interface{} {
	required := make([]string, 0, len(props))
	for name := range props {
		required = append(required, name)
	}
	sort.Strings(required)
	return map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}
