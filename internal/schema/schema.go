// Package schema derives function-calling contracts from operation metadata.
package schema

import "cmdagent/internal/domain"

// NoDescription is used for parameters the documentation does not mention.
const NoDescription = "No description provided."

// Property describes a single parameter in a JSON schema.
type Property struct {
	Type        string
	Description string
}

// Synthesize builds one descriptor per invocable operation, in the order the
// operations are given. It only reads metadata and never fails.
func Synthesize(ops []domain.Operation) []domain.ToolDefinition {
	defs := make([]domain.ToolDefinition, 0, len(ops))
	for _, op := range ops {
		if !op.IsInvocable() {
			continue
		}
		defs = append(defs, Describe(op))
	}
	return defs
}

// Describe builds the descriptor for a single operation.
func Describe(op domain.Operation) domain.ToolDefinition {
	doc := ParseDoc(op.Doc)

	props := make(map[string]Property, len(op.Params))
	var required []string
	for _, p := range op.Params {
		desc, ok := doc.Description(p.Name)
		if !ok {
			desc = NoDescription
		}
		props[p.Name] = Property{Type: "string", Description: desc}
		if p.Required() {
			required = append(required, p.Name)
		}
	}

	def := domain.ToolDefinition{
		Name:        op.Name,
		Description: doc.Summary,
		Parameters:  Parameters(props, nil),
	}
	AppendRequired(&def, required...)
	return def
}

// AppendRequired adds names to the descriptor's required set. Names already
// present are kept; nothing is ever dropped.
func AppendRequired(def *domain.ToolDefinition, names ...string) {
	if len(names) == 0 {
		return
	}
	def.Required = append(def.Required, names...)
}

// Parameters builds a JSON Schema "parameters" object.
func Parameters(properties map[string]Property, required []string) map[string]any {
	props := make(map[string]any, len(properties))
	for name, p := range properties {
		props[name] = map[string]any{"type": p.Type, "description": p.Description}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ArgumentSchema returns a JSON schema that a call's arguments must satisfy:
// the descriptor's parameters with its required set folded in.
func ArgumentSchema(def domain.ToolDefinition) map[string]any {
	schema := make(map[string]any, len(def.Parameters)+1)
	for k, v := range def.Parameters {
		schema[k] = v
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	if len(def.Required) > 0 {
		required := make([]any, 0, len(def.Required))
		seen := make(map[string]bool, len(def.Required))
		for _, name := range def.Required {
			if seen[name] {
				continue
			}
			seen[name] = true
			required = append(required, name)
		}
		schema["required"] = required
	}
	return schema
}
