package llm

import (
	"strings"

	"google.golang.org/genai"
)

// JSONSchema renders a genai schema as a plain JSON Schema document for
// backends that accept the standard dialect.
func JSONSchema(schema *genai.Schema) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	out := map[string]any{}
	if schema.Type != "" && schema.Type != genai.TypeUnspecified {
		out["type"] = strings.ToLower(string(schema.Type))
	}
	if schema.Description != "" {
		out["description"] = schema.Description
	}
	if len(schema.Enum) > 0 {
		values := make([]any, 0, len(schema.Enum))
		for _, value := range schema.Enum {
			values = append(values, value)
		}
		out["enum"] = values
	}
	if schema.Minimum != nil {
		out["minimum"] = *schema.Minimum
	}
	if schema.Maximum != nil {
		out["maximum"] = *schema.Maximum
	}
	if schema.Items != nil {
		out["items"] = JSONSchema(schema.Items)
	}
	if len(schema.Properties) > 0 {
		properties := make(map[string]any, len(schema.Properties))
		for name, property := range schema.Properties {
			properties[name] = JSONSchema(property)
		}
		out["properties"] = properties
	}
	if len(schema.Required) > 0 {
		required := make([]any, 0, len(schema.Required))
		for _, name := range schema.Required {
			required = append(required, name)
		}
		out["required"] = required
	}
	return out
}
