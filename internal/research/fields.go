package research

import "google.golang.org/genai"

type field struct {
	name     string
	schema   *genai.Schema
	required bool
}

func req(name string, schema *genai.Schema) field {
	return field{name: name, schema: schema, required: true}
}

func opt(name string, schema *genai.Schema) field {
	return field{name: name, schema: schema}
}

func object(fields ...field) *genai.Schema {
	schema := &genai.Schema{
		Type:             genai.TypeObject,
		Properties:       make(map[string]*genai.Schema, len(fields)),
		PropertyOrdering: make([]string, 0, len(fields)),
	}
	for _, f := range fields {
		schema.Properties[f.name] = f.schema
		schema.PropertyOrdering = append(schema.PropertyOrdering, f.name)
		if f.required {
			schema.Required = append(schema.Required, f.name)
		}
	}
	return schema
}

func describe(schema *genai.Schema, description string) *genai.Schema {
	schema.Description = description
	return schema
}

func str(description string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: description}
}

func boolean(description string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeBoolean, Description: description}
}

func numRange(description string, lo float64, hi float64) *genai.Schema {
	return &genai.Schema{Type: genai.TypeNumber, Description: description, Minimum: &lo, Maximum: &hi}
}

// count is a non-negative quantity with no upper bound.
func count(description string) *genai.Schema {
	lo := 0.0
	return &genai.Schema{Type: genai.TypeNumber, Description: description, Minimum: &lo}
}

func percent(description string) *genai.Schema {
	return numRange(description, 0, 100)
}

func enum(description string, values ...string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Format: "enum", Description: description, Enum: values}
}

func list(description string, items *genai.Schema) *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Description: description, Items: items}
}

func strList(description string) *genai.Schema {
	return list(description, &genai.Schema{Type: genai.TypeString})
}
