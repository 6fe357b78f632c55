package research

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"google.golang.org/genai"
)

// Validate decodes a raw backend response and checks it against a contract.
// The returned value contains only declared fields.
func (r *Registry) Validate(contract string, raw []byte) (map[string]any, error) {
	schema, err := r.Schema(contract)
	if err != nil {
		return nil, err
	}
	var value any
	decoder := json.NewDecoder(bytes.NewReader(stripCodeFence(raw)))
	if err := decoder.Decode(&value); err != nil {
		return nil, &SchemaError{Stage: contract, Reason: "malformed JSON: " + err.Error()}
	}
	if decoder.More() {
		return nil, &SchemaError{Stage: contract, Reason: "malformed JSON: trailing data after value"}
	}
	return validateRoot(contract, schema, value)
}

// ValidateValue checks an already decoded value against a contract.
func (r *Registry) ValidateValue(contract string, value any) (map[string]any, error) {
	schema, err := r.Schema(contract)
	if err != nil {
		return nil, err
	}
	return validateRoot(contract, schema, normalize(value))
}

// ValidateComplete checks that a merged report satisfies the complete-report
// contract with exactly its key set.
func (r *Registry) ValidateComplete(report map[string]any) error {
	for key := range report {
		if _, ok := r.complete.Properties[key]; !ok {
			return &SchemaError{Stage: ContractComplete, Path: key, Reason: "undeclared field"}
		}
	}
	_, err := validateRoot(ContractComplete, r.complete, normalize(report))
	return err
}

func validateRoot(contract string, schema *genai.Schema, value any) (map[string]any, error) {
	out, fieldErr := check(schema, value, "")
	if fieldErr != nil {
		return nil, &SchemaError{Stage: contract, Path: fieldErr.path, Reason: fieldErr.reason}
	}
	object, ok := out.(map[string]any)
	if !ok {
		return nil, &SchemaError{Stage: contract, Reason: fmt.Sprintf("wrong type: want object, got %s", kindOf(value))}
	}
	return object, nil
}

type fieldError struct {
	path   string
	reason string
}

func check(schema *genai.Schema, value any, path string) (any, *fieldError) {
	switch schema.Type {
	case genai.TypeObject:
		object, ok := value.(map[string]any)
		if !ok {
			return nil, wrongType(path, "object", value)
		}
		return checkObject(schema, object, path)
	case genai.TypeArray:
		items, ok := value.([]any)
		if !ok {
			return nil, wrongType(path, "array", value)
		}
		out := make([]any, 0, len(items))
		for i, item := range items {
			checked, err := check(schema.Items, item, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			out = append(out, checked)
		}
		return out, nil
	case genai.TypeString:
		s, ok := value.(string)
		if !ok {
			return nil, wrongType(path, "string", value)
		}
		if len(schema.Enum) > 0 && !contains(schema.Enum, s) {
			return nil, &fieldError{path: path, reason: fmt.Sprintf("value not in enumeration [%s]", strings.Join(schema.Enum, ", "))}
		}
		return s, nil
	case genai.TypeNumber, genai.TypeInteger:
		n, ok := value.(float64)
		if !ok {
			return nil, wrongType(path, strings.ToLower(string(schema.Type)), value)
		}
		if schema.Type == genai.TypeInteger && n != math.Trunc(n) {
			return nil, wrongType(path, "integer", value)
		}
		if reason := checkRange(schema, n); reason != "" {
			return nil, &fieldError{path: path, reason: reason}
		}
		return n, nil
	case genai.TypeBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, wrongType(path, "boolean", value)
		}
		return b, nil
	}
	return value, nil
}

func checkObject(schema *genai.Schema, object map[string]any, path string) (any, *fieldError) {
	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}
	out := make(map[string]any, len(schema.Properties))
	for _, name := range propertyOrder(schema) {
		child := joinPath(path, name)
		value, present := object[name]
		if !present || value == nil {
			if required[name] {
				return nil, &fieldError{path: child, reason: "missing required field"}
			}
			continue
		}
		checked, err := check(schema.Properties[name], value, child)
		if err != nil {
			return nil, err
		}
		out[name] = checked
	}
	return out, nil
}

func propertyOrder(schema *genai.Schema) []string {
	if len(schema.PropertyOrdering) == len(schema.Properties) {
		return schema.PropertyOrdering
	}
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func checkRange(schema *genai.Schema, n float64) string {
	switch {
	case schema.Minimum != nil && schema.Maximum != nil:
		if n < *schema.Minimum || n > *schema.Maximum {
			return fmt.Sprintf("out of range [%g,%g]", *schema.Minimum, *schema.Maximum)
		}
	case schema.Minimum != nil:
		if n < *schema.Minimum {
			return fmt.Sprintf("out of range: minimum %g", *schema.Minimum)
		}
	case schema.Maximum != nil:
		if n > *schema.Maximum {
			return fmt.Sprintf("out of range: maximum %g", *schema.Maximum)
		}
	}
	return ""
}

func wrongType(path string, want string, value any) *fieldError {
	return &fieldError{path: path, reason: fmt.Sprintf("wrong type: want %s, got %s", want, kindOf(value))}
}

func kindOf(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func joinPath(parent string, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// stripCodeFence removes a surrounding Markdown code fence, which some
// backends add even when asked for bare JSON.
func stripCodeFence(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(trimmed, []byte("```")) {
		return trimmed
	}
	body := trimmed[3:]
	if newline := bytes.IndexByte(body, '\n'); newline >= 0 {
		body = body[newline+1:]
	} else {
		return trimmed
	}
	body = bytes.TrimSpace(body)
	body = bytes.TrimSuffix(body, []byte("```"))
	return bytes.TrimSpace(body)
}

// normalize round-trips typed Go values through JSON so the walker only sees
// the decoded JSON kinds.
func normalize(value any) any {
	if isJSONTree(value) {
		return value
	}
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return value
	}
	return out
}

func isJSONTree(value any) bool {
	switch v := value.(type) {
	case nil, string, float64, bool:
		return true
	case map[string]any:
		for _, child := range v {
			if !isJSONTree(child) {
				return false
			}
		}
		return true
	case []any:
		for _, child := range v {
			if !isJSONTree(child) {
				return false
			}
		}
		return true
	}
	return false
}
