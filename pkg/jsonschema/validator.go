package jsonschema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Violation is a single schema violation.
type Violation struct {
	// Path is the dotted location of the offending value, e.g. "stages[0].target".
	Path    string
	Message string
}

func (v Violation) Error() string {
	if v.Path == "" {
		return v.Message
	}
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Violations represents a collection of schema violations
type Violations []Violation

// Error implements the error interface for Violations
func (vs Violations) Error() string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.Error()
	}
	return strings.Join(parts, "; ")
}

// Validator checks decoded documents against a compiled schema.
type Validator struct {
	schema *jsonschema.Schema
}

// Compile compiles schemaStr, registered under name.
func Compile(name, schemaStr string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schemaStr)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// MustCompile is like Compile but panics on error. Use it for schemas
// embedded at build time.
func MustCompile(name, schemaStr string) *Validator {
	v, err := Compile(name, schemaStr)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks doc, which must come from DecodeJSON or DecodeYAML.
// It returns nil when doc is valid.
func (v *Validator) Validate(doc interface{}) Violations {
	err := v.schema.Validate(doc)
	if err == nil {
		return nil
	}

	validationErr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return Violations{{Message: err.Error()}}
	}

	var out Violations
	collectLeaves(validationErr, &out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// collectLeaves keeps only the innermost causes; the outer errors just
// repeat them.
func collectLeaves(err *jsonschema.ValidationError, out *Violations) {
	if len(err.Causes) == 0 {
		*out = append(*out, Violation{Path: pointerToPath(err.InstanceLocation), Message: err.Message})
		return
	}
	for _, cause := range err.Causes {
		collectLeaves(cause, out)
	}
}

// pointerToPath turns a JSON pointer ("/stages/0/target") into a dotted
// path ("stages[0].target").
func pointerToPath(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return ""
	}

	var sb strings.Builder
	for _, token := range strings.Split(pointer, "/") {
		token = strings.ReplaceAll(strings.ReplaceAll(token, "~1", "/"), "~0", "~")
		if isIndex(token) {
			sb.WriteString("[" + token + "]")
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(token)
	}
	return sb.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DecodeJSON decodes data into the generic form the validator expects.
func DecodeJSON(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return doc, nil
}

// DecodeYAML decodes a YAML document into the same generic form as DecodeJSON.
func DecodeYAML(data []byte) (interface{}, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	// Round-trip through JSON so numbers and maps have JSON types.
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("YAML is not representable as JSON: %w", err)
	}
	return DecodeJSON(b)
}
