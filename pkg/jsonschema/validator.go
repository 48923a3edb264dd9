// Package jsonschema compiles JSON Schemas once and validates decoded
// documents or raw JSON against them.
package jsonschema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationErrors represents a collection of validation errors
type ValidationErrors []error

// Error implements the error interface for ValidationErrors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, err := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Schema is a compiled JSON Schema, safe for concurrent use.
type Schema struct {
	schema *jsonschema.Schema
}

// Compile compiles schema. name identifies the resource in error messages.
func Compile(name string, schema []byte) (*Schema, error) {
	if name == "" {
		name = "schema.json"
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Schema{schema: compiled}, nil
}

// CompileValue compiles a schema held as a decoded value, such as an
// object embedded in a YAML document.
func CompileValue(name string, schema any) (*Schema, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return Compile(name, data)
}

// Validate validates a decoded JSON document (maps, slices, float64,
// string, bool, nil). It returns nil when doc is valid.
func (s *Schema) Validate(doc any) ValidationErrors {
	err := s.schema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		return extractValidationErrors(verr)
	}
	return ValidationErrors{err}
}

// ValidateJSON parses data and validates it.
func (s *Schema) ValidateJSON(data []byte) ValidationErrors {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return ValidationErrors{fmt.Errorf("invalid JSON: %w", err)}
	}
	return s.Validate(doc)
}

// Validate validates a JSON string against a JSON Schema.
// It reports whether the document is valid; an error means the schema or
// the document could not be parsed.
func Validate(jsonStr, schemaStr string) (bool, error) {
	schema, err := Compile("", []byte(schemaStr))
	if err != nil {
		return false, err
	}

	var doc any
	if err := json.Unmarshal([]byte(jsonStr), &doc); err != nil {
		return false, fmt.Errorf("invalid JSON: %w", err)
	}
	return schema.Validate(doc) == nil, nil
}

// extractValidationErrors flattens a validation error tree into its leaf
// causes, which carry the specific messages.
func extractValidationErrors(err *jsonschema.ValidationError) ValidationErrors {
	if len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return ValidationErrors{fmt.Errorf("at %s: %s", loc, err.Message)}
	}

	var errs ValidationErrors
	for _, cause := range err.Causes {
		errs = append(errs, extractValidationErrors(cause)...)
	}
	return errs
}
