package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/surge/pkg/jsonschema"
)

//go:embed scenario.schema.json
var schemaJSON []byte

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// SchemaJSON returns the JSON Schema scenario files are checked against.
func SchemaJSON() []byte {
	return bytes.Clone(schemaJSON)
}

func scenarioSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.Compile("scenario.schema.json", schemaJSON)
	})
	return compiledSchema, schemaErr
}

// Load reads, parses and validates a scenario file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// Structural problems are reported against the JSON Schema first; a
// document that passes is then checked semantically. Both kinds of problem
// are returned as *ValidationErrors.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data, path)
}

// Parse parses and validates scenario data. The format is determined by the
// extension of path, defaulting to YAML.
func Parse(data []byte, path string) (*Scenario, error) {
	isJSON := strings.ToLower(filepath.Ext(path)) == ".json"

	doc, err := decodeDocument(data, isJSON)
	if err != nil {
		return nil, err
	}
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}

	var sc Scenario
	if isJSON {
		err = json.Unmarshal(data, &sc)
	} else {
		err = yaml.Unmarshal(data, &sc)
	}
	if err != nil {
		return nil, &ValidationErrors{Errors: []*ValidationError{{Message: fmt.Sprintf("failed to decode scenario: %v", err)}}}
	}

	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// ValidateDocument checks a decoded document against the scenario schema.
func ValidateDocument(doc any) error {
	schema, err := scenarioSchema()
	if err != nil {
		return fmt.Errorf("scenario schema: %w", err)
	}

	problems := schema.Validate(doc)
	if len(problems) == 0 {
		return nil
	}
	errs := &ValidationErrors{}
	for _, p := range problems {
		errs.Add("schema", p.Error())
	}
	return errs
}

// decodeDocument decodes data into the generic JSON shape the schema
// validator expects. YAML is normalized by a JSON round trip.
func decodeDocument(data []byte, isJSON bool) (any, error) {
	syntaxErr := func(format string, err error) error {
		return &ValidationErrors{Errors: []*ValidationError{{Message: fmt.Sprintf("failed to parse %s scenario: %v", format, err)}}}
	}

	var doc any
	if isJSON {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, syntaxErr("JSON", err)
		}
		return doc, nil
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, syntaxErr("YAML", err)
	}
	if raw == nil {
		return nil, syntaxErr("YAML", fmt.Errorf("document is empty"))
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, syntaxErr("YAML", err)
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, syntaxErr("YAML", err)
	}
	return doc, nil
}
