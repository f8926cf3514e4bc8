package model

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

// SchemaValidator compiles a task's declared PayloadSchema once and
// reuses it on every InitializeWorkItem/CompleteWorkItem call; schemas
// are static per TaskDefinition, so recompiling per call would
// dominate the hot path the same way an uncached CEL policy would.
type SchemaValidator struct {
	mu       sync.RWMutex
	compiler *jsonschema.Compiler
	schemas  map[string]*jsonschema.Schema
}

// NewSchemaValidator returns an empty validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{
		compiler: jsonschema.NewCompiler(),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// Validate checks payload against schema (a raw JSON Schema document).
// An empty schema accepts any payload, including no payload at all.
func (v *SchemaValidator) Validate(schema json.RawMessage, payload json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := v.compile(schema)
	if err != nil {
		return fmt.Errorf("model: compile payload schema: %w", err)
	}
	var data any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &data); err != nil {
			return fmt.Errorf("model: decode payload: %w", err)
		}
	}
	result := compiled.Validate(data)
	if !result.IsValid() {
		return fmt.Errorf("model: payload does not satisfy schema: %v", result.Errors)
	}
	return nil
}

func (v *SchemaValidator) compile(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	v.mu.RLock()
	if s, ok := v.schemas[key]; ok {
		v.mu.RUnlock()
		return s, nil
	}
	v.mu.RUnlock()

	compiled, err := v.compiler.Compile(schema)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.schemas[key] = compiled
	v.mu.Unlock()
	return compiled, nil
}
