package registry

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compiledSchema wraps a compiled JSON Schema for argument validation.
type compiledSchema struct {
	schema *jsonschema.Schema
}

// compileSchema compiles raw schema JSON. The resource name only shows up
// in validation messages.
func compileSchema(toolName string, raw json.RawMessage) (*compiledSchema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("input schema is not valid JSON: %w", err)
	}

	c := jsonschema.NewCompiler()
	url := toolName + ".schema.json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("input schema: %w", err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("input schema: %w", err)
	}
	return &compiledSchema{schema: sch}, nil
}

// validate returns the list of schema violations for args, empty when valid.
func (c *compiledSchema) validate(args map[string]any) []string {
	// The validator expects a plain decoded JSON value.
	instance := any(args)
	if args == nil {
		instance = map[string]any{}
	}
	err := c.schema.Validate(instance)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if ok := asValidationError(err, &ve); ok {
		var violations []string
		collectLeaves(ve, &violations)
		if len(violations) > 0 {
			return violations
		}
	}
	return []string{err.Error()}
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return false
	}
	*target = ve
	return true
}

// collectLeaves walks the cause tree and keeps the leaf messages, which
// name the violating instance location.
func collectLeaves(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		*out = append(*out, ve.Error())
		return
	}
	for _, cause := range ve.Causes {
		collectLeaves(cause, out)
	}
}
