// Package validation provides JSON Schema validation for configuration
// items uploaded into datasets.
package validation

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
)

// Validator checks documents against one compiled JSON schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles a schema from its JSON source. Compilation problems
// are configuration errors.
func NewValidator(name string, schemaJSON []byte) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(schemaJSON)); err != nil {
		return nil, errors.WrapInvalid(err, "validation", "NewValidator", "add schema resource")
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, errors.WrapInvalid(err, "validation", "NewValidator", "compile schema")
	}
	return &Validator{schema: schema}, nil
}

// NewValidatorFromFile compiles a schema referenced by path.
func NewValidatorFromFile(path string) (*Validator, error) {
	schema, err := jsonschema.Compile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "validation", "NewValidatorFromFile", "compile schema")
	}
	return &Validator{schema: schema}, nil
}

// Validate reports whether the document conforms to the schema. A document
// that parses but violates the schema yields (false, nil); only unreadable
// input is an error.
func (v *Validator) Validate(doc []byte) (bool, error) {
	var parsed any
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return false, errors.WrapInvalid(errors.ErrParsingFailed, "validation", "Validate", "parse document")
	}
	if err := v.schema.Validate(parsed); err != nil {
		return false, nil
	}
	return true, nil
}
