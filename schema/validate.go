package schema

import (
	"encoding/json"
	"fmt"

	gjsonschema "github.com/google/jsonschema-go/jsonschema"
)

// Validator checks decoded JSON values against a resolved schema.
type Validator struct {
	resolved *gjsonschema.Resolved
}

// Compile parses raw and resolves its internal references ($ref, $defs).
// The document is always validated as draft 2020-12; a declared $schema is
// ignored because models answer the same way whichever draft a crew author
// names.
func Compile(raw json.RawMessage) (*Validator, error) {
	var s gjsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	s.Schema = ""

	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving schema: %w", err)
	}
	return &Validator{resolved: resolved}, nil
}

// Validate reports the first way instance violates the schema. instance must
// be a value produced by json.Unmarshal into an any.
func (v *Validator) Validate(instance any) error {
	return v.resolved.Validate(instance)
}
