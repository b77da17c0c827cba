// Package schema generates JSON Schemas from Go types for tool declarations
// and validates task output against them.
package schema

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Reflector is configured for LLM tool/response schemas.
// DoNotReference inlines all definitions to avoid $ref; Anonymous drops the
// package-derived $id.
var Reflector = &jsonschema.Reflector{
	DoNotReference: true,
	Anonymous:      true,
}

// emptyObject is the parameter schema used for tools that take no arguments.
var emptyObject = json.RawMessage(`{"type":"object","properties":{}}`)

// Generate creates a JSON Schema from a Go type.
// The type should be a struct with json and jsonschema tags.
//
// Example:
//
//	type Answer struct {
//	    Answer int    `json:"answer" jsonschema:"required,description=The final answer"`
//	    Reason string `json:"reason,omitempty"`
//	}
//
//	schema, err := schema.Generate[Answer]()
func Generate[T any]() (json.RawMessage, error) {
	var zero T
	return Marshal(Reflector.Reflect(&zero))
}

// GenerateFromValue creates a JSON Schema from a value.
func GenerateFromValue(v any) (json.RawMessage, error) {
	return Marshal(Reflector.Reflect(v))
}

// MustGenerate is like Generate but panics on error.
// Useful for package-level schema definitions.
func MustGenerate[T any]() json.RawMessage {
	schema, err := Generate[T]()
	if err != nil {
		panic(err)
	}
	return schema
}

// Marshal encodes s for a vendor tool declaration. Meta keywords ($schema,
// $id) are dropped because some vendors reject them. A nil schema becomes an
// empty object schema.
func Marshal(s *jsonschema.Schema) (json.RawMessage, error) {
	if s == nil {
		return emptyObject, nil
	}
	cp := *s
	cp.Version = ""
	cp.ID = ""
	return json.Marshal(&cp)
}
