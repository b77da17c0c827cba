package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type answer struct {
	Answer int    `json:"answer" jsonschema:"required,description=The final answer"`
	Reason string `json:"reason,omitempty"`
}

type weatherInput struct {
	City  string   `json:"city" jsonschema:"required"`
	Units string   `json:"units,omitempty" jsonschema:"enum=metric,enum=imperial"`
	Tags  []string `json:"tags,omitempty"`
}

type report struct {
	ID      string       `json:"id" jsonschema:"required"`
	Weather weatherInput `json:"weather"`
}

func decode(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(raw, &parsed))
	return parsed
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name       string
		generator  func() (json.RawMessage, error)
		checkProps []string
	}{
		{name: "answer", generator: Generate[answer], checkProps: []string{"answer", "reason"}},
		{name: "tool input", generator: Generate[weatherInput], checkProps: []string{"city", "units", "tags"}},
		{name: "nested", generator: Generate[report], checkProps: []string{"id", "weather"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := tt.generator()
			require.NoError(t, err)

			parsed := decode(t, raw)
			assert.Equal(t, "object", parsed["type"])
			assert.NotContains(t, parsed, "$schema")
			assert.NotContains(t, parsed, "$id")
			assert.NotContains(t, string(raw), "$ref")

			props, ok := parsed["properties"].(map[string]any)
			require.True(t, ok)
			for _, prop := range tt.checkProps {
				assert.Contains(t, props, prop)
			}
		})
	}
}

func TestGenerate_RequiredAndDescription(t *testing.T) {
	parsed := decode(t, MustGenerate[answer]())

	assert.Equal(t, []any{"answer"}, parsed["required"])

	props := parsed["properties"].(map[string]any)
	assert.Equal(t, "The final answer", props["answer"].(map[string]any)["description"])
	assert.Equal(t, "integer", props["answer"].(map[string]any)["type"])
}

func TestGenerateFromValue(t *testing.T) {
	raw, err := GenerateFromValue(&weatherInput{})
	require.NoError(t, err)
	assert.Equal(t, "object", decode(t, raw)["type"])
}

func TestMarshal_Nil(t *testing.T) {
	raw, err := Marshal(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(raw))
}

func TestMarshal_DoesNotMutate(t *testing.T) {
	s := Reflector.Reflect(&answer{})
	s.Version = "https://json-schema.org/draft/2020-12/schema"

	_, err := Marshal(s)
	require.NoError(t, err)
	assert.NotEmpty(t, s.Version)
}

func TestCompile(t *testing.T) {
	generated := MustGenerate[answer]()

	tests := []struct {
		name     string
		schema   json.RawMessage
		instance string
		wantErr  string
	}{
		{name: "generated valid", schema: generated, instance: `{"answer":42,"reason":"r"}`},
		{name: "generated extra field", schema: generated, instance: `{"answer":42,"bogus":true}`, wantErr: "additional properties"},
		{name: "generated missing field", schema: generated, instance: `{}`, wantErr: "required"},
		{
			name:     "definitions via ref",
			schema:   json.RawMessage(`{"$defs":{"n":{"type":"integer","minimum":1}},"type":"object","properties":{"n":{"$ref":"#/$defs/n"}}}`),
			instance: `{"n":0}`,
			wantErr:  "minimum",
		},
		{
			name:     "declared draft is ignored",
			schema:   json.RawMessage(`{"$schema":"http://json-schema.org/draft-07/schema#","type":"string"}`),
			instance: `"ok"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Compile(tt.schema)
			require.NoError(t, err)

			var instance any
			require.NoError(t, json.Unmarshal([]byte(tt.instance), &instance))
			err = v.Validate(instance)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCompile_Invalid(t *testing.T) {
	tests := map[string]json.RawMessage{
		"truncated":    json.RawMessage(`{"type":`),
		"dangling ref": json.RawMessage(`{"$ref":"#/$defs/missing"}`),
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(raw)
			assert.Error(t, err)
		})
	}
}
