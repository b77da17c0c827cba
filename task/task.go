// Package task defines what an agent is asked to do and how its final
// answer is checked.
package task

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/i2y/merco/schema"
)

// Task is the capability boundary the agent loop consumes.
type Task interface {
	// Description is the instruction given to the model.
	Description() string

	// ExpectedOutput is an optional hint describing the desired result.
	ExpectedOutput() string

	// FormatPrompt returns guidance about the output format, or "".
	FormatPrompt() string

	// ValidateOutput reports whether the final text is acceptable.
	ValidateOutput(output string) error
}

// Spec is the standard Task implementation. With no Schema any non-empty
// output passes; with a Schema the output must be a JSON value that
// conforms to it.
type Spec struct {
	Text     string
	Expected string
	Schema   json.RawMessage
}

// Option configures a Spec.
type Option func(*Spec)

// WithExpectedOutput sets the expected-output hint.
func WithExpectedOutput(expected string) Option {
	return func(s *Spec) {
		s.Expected = expected
	}
}

// WithSchema sets the JSON schema the output must satisfy.
func WithSchema(raw json.RawMessage) Option {
	return func(s *Spec) {
		s.Schema = raw
	}
}

// New creates a Spec.
func New(description string, opts ...Option) *Spec {
	s := &Spec{Text: description}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSpecFor creates a Spec whose output must decode into T.
//
// Example:
//
//	type Answer struct {
//	    Answer int `json:"answer" jsonschema:"required"`
//	}
//
//	spec, err := task.NewSpecFor[Answer]("What is 6 times 7?")
func NewSpecFor[T any](description string, opts ...Option) (*Spec, error) {
	raw, err := schema.Generate[T]()
	if err != nil {
		return nil, fmt.Errorf("generating schema: %w", err)
	}
	return New(description, append(opts, WithSchema(raw))...), nil
}

// Description implements Task.
func (s *Spec) Description() string {
	return s.Text
}

// ExpectedOutput implements Task.
func (s *Spec) ExpectedOutput() string {
	return s.Expected
}

// FormatPrompt implements Task.
func (s *Spec) FormatPrompt() string {
	if len(s.Schema) == 0 {
		return ""
	}
	return "Respond with a single JSON object that conforms to this JSON schema:\n" +
		string(s.Schema) +
		"\nDo not include any text outside the JSON object."
}

// ValidateOutput implements Task.
func (s *Spec) ValidateOutput(output string) error {
	if strings.TrimSpace(output) == "" {
		return &ValidationError{Output: output, Reason: "output is empty"}
	}
	if len(s.Schema) == 0 {
		return nil
	}

	v, err := schema.Compile(s.Schema)
	if err != nil {
		return &ValidationError{Output: output, Reason: "invalid schema: " + err.Error()}
	}

	value, err := decodeJSON(StripFences(output))
	if err != nil {
		return &ValidationError{Output: output, Reason: "output is not valid JSON: " + err.Error()}
	}

	if err := v.Validate(value); err != nil {
		return &ValidationError{Output: output, Reason: err.Error()}
	}
	return nil
}

// StripFences removes a surrounding Markdown code fence, with or without a
// language tag.
func StripFences(output string) string {
	trimmed := strings.TrimSpace(output)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		return trimmed
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}

// Reframe returns t with its description replaced.
func Reframe(t Task, description string) Task {
	return &reframed{Task: t, description: description}
}

type reframed struct {
	Task
	description string
}

func (r *reframed) Description() string {
	return r.description
}
