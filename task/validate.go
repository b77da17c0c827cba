package task

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// ValidationError reports output that failed the task's check.
type ValidationError struct {
	Output string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid output: " + e.Reason
}

// decodeJSON decodes exactly one JSON value from s.
func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	return v, nil
}
