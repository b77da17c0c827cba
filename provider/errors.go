package provider

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned when a provider cannot express a requested feature.
var ErrUnsupported = errors.New("unsupported operation")

// APIError is returned for non-2xx HTTP responses.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s API error (status %d, type %s): %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// ParseError represents malformed JSON received from a provider.
type ParseError struct {
	Provider string
	Data     string
	Cause    error
}

func (e *ParseError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: malformed response", e.Provider)
	}
	return fmt.Sprintf("%s: malformed response: %v", e.Provider, e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// ConfigError is an unrecoverable configuration problem such as a missing API key.
type ConfigError struct {
	Provider string
	Message  string
}

func (e *ConfigError) Error() string {
	if e.Provider == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error (%s): %s", e.Provider, e.Message)
}

// IsFatal reports whether err can never succeed on retry.
func IsFatal(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr) || errors.Is(err, ErrUnsupported)
}
