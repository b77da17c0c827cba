package agent

import "fmt"

// ExhaustedError is returned when every attempt failed. Cause is the failure
// of the last attempt.
type ExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("agent gave up after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}
