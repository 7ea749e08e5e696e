package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes of the reconciliation engine.
var (
	// ErrSourceUnavailable indicates a telemetry source could not produce data
	ErrSourceUnavailable = errors.New("telemetry source unavailable")

	// ErrMalformedPayload indicates a source returned output that could not be parsed
	ErrMalformedPayload = errors.New("malformed telemetry payload")

	// ErrDirectoryUnavailable indicates the device directory could not be enumerated
	ErrDirectoryUnavailable = errors.New("device directory unavailable")

	// ErrRefreshInProgress indicates a refresh request was dropped because another one is running
	ErrRefreshInProgress = errors.New("telemetry refresh already in progress")
)

// SourceError wraps a telemetry source failure with context
type SourceError struct {
	Source SourceID // Source that failed
	Op     string   // Operation that failed (e.g., "exec", "parse")
	Err    error    // Underlying error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s %s failed: %v", e.Source, e.Op, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewSourceError builds a SourceError.
func NewSourceError(source SourceID, op string, err error) *SourceError {
	return &SourceError{Source: source, Op: op, Err: err}
}
