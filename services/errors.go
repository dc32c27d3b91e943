package services

import (
	"errors"
	"fmt"
)

// ChunkingError means the source text could not be split into chunks.
// It fails the whole document.
type ChunkingError struct {
	Reason string
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("chunking failed: %s", e.Reason)
}

// TransientError wraps a generative call failure that is worth retrying
// (timeouts, throttling, 5xx-class upstream failures).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient generative error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError wraps a generative call failure that retrying cannot fix
// (authentication, malformed request, safety blocks).
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal generative error: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// SchemaValidationError carries the ordered list of violations found when
// checking a parsed response against the payload schema.
type SchemaValidationError struct {
	Violations []string
}

func (e *SchemaValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "schema validation failed"
	}
	return fmt.Sprintf("schema validation failed: %s", e.Violations[0])
}

// RepairExhausted means a chunk never produced a valid payload within the
// configured repair budget. The chunk is reported as exhausted, not fatal.
type RepairExhausted struct {
	ChunkIndex int
	Attempts   int
	LastErrors []string
}

func (e *RepairExhausted) Error() string {
	return fmt.Sprintf("chunk %d exhausted after %d attempts", e.ChunkIndex, e.Attempts)
}

// EntityLinkError records a recoverable failure while linking one entity
// (for example a failed embedding lookup). Linking continues without it.
type EntityLinkError struct {
	EntityValue string
	Err         error
}

func (e *EntityLinkError) Error() string {
	return fmt.Sprintf("entity link failed for %q: %v", e.EntityValue, e.Err)
}

func (e *EntityLinkError) Unwrap() error { return e.Err }

// AnomalyDetectionError records a failed generative anomaly pass. Rule-based
// findings are still reported.
type AnomalyDetectionError struct {
	Err error
}

func (e *AnomalyDetectionError) Error() string {
	return fmt.Sprintf("anomaly detection failed: %v", e.Err)
}

func (e *AnomalyDetectionError) Unwrap() error { return e.Err }

// ErrSessionNotFound is returned for lookups of unknown or expired runs.
var ErrSessionNotFound = errors.New("session not found")

// IsTransient reports whether err should be retried at the transport level
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err must abort the current chunk immediately
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
