package jobstore

import (
	"errors"
	"fmt"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates no record exists for the job id.
	ErrNotFound = errors.New("job not found")

	// ErrConflict indicates the record was not in the state required by a
	// conditional write.
	ErrConflict = errors.New("job state conflict")

	// ErrUnavailable indicates the backing store could not be reached or
	// throttled the request.
	ErrUnavailable = errors.New("job store unavailable")
)

// StoreError wraps backend errors with context.
type StoreError struct {
	// Op is the operation that failed (e.g., "Claim", "MarkArchived").
	Op string

	// Backend names the implementation (e.g., "dynamodb", "sqlite").
	Backend string

	// JobID is the job id, if applicable.
	JobID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s %s: job %s: %v", e.Backend, e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if a conditional write was rejected.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
