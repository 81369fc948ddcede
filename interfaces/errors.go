package interfaces

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the boundary. Callers match them with errors.Is.
var (
	// ErrUnexpected is an internal boundary failure: random source exhaustion,
	// key derivation failure or instance creation failure.
	ErrUnexpected = errors.New("unexpected boundary failure")

	// ErrInvalidParameter is a caller contract violation, such as a buffer
	// size mismatch or a malformed blob. It is never retried.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrIntegrity is returned when a sealed blob fails authentication. It does
	// not distinguish tampering from an identity that does not satisfy the
	// blob's policy.
	ErrIntegrity = errors.New("sealed data integrity check failed")

	// ErrNotInitialized is returned for calls on a destroyed or never created
	// instance.
	ErrNotInitialized = errors.New("boundary instance not initialized")

	// ErrOutOfMemory is returned when a destination buffer is too small.
	ErrOutOfMemory = errors.New("destination buffer too small")
)

// BoundaryError carries the operation and buffer a failure relates to.
// It never carries buffer contents.
type BoundaryError struct {
	Op     string
	Buffer string
	Err    error
}

func (e *BoundaryError) Error() string {
	if e.Buffer != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Buffer, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BoundaryError) Unwrap() error {
	return e.Err
}
