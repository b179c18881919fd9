package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the caller may not access the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict indicates the write collides with existing state.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthenticated indicates no caller identity was resolved.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnavailable indicates an optional backend is not configured.
	ErrUnavailable = errors.New("service unavailable")
)

// StorageError wraps a failure reported by the persistence layer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// WrapStorage tags err with the failing operation. Not-found and conflict
// sentinels pass through untouched.
func WrapStorage(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// ExtractionError wraps a failure reported by the receipt extraction service.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
