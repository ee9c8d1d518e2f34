package attachment

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed upload. Nothing has been stored.
	ErrValidation = errors.New("invalid upload")
	// ErrQuotaExceeded is returned when the user already has the maximum
	// number of uploads awaiting background processing.
	ErrQuotaExceeded = errors.New("too many uploads in progress")
	// ErrNotFound signals that the attachment could not be located.
	ErrNotFound = errors.New("attachment not found")
	// ErrForbidden indicates the attachment belongs to another user.
	ErrForbidden = errors.New("forbidden")
	// ErrInProgress is returned for operations that need a finalized attachment.
	ErrInProgress = errors.New("attachment is still processing")
)

// StorageError wraps a storage backend failure.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
