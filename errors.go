package objns

import (
	"fmt"

	"github.com/containerd/errdefs"

	"github.com/Microsoft/go-objns/internal/ntdef"
)

// StatusError surfaces a failing NTSTATUS from a namespace operation as a
// Go error. It unwraps to the matching errdefs sentinel so embedders can
// classify failures with errdefs.IsNotFound and friends.
type StatusError struct {
	Op     string
	Status ntdef.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Status.String())
}

func (e *StatusError) Unwrap() error {
	switch e.Status {
	case ntdef.STATUS_OBJECT_NAME_NOT_FOUND,
		ntdef.STATUS_OBJECT_PATH_NOT_FOUND,
		ntdef.STATUS_INVALID_HANDLE:
		return errdefs.ErrNotFound
	case ntdef.STATUS_ACCESS_DENIED:
		return errdefs.ErrPermissionDenied
	case ntdef.STATUS_OBJECT_NAME_COLLISION:
		return errdefs.ErrAlreadyExists
	case ntdef.STATUS_INSUFFICIENT_RESOURCES:
		return errdefs.ErrResourceExhausted
	case ntdef.STATUS_BUFFER_TOO_SMALL:
		return errdefs.ErrOutOfRange
	case ntdef.STATUS_ACCESS_VIOLATION,
		ntdef.STATUS_INVALID_PARAMETER,
		ntdef.STATUS_OBJECT_PATH_SYNTAX_BAD,
		ntdef.STATUS_OBJECT_NAME_INVALID,
		ntdef.STATUS_OBJECT_TYPE_MISMATCH:
		return errdefs.ErrInvalidArgument
	default:
		return errdefs.ErrUnknown
	}
}

// AsError converts an operation status to an error. Success-class and
// informational statuses, STATUS_MORE_ENTRIES and STATUS_OBJECT_NAME_EXISTS
// included, convert to nil.
func AsError(op string, status ntdef.Status) error {
	if status.IsSuccess() {
		return nil
	}
	return &StatusError{Op: op, Status: status}
}
