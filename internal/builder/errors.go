package builder

import (
	"errors"
	"fmt"
)

// ErrAbortIncremental is the sentinel every incremental abort matches.
var ErrAbortIncremental = errors.New("incremental build aborted")

// AbortIncrementalError stops an incremental build; the builder falls
// back to a full build.
type AbortIncrementalError struct {
	Reason   string
	TypeName string // the type that triggered the abort, if any
}

func (e *AbortIncrementalError) Error() string {
	if e.TypeName != "" {
		return fmt.Sprintf("%s: %s (%s)", ErrAbortIncremental, e.Reason, e.TypeName)
	}
	return fmt.Sprintf("%s: %s", ErrAbortIncremental, e.Reason)
}

func (e *AbortIncrementalError) Unwrap() error { return ErrAbortIncremental }

func abort(reason, typeName string) error {
	return &AbortIncrementalError{Reason: reason, TypeName: typeName}
}

// InternalError wraps a failure the build cannot recover from, such as
// an I/O error writing an artifact. The saved state is dropped so the
// next build starts from scratch.
type InternalError struct {
	Op  string
	Err error
	// InCompiler is set when the failure surfaced while the front-end
	// was running.
	InCompiler bool
}

func (e *InternalError) Error() string {
	if e.InCompiler {
		return fmt.Sprintf("internal error during compile: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("internal error: %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// IsInternal reports whether err carries an InternalError.
func IsInternal(err error) bool {
	var ie *InternalError
	return errors.As(err, &ie)
}

// collisionError reports an artifact whose path differs from an existing
// file only in case.
type collisionError struct {
	path, existing string
}

func (e *collisionError) Error() string {
	return fmt.Sprintf("%s collides with %s", e.path, e.existing)
}
