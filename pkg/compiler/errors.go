package compiler

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/geldata/gel/pkg/pathctx"
)

// InternalError reports a semantic problem detected during compilation
// that earlier phases should have rejected.
type InternalError struct {
	// Code identifies the error category.
	Code InternalErrorCode

	// Message is a human-readable description.
	Message string
}

// InternalErrorCode categorizes internal errors.
type InternalErrorCode string

const (
	// ErrCodeUnexpectedUnion indicates a union pointer where a single
	// component was required.
	ErrCodeUnexpectedUnion InternalErrorCode = "UNEXPECTED_UNION"

	// ErrCodeUnsupported indicates an IR construct this compiler does
	// not handle.
	ErrCodeUnsupported InternalErrorCode = "UNSUPPORTED"
)

// Error implements the error interface.
func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func internalErrorf(code InternalErrorCode, format string, args ...any) error {
	return &InternalError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsInternalError reports whether err wraps an InternalError.
func IsInternalError(err error) bool {
	var ie *InternalError
	return errors.As(err, &ie)
}

// IsLookupError reports whether err wraps a path lookup failure.
func IsLookupError(err error) bool {
	return pathctx.IsLookupError(err)
}

// IsInvariantViolation reports whether err stems from a broken
// internal invariant. Such errors abort the whole compile.
func IsInvariantViolation(err error) bool {
	return errors.HasAssertionFailure(err)
}
