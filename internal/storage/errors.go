package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that the requested entity or workspace does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCorrupt indicates a stored record that cannot be decoded.
	ErrCorrupt = errors.New("corrupt record")

	// ErrWriteFailure indicates a write that could not be completed.
	ErrWriteFailure = errors.New("write failure")

	// ErrDiscoveryFailure indicates the storage root could not be enumerated.
	ErrDiscoveryFailure = errors.New("discovery failure")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal marks unexpected failures converted at the service boundary.
	ErrInternal = errors.New("internal error")
)

// ErrorCode is the machine-readable classification of an Error.
type ErrorCode string

const (
	CodeNotFound         ErrorCode = "not_found"
	CodeCorrupt          ErrorCode = "corrupt"
	CodeWriteFailure     ErrorCode = "write_failure"
	CodeDiscoveryFailure ErrorCode = "discovery_failure"
	CodeInvalidInput     ErrorCode = "invalid_input"
	CodeInternal         ErrorCode = "internal"
)

var sentinels = map[ErrorCode]error{
	CodeNotFound:         ErrNotFound,
	CodeCorrupt:          ErrCorrupt,
	CodeWriteFailure:     ErrWriteFailure,
	CodeDiscoveryFailure: ErrDiscoveryFailure,
	CodeInvalidInput:     ErrInvalidInput,
	CodeInternal:         ErrInternal,
}

// Error is a structured storage error carrying a code and a human message.
// errors.Is matches it against the sentinel for its code.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// NewError builds an Error. cause may be nil.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's code.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Code]
	return ok && s == target
}

// WriteFailure wraps cause as a write_failure Error.
func WriteFailure(message string, cause error) *Error {
	return NewError(CodeWriteFailure, message, cause)
}

// NotFound builds a not_found Error for one entity.
func NotFound(kind, id string) *Error {
	return NewError(CodeNotFound, fmt.Sprintf("%s %q not found", kind, id), nil)
}

// InvalidInput builds an invalid_input Error.
func InvalidInput(format string, args ...any) *Error {
	return NewError(CodeInvalidInput, fmt.Sprintf(format, args...), nil)
}

// CodeOf returns the code for err: the code of a wrapped *Error, the code of
// a wrapped sentinel, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	for code, s := range sentinels {
		if errors.Is(err, s) {
			return code
		}
	}
	return CodeInternal
}

// AsError converts any error into an *Error, preserving an existing one.
// nil stays nil.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return NewError(CodeOf(err), err.Error(), err)
}
