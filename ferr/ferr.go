// Package ferr defines the node-wide error taxonomy (spec §7) and the
// helpers used to attach it to wrapped errors.
package ferr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is one of the error kinds a fallible operation can report.
type Code int

const (
	// Unknown is used for errors that did not originate in this package.
	Unknown Code = iota
	InvalidArg
	NoMem
	IOError
	NotFound
	AlreadyExists
	MapFull
	QueueFull
	Timeout
	Protocol
)

func (c Code) String() string {
	switch c {
	case InvalidArg:
		return "INVALID_ARG"
	case NoMem:
		return "NO_MEM"
	case IOError:
		return "IO_ERROR"
	case NotFound:
		return "NOT_FOUND"
	case AlreadyExists:
		return "ALREADY_EXISTS"
	case MapFull:
		return "MAP_FULL"
	case QueueFull:
		return "QUEUE_FULL"
	case Timeout:
		return "TIMEOUT"
	case Protocol:
		return "PROTOCOL"
	default:
		return "UNKNOWN"
	}
}

// codedError pairs a Code with an underlying cause so errors.Cause (via
// github.com/pkg/errors) keeps working through fmt.Errorf-style chains.
type codedError struct {
	code  Code
	cause error
}

func (e *codedError) Error() string {
	if e.cause == nil {
		return e.code.String()
	}
	return fmt.Sprintf("%s: %s", e.code, e.cause)
}

func (e *codedError) Cause() error { return e.cause }
func (e *codedError) Unwrap() error { return e.cause }

// New creates a new error of the given code with a message.
func New(code Code, msg string) error {
	return &codedError{code: code, cause: errors.New(msg)}
}

// Newf is New with printf-style formatting.
func Newf(code Code, format string, args ...interface{}) error {
	return &codedError{code: code, cause: errors.Errorf(format, args...)}
}

// Wrap annotates err with a code and a message, keeping err as the cause
// so the original stack trace (added by github.com/pkg/errors) survives.
func Wrap(code Code, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, cause: errors.Wrap(err, msg)}
}

// Wrapf is Wrap with printf-style formatting.
func Wrapf(code Code, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, cause: errors.Wrapf(err, format, args...)}
}

// Is reports whether err (or anything it wraps) carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf extracts the Code from err, or Unknown if none is attached.
func CodeOf(err error) Code {
	for err != nil {
		if ce, ok := err.(*codedError); ok {
			return ce.code
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		err = cause.Cause()
	}
	return Unknown
}
