// Package apperrors classifies failures so the HTTP layer can map them to
// status classes without inspecting message text.
package apperrors

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindComputation is the default for unclassified failures.
	KindComputation Kind = iota
	KindValidation
	KindOutOfRange
	KindNotFound
	KindCapability
	KindInvalidState
	KindForbidden
	KindTimeout
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg != "" {
		return e.Msg + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Validationf(format string, args ...interface{}) *Error {
	return New(KindValidation, format, args...)
}

func OutOfRangef(format string, args ...interface{}) *Error {
	return New(KindOutOfRange, format, args...)
}

func NotFoundf(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

func Capabilityf(format string, args ...interface{}) *Error {
	return New(KindCapability, format, args...)
}

func InvalidStatef(format string, args ...interface{}) *Error {
	return New(KindInvalidState, format, args...)
}

func Forbiddenf(format string, args ...interface{}) *Error {
	return New(KindForbidden, format, args...)
}

func Timeoutf(format string, args ...interface{}) *Error {
	return New(KindTimeout, format, args...)
}

// KindOf reports the classification of err, KindComputation when it carries
// none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindComputation
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
