// Package apperr defines the error taxonomy shared by the lifecycle engine
// and its transport.
package apperr

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

type Kind string

const (
	KindNotFound           Kind = "NOT_FOUND"
	KindConflict           Kind = "CONFLICT"
	KindInvalidInput       Kind = "INVALID_INPUT"
	KindPreconditionFailed Kind = "PRECONDITION_FAILED"
	KindDependency         Kind = "DEPENDENCY"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func newError(kind Kind, code, message string, details any) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Details: details}
}

func NotFound(code, message string) *Error {
	return newError(KindNotFound, code, message, nil)
}

func Conflict(code, message string, details any) *Error {
	return newError(KindConflict, code, message, details)
}

func Invalid(code, message string) *Error {
	return newError(KindInvalidInput, code, message, nil)
}

func Precondition(code, message string) *Error {
	return newError(KindPreconditionFailed, code, message, nil)
}

// Dependency reports a failed call to an external collaborator.
func Dependency(code, message string, cause error) *Error {
	e := newError(KindDependency, code, message, nil)
	e.cause = cause
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Violations folds accumulated validation failures into a single
// INVALID_INPUT error listing every message. It returns nil when errs is nil.
func Violations(errs error) error {
	list := multierr.Errors(errs)
	if len(list) == 0 {
		return nil
	}
	messages := make([]string, 0, len(list))
	for _, err := range list {
		messages = append(messages, err.Error())
	}
	message := messages[0]
	if len(messages) > 1 {
		message = fmt.Sprintf("%d validation errors", len(messages))
	}
	e := newError(KindInvalidInput, "VALIDATION_ERROR", message, messages)
	e.cause = errs
	return e
}
