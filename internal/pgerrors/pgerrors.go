// SPDX-License-Identifier: Apache-2.0

// Package pgerrors defines the error kinds surfaced by the validate-then-upsert
// engine. Each kind wraps an underlying cause and is distinguished with
// errors.Is/errors.As so that the CLI layer can map it to an exit code without
// inspecting error strings.
package pgerrors

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a failure raised by the engine.
type Kind int

const (
	// KindConfig covers invalid identifiers, unknown upsert methods,
	// impossible option combinations, and bad configuration files.
	KindConfig Kind = iota
	// KindSchema covers missing tables/columns and staging/base shape
	// mismatches.
	KindSchema
	// KindDatabase covers driver- or server-level failures.
	KindDatabase
	// KindQAFailure covers a non-empty error field somewhere in the control
	// table after QA has run.
	KindQAFailure
	// KindCancelled covers operator cancellation via the prompter.
	KindCancelled
	// KindInvariant covers an internal assertion that should never fire in
	// production.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindSchema:
		return "SchemaError"
	case KindDatabase:
		return "DatabaseError"
	case KindQAFailure:
		return "QAFailure"
	case KindCancelled:
		return "OperatorCancelled"
	case KindInvariant:
		return "InvariantViolation"
	default:
		return "UnknownError"
	}
}

// ExitCode returns the CLI exit code associated with the error kind, per
// the mapping in the external interface spec: 1 = config/schema, 2 = QA
// failed, 3 = operator cancelled, 4 = database error.
func (k Kind) ExitCode() int {
	switch k {
	case KindConfig, KindSchema:
		return 1
	case KindQAFailure:
		return 2
	case KindCancelled:
		return 3
	case KindDatabase:
		return 4
	default:
		return 1
	}
}

// Error is a typed, wrapped error carrying a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, pgerrors.QAFailure("")) matches any QAFailure error
// regardless of its message.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Config wraps err as a ConfigError.
func Config(err error, format string, args ...any) *Error {
	return newf(KindConfig, err, format, args...)
}

// Schema wraps err as a SchemaError.
func Schema(err error, format string, args ...any) *Error {
	return newf(KindSchema, err, format, args...)
}

// Database wraps err as a DatabaseError.
func Database(err error, format string, args ...any) *Error {
	return newf(KindDatabase, err, format, args...)
}

// QAFailure constructs a QAFailure error carrying the summary message.
func QAFailure(format string, args ...any) *Error {
	return newf(KindQAFailure, nil, format, args...)
}

// Cancelled constructs an OperatorCancelled error.
func Cancelled(format string, args ...any) *Error {
	return newf(KindCancelled, nil, format, args...)
}

// Invariant constructs an InvariantViolation error.
func Invariant(format string, args ...any) *Error {
	return newf(KindInvariant, nil, format, args...)
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
