// Package apperr classifies pipeline failures so callers can tell bad input
// apart from a misbehaving remote service or a local filesystem problem.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel kinds - use with errors.Is().
var (
	ErrValidation      = errors.New("validation failed")
	ErrExternalService = errors.New("external service failed")
	ErrIO              = errors.New("local io failed")
)

// Kind identifies which sentinel an Error unwraps to.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindExternal
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindExternal:
		return "external"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindExternal:
		return ErrExternalService
	case KindIO:
		return ErrIO
	default:
		return nil
	}
}

// Error carries the stage that failed and, when relevant, the file involved.
// It unwraps to both its kind sentinel and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the kind sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Validation reports input the pipeline refuses to process.
func Validation(op, path string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Path: path, Err: err}
}

// External reports a failed or malformed call to a remote service.
func External(op string, err error) error {
	return &Error{Kind: KindExternal, Op: op, Err: err}
}

// IO reports a local filesystem failure.
func IO(op, path string, err error) error {
	return &Error{Kind: KindIO, Op: op, Path: path, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
