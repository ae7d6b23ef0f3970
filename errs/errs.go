// Package errs holds the error families surfaced by the engine. Every error
// exposes a one-line Message and an optional multi-line Detail.
package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/quill-lang/quill/ast"
)

type Error interface {
	error
	Message() string
	Detail() string
	isQuillError()
}

type CompileError struct {
	Msg      string
	Location ast.Location
	Cause    error
}

func NewCompileError(loc ast.Location, format string, args ...any) *CompileError {
	return &CompileError{Msg: fmt.Sprintf(format, args...), Location: loc}
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s: %s", e.Location, e.Msg)
}

func (e *CompileError) Message() string { return e.Msg }

func (e *CompileError) Detail() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Compile error: %s\n  at %s", e.Msg, e.Location)
	var inner Error
	if errors.As(e.Cause, &inner) {
		fmt.Fprintf(&b, "\nCaused by:\n%s", indent(inner.Detail()))
	}
	return b.String()
}

func (e *CompileError) Unwrap() error { return e.Cause }
func (*CompileError) isQuillError()   {}

type RuntimeKind int

const (
	OtherError RuntimeKind = iota
	NotAFunction
	ArityMismatch
	NoMatchingSignature
	IndexOutOfRange
	KeyNotFound
	DomainViolation
	AssertionFailed
	Cancelled
	InternalError
)

func (k RuntimeKind) String() string {
	switch k {
	case OtherError:
		return "Error"
	case NotAFunction:
		return "NotAFunction"
	case ArityMismatch:
		return "ArityMismatch"
	case NoMatchingSignature:
		return "NoMatchingSignature"
	case IndexOutOfRange:
		return "IndexOutOfRange"
	case KeyNotFound:
		return "KeyNotFound"
	case DomainViolation:
		return "DomainViolation"
	case AssertionFailed:
		return "AssertionFailed"
	case Cancelled:
		return "Cancelled"
	case InternalError:
		return "InternalError"
	}
	return fmt.Sprintf("RuntimeKind(%d)", int(k))
}

type RuntimeError struct {
	Kind  RuntimeKind
	Msg   string
	Trace *StackTrace
	Cause error
}

func (e *RuntimeError) Error() string { return e.Msg }

func (e *RuntimeError) Message() string { return e.Msg }

func (e *RuntimeError) Detail() string {
	if e.Trace == nil {
		return "Runtime error: " + e.Msg
	}
	return "Runtime error: " + e.Msg + "\n" + e.Trace.String()
}

func (e *RuntimeError) Unwrap() error { return e.Cause }
func (*RuntimeError) isQuillError()   {}

// Raise builds a RuntimeError without a trace. The reducer attaches one when
// the error crosses the reduction boundary.
func Raise(kind RuntimeKind, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

type ProtocolError struct {
	Msg   string
	Diag  string
	Cause error
}

func NewProtocolError(cause error, format string, args ...any) *ProtocolError {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *ProtocolError) Message() string { return e.Msg }

func (e *ProtocolError) Detail() string {
	if e.Diag != "" {
		return e.Diag
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return ""
}

func (e *ProtocolError) Unwrap() error { return e.Cause }
func (*ProtocolError) isQuillError()   {}

// CancelledError reports that the caller's context ended before a result was produced.
func CancelledError(cause error, trace *StackTrace) *RuntimeError {
	if cause == nil {
		cause = context.Canceled
	}
	if trace == nil {
		trace = &StackTrace{}
	}
	return &RuntimeError{Kind: Cancelled, Msg: "Run cancelled: " + cause.Error(), Trace: trace, Cause: cause}
}

func IsCancelled(err error) bool {
	var rerr *RuntimeError
	if errors.As(err, &rerr) && rerr.Kind == Cancelled {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Wrap lifts an arbitrary error into the taxonomy. Taxonomy errors pass through untouched.
func Wrap(err error) Error {
	if err == nil {
		return nil
	}
	var qerr Error
	if errors.As(err, &qerr) {
		return qerr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CancelledError(err, nil)
	}
	return &RuntimeError{Kind: InternalError, Msg: err.Error(), Trace: &StackTrace{}, Cause: err}
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}
