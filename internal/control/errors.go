package control

import (
	"errors"
	"fmt"
)

// Wire error codes.
const (
	CodeCommandFailed = 32001
	CodeRequestFailed = 32600
)

// ErrorKind is the closed set of error kinds reported on the wire. The
// kind's name is the error message for everything but command failures.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalidRequest
	KindMethodNotFound
	KindInvalidParams
	KindCommand
	KindNotSubscribed
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindMethodNotFound:
		return "MethodNotFound"
	case KindInvalidParams:
		return "InvalidParams"
	case KindCommand:
		return "CommandError"
	case KindNotSubscribed:
		return "NotSubscribedError"
	case KindTimeout:
		return "TimeoutError"
	default:
		return "InternalError"
	}
}

// ErrMethodNotFound is returned by Registry.Lookup for unknown names.
var ErrMethodNotFound = errors.New("method not found")

// Error is a classified dispatch failure.
type Error struct {
	Kind ErrorKind
	// ExitCode is set for KindCommand.
	ExitCode int
	// Data overrides the diagnostic payload; defaults to Err's message.
	Data string
	Err  error
}

// NewError classifies err as kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// CommandFailed reports an external executable that exited non-zero.
// output is the combined process output, preserved verbatim.
func CommandFailed(exitCode int, output string, err error) *Error {
	return &Error{Kind: KindCommand, ExitCode: exitCode, Data: output, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the wire error code.
func (e *Error) Code() int {
	if e.Kind == KindCommand {
		return CodeCommandFailed
	}
	return CodeRequestFailed
}

// Message returns the wire message.
func (e *Error) Message() string {
	if e.Kind == KindCommand {
		return fmt.Sprintf("CommandError(%d)", e.ExitCode)
	}
	return e.Kind.String()
}

// toErrorObject converts any dispatch error to its wire form. Unclassified
// errors are reported as InternalError.
func toErrorObject(err error) *ErrorObject {
	var e *Error
	if !errors.As(err, &e) {
		e = NewError(KindInternal, err)
	}

	data := e.Data
	if data == "" && e.Err != nil {
		data = e.Err.Error()
	}
	return &ErrorObject{Code: e.Code(), Message: e.Message(), Data: data}
}
