package engine

import (
	"errors"
	"fmt"
)

// Kind classifies why an invocation failed.
type Kind string

const (
	KindValidation   Kind = "validation_error"
	KindFileNotFound Kind = "file_not_found"
	KindTemplate     Kind = "template_error"
	KindTimeout      Kind = "timeout"
	KindConnection   Kind = "connection_error"
	KindTLS          Kind = "tls_error"
	KindCancelled    Kind = "cancelled"
)

var (
	ErrValidation     = errors.New("validation error")
	ErrFileNotFound   = errors.New("file not found")
	ErrTemplate       = errors.New("template error")
	ErrTimeout        = errors.New("timeout")
	ErrConnection     = errors.New("connection error")
	ErrTLS            = errors.New("tls error")
	ErrCancelled      = errors.New("cancelled")
	ErrUnknownCommand = errors.New("unknown command")
)

var kindSentinels = map[Kind]error{
	KindValidation:   ErrValidation,
	KindFileNotFound: ErrFileNotFound,
	KindTemplate:     ErrTemplate,
	KindTimeout:      ErrTimeout,
	KindConnection:   ErrConnection,
	KindTLS:          ErrTLS,
	KindCancelled:    ErrCancelled,
}

// Error is returned by every engine stage. errors.Is matches both the kind
// sentinel (ErrTimeout, ErrTLS, ...) and the wrapped cause.
type Error struct {
	Kind    Kind
	Command string
	URL     string
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.URL != "" {
		msg = fmt.Sprintf("%s (url: %s)", msg, e.URL)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Command != "" {
		return fmt.Sprintf("%s: %s", e.Command, msg)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := kindSentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// KindOf returns the engine kind carried by err, or "" when err did not come from the engine.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func withCommand(err error, command string) error {
	var e *Error
	if errors.As(err, &e) && e.Command == "" {
		e.Command = command
	}
	return err
}
