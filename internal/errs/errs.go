// Package errs defines the error taxonomy shared by the bridge, its state store
// and the gateway transport.
//
// Every failure is an [*E] carrying a [Code]. Codes survive the wire, so a host
// talking to a remote integrator can still match errors with errors.Is:
//
//	if errors.Is(err, errs.ErrNotFound) { ... }
package errs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-exported so callers need a single errors import.
var (
	Is = errors.Is
	As = errors.As
)

// Code identifies an error category.
type Code string

const (
	CodeNotFound       Code = "not_found"
	CodeAlreadyStopped Code = "already_stopped"
	CodeHandshake      Code = "handshake_failed"
	CodeIntegration    Code = "integration_failed"
	CodeTimeout        Code = "timeout"
	CodeNotReady       Code = "not_ready"
	CodeInvalid        Code = "invalid_request"
	CodeUnknownMethod  Code = "unknown_method"
	CodeTransport      Code = "transport"
	CodeInternal       Code = "internal"
)

// Sentinels matched by [E.Is] through the envelope code.
var (
	// ErrNotFound indicates a state name that was never added.
	ErrNotFound = errors.New("simbridge: state not found")

	// ErrAlreadyStopped indicates a call on a bridge after stopScript.
	ErrAlreadyStopped = errors.New("simbridge: integrator already stopped")

	// ErrHandshake indicates the readiness notification could not reach the host.
	ErrHandshake = errors.New("simbridge: readiness handshake failed")

	// ErrIntegration indicates the registered integration step failed.
	ErrIntegration = errors.New("simbridge: integration step failed")

	// ErrTimeout indicates a bounded wait on the host expired.
	ErrTimeout = errors.New("simbridge: timed out waiting for host")

	// ErrNotReady indicates a call that arrived before the handshake completed.
	ErrNotReady = errors.New("simbridge: integrator not ready")

	// ErrInvalid indicates a malformed request.
	ErrInvalid = errors.New("simbridge: invalid request")

	// ErrTransport indicates the connection to the peer failed.
	ErrTransport = errors.New("simbridge: transport failure")
)

var sentinels = map[Code]error{
	CodeNotFound:       ErrNotFound,
	CodeAlreadyStopped: ErrAlreadyStopped,
	CodeHandshake:      ErrHandshake,
	CodeIntegration:    ErrIntegration,
	CodeTimeout:        ErrTimeout,
	CodeNotReady:       ErrNotReady,
	CodeInvalid:        ErrInvalid,
	CodeUnknownMethod:  ErrInvalid,
	CodeTransport:      ErrTransport,
}

// E is the structured error envelope.
type E struct {
	Code    Code
	Op      string
	Name    string
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the code.
func New(code Code, opts ...Option) *E {
	e := &E{Code: code}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithOp records the bridge operation that failed.
func WithOp(op string) Option {
	return func(e *E) {
		e.Op = strings.TrimSpace(op)
	}
}

// WithName records the state name involved.
func WithName(name string) Option {
	return func(e *E) {
		e.Name = name
	}
}

// WithMessage attaches a human-readable message.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	var b strings.Builder
	b.WriteString("simbridge")
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	b.WriteString(string(e.Code))
	if e.Name != "" {
		fmt.Fprintf(&b, " %q", e.Name)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *E) Unwrap() error {
	return e.cause
}

// Is reports whether target is the sentinel for the envelope code.
func (e *E) Is(target error) bool {
	if t, ok := target.(*E); ok {
		return t.Code == e.Code
	}
	s, ok := sentinels[e.Code]
	return ok && s == target
}

// NotFound reports a getState on a name that was never added.
func NotFound(name string) *E {
	return New(CodeNotFound, WithOp("getState"), WithName(name))
}

// AlreadyStopped reports a call made after stopScript.
func AlreadyStopped(op string) *E {
	return New(CodeAlreadyStopped, WithOp(op))
}

// NotReady reports a call made before the readiness handshake completed.
func NotReady(op string) *E {
	return New(CodeNotReady, WithOp(op))
}

// Handshake reports a readiness notification that never reached the host.
func Handshake(cause error) *E {
	return New(CodeHandshake, WithOp("integratorReady"), WithCause(cause))
}

// Integration reports a failed integration pass.
func Integration(pass int, cause error) *E {
	return New(CodeIntegration,
		WithOp("runIntegration"),
		WithMessage(fmt.Sprintf("pass %d", pass)),
		WithCause(cause),
	)
}

// Timeout reports a bounded wait on the host that expired.
func Timeout(op string, after time.Duration, cause error) *E {
	return New(CodeTimeout, WithOp(op), WithMessage(fmt.Sprintf("no response after %s", after)), WithCause(cause))
}

// CodeOf extracts the code from err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Detail returns the message and cause text of err without the code prefix,
// suitable for sending to a peer alongside the code.
func Detail(err error) string {
	var e *E
	if !errors.As(err, &e) {
		return err.Error()
	}
	switch {
	case e.Message != "" && e.cause != nil:
		return e.Message + ": " + e.cause.Error()
	case e.cause != nil:
		return e.cause.Error()
	default:
		return e.Message
	}
}

// FromWire rebuilds an envelope from its transported form.
func FromWire(code Code, op, name, message string) *E {
	if code == "" {
		code = CodeInternal
	}
	return New(code, WithOp(op), WithName(name), WithMessage(message))
}
