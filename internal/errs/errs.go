// Package errs defines the error kinds shared by the service and HTTP layers.
package errs

import (
	"errors"
	"strings"
)

// Kind classifies a failure for callers and for HTTP status mapping.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindUnauthenticated Kind = "unauthenticated"
	KindConflict        Kind = "conflict"
	KindRateLimited     Kind = "rate_limited"
	KindPersistence     Kind = "persistence"
	KindUpstream        Kind = "upstream"
	KindInternal        Kind = "internal"
)

// E is the error envelope returned by services.
type E struct {
	Kind    Kind
	Message string
	Field   string
	Op      string

	cause error
}

type Option func(*E)

func New(kind Kind, opts ...Option) *E {
	e := &E{Kind: kind}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithField names the offending input field of a validation failure.
func WithField(field string) Option {
	return func(e *E) {
		e.Field = field
	}
}

// WithOp records the operation that failed, e.g. "strategy.create".
func WithOp(op string) Option {
	return func(e *E) {
		e.Op = op
	}
}

func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
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
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches another *E by kind so errors.Is(err, errs.NotFound("")) works.
func (e *E) Is(target error) bool {
	var other *E
	if !errors.As(target, &other) || other == nil || e == nil {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf returns the kind of the first *E in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return KindInternal
}

// Public returns the message safe to show to API callers.
func Public(err error) string {
	var e *E
	if !errors.As(err, &e) || e == nil {
		return "internal error"
	}
	switch e.Kind {
	case KindPersistence:
		return "storage unavailable"
	case KindInternal:
		return "internal error"
	}
	if e.Message != "" {
		return e.Message
	}
	return strings.ReplaceAll(string(e.Kind), "_", " ")
}

func Validation(field, message string) *E {
	return New(KindValidation, WithField(field), WithMessage(message))
}

func NotFound(message string) *E {
	return New(KindNotFound, WithMessage(message))
}

func Forbidden(message string) *E {
	return New(KindForbidden, WithMessage(message))
}

func Unauthenticated(message string) *E {
	return New(KindUnauthenticated, WithMessage(message))
}

func Conflict(message string) *E {
	return New(KindConflict, WithMessage(message))
}

func RateLimited(message string) *E {
	return New(KindRateLimited, WithMessage(message))
}

func Persistence(op string, cause error) *E {
	return New(KindPersistence, WithOp(op), WithCause(cause))
}

func Upstream(op, message string, cause error) *E {
	return New(KindUpstream, WithOp(op), WithMessage(message), WithCause(cause))
}
