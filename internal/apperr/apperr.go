// Package apperr classifies failures so transport layers can branch on the
// kind of a failure instead of its message.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the class of a failure as seen by a caller.
type Kind uint8

const (
	KindInternal Kind = iota
	// KindInput marks missing or malformed client input.
	KindInput
	// KindRateLimited marks a request rejected by a quota.
	KindRateLimited
	// KindUpstream marks a failure of an external collaborator
	// (extraction, scoring, counter store).
	KindUpstream
	KindUnauthorized
	// KindConflict marks a request clashing with existing state, e.g. a
	// duplicate registration.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstream:
		return "upstream"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a classified failure. Message is safe to show to the caller, Err
// is the internal cause and is only logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	default:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Input(message string) *Error {
	return &Error{Kind: KindInput, Message: message}
}

func Upstream(message string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: message, Err: err}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

type kinder interface {
	Kind() Kind
}

// KindOf reports the kind of err. Errors that are neither *Error nor expose a
// Kind method anywhere in their chain are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}

	return KindInternal
}

// MessageOf returns the caller-facing message of err, or fallback when err
// carries none.
func MessageOf(err error, fallback string) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}

	var k interface{ UserMessage() string }
	if errors.As(err, &k) {
		return k.UserMessage()
	}

	return fallback
}
