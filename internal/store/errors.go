package store

import (
	"errors"
	"fmt"
	"strings"
)

// Error represents a failure detected by the store engine itself.
//
// Errors raised by mutation, action or listener bodies are never wrapped in
// an Error. They reach the caller unchanged.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Kind names the construct involved ("mutation", "action", "getter",
	// "field", "event").
	Kind string

	// Name is the construct, field or event name the error refers to.
	Name string

	// Choices lists the valid names, when the error is about an unknown one.
	Choices []string
}

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// ErrCodeMissingConstruct indicates an unregistered mutation, action or getter.
	ErrCodeMissingConstruct ErrorCode = "MISSING_CONSTRUCT"

	// ErrCodeIllegalDirectMutation indicates a direct write outside an
	// operation in strict mode.
	ErrCodeIllegalDirectMutation ErrorCode = "ILLEGAL_DIRECT_MUTATION"

	// ErrCodeInvalidSubscription indicates an unknown event name.
	ErrCodeInvalidSubscription ErrorCode = "INVALID_SUBSCRIPTION"

	// ErrCodeDepthExceeded indicates nested operations or listeners went
	// deeper than the configured maximum.
	ErrCodeDepthExceeded ErrorCode = "DEPTH_EXCEEDED"
)

// ErrClosed is returned by DispatchAsync after Close.
var ErrClosed = errors.New("store: closed")

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if len(e.Choices) > 0 {
		msg += " (valid: " + strings.Join(e.Choices, ", ") + ")"
	}
	return msg
}

// IsMissingConstruct returns true if err is a MISSING_CONSTRUCT error.
// Uses errors.As to handle wrapped errors.
func IsMissingConstruct(err error) bool {
	return hasCode(err, ErrCodeMissingConstruct)
}

// IsIllegalDirectMutation returns true if err is an ILLEGAL_DIRECT_MUTATION error.
func IsIllegalDirectMutation(err error) bool {
	return hasCode(err, ErrCodeIllegalDirectMutation)
}

// IsInvalidSubscription returns true if err is an INVALID_SUBSCRIPTION error.
func IsInvalidSubscription(err error) bool {
	return hasCode(err, ErrCodeInvalidSubscription)
}

// IsDepthExceeded returns true if err is a DEPTH_EXCEEDED error.
func IsDepthExceeded(err error) bool {
	return hasCode(err, ErrCodeDepthExceeded)
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

func newMissingConstruct(kind, name string, choices []string) *Error {
	return &Error{
		Code:    ErrCodeMissingConstruct,
		Message: fmt.Sprintf("%s %q is not registered", kind, name),
		Kind:    kind,
		Name:    name,
		Choices: choices,
	}
}

func newIllegalDirectMutation(field string) *Error {
	return &Error{
		Code:    ErrCodeIllegalDirectMutation,
		Message: fmt.Sprintf("field %q cannot be written outside a mutation, action or reset in strict mode", field),
		Kind:    "field",
		Name:    field,
	}
}

func newInvalidSubscription(name string, choices []string) *Error {
	return &Error{
		Code:    ErrCodeInvalidSubscription,
		Message: fmt.Sprintf("cannot subscribe to unknown event %q", name),
		Kind:    "event",
		Name:    name,
		Choices: choices,
	}
}
