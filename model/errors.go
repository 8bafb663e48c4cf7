package model

import (
	"errors"
	"fmt"
)

// Kind classifies orchestration errors.
type Kind string

const (
	KindInvalidRequest        Kind = "InvalidRequest"
	KindConfigurationNotFound Kind = "ConfigurationNotFound"
	KindNotFound              Kind = "NotFound"
	KindUnauthorized          Kind = "Unauthorized"
	KindSelfApprovalForbidden Kind = "SelfApprovalForbidden"
	KindConflict              Kind = "Conflict"
	KindHookFailure           Kind = "HookFailure"
)

// Sentinel errors usable with errors.Is. SelfApprovalForbidden also matches
// ErrUnauthorized.
var (
	ErrInvalidRequest        = &Error{Kind: KindInvalidRequest}
	ErrConfigurationNotFound = &Error{Kind: KindConfigurationNotFound}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrUnauthorized          = &Error{Kind: KindUnauthorized}
	ErrSelfApprovalForbidden = &Error{Kind: KindSelfApprovalForbidden}
	ErrConflict              = &Error{Kind: KindConflict}
	ErrHookFailure           = &Error{Kind: KindHookFailure}
)

// Error represents a classified orchestration error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	} else {
		msg = string(e.Kind) + ": " + msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindUnauthorized && e.Kind == KindSelfApprovalForbidden
}

// NewError creates a classified error.
func NewError(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies cause.
func WrapError(kind Kind, op string, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) (Kind, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind, true
	}
	return "", false
}

// HookFailure reports a post-commit extension error. It never reverts the
// committed transition it accompanies.
type HookFailure struct {
	Hook  string `json:"hook"`
	Point string `json:"point"`
	Err   error  `json:"-"`
}

func (f *HookFailure) Error() string {
	return fmt.Sprintf("hook %s failed at %s: %v", f.Hook, f.Point, f.Err)
}

func (f *HookFailure) Unwrap() error {
	return f.Err
}

// Is allows errors.Is(failure, ErrHookFailure).
func (f *HookFailure) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindHookFailure
}
