// Package apperr defines the error taxonomy shared by the identity, link, and cone
// operations. Write-path operations return *Error values; callers classify them with
// errors.Is against the exported sentinels or with KindOf.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a failure.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors that did not originate here.
	KindUnknown Kind = iota
	// KindNotFound covers unknown subjects, aliases, and pending links.
	KindNotFound
	// KindPermission covers requesters outside the cone allow-list.
	KindPermission
	// KindValidation covers malformed input such as an unknown effect name.
	KindValidation
	// KindPersistence covers gateway failures.
	KindPersistence
	// KindCollaborator covers summarizer and merger failures.
	KindCollaborator
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	case KindValidation:
		return "validation"
	case KindPersistence:
		return "persistence"
	case KindCollaborator:
		return "collaborator"
	default:
		return "unknown"
	}
}

// Sentinels usable with errors.Is.
var (
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrPermission   = &Error{Kind: KindPermission}
	ErrValidation   = &Error{Kind: KindValidation}
	ErrPersistence  = &Error{Kind: KindPersistence}
	ErrCollaborator = &Error{Kind: KindCollaborator}
)

// Error is a classified failure. Op names the operation ("cone.apply", "link.confirm").
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels compare by kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a classified error with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFound is shorthand for New(KindNotFound, ...).
func NotFound(op, format string, args ...any) *Error {
	return New(KindNotFound, op, format, args...)
}

// Permission is shorthand for New(KindPermission, ...).
func Permission(op, format string, args ...any) *Error {
	return New(KindPermission, op, format, args...)
}

// Validation is shorthand for New(KindValidation, ...).
func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
