package library

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the HTTP surface can pick a status code.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUnauthorized
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// Error is an expected, caller-facing failure.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrUserNotFound      = &Error{Kind: KindNotFound, Message: "user not found"}
	ErrBookNotFound      = &Error{Kind: KindNotFound, Message: "book not found"}
	ErrNoActiveCheckout  = &Error{Kind: KindNotFound, Message: "book has no active checkout"}
	ErrAlreadyCheckedOut = &Error{Kind: KindConflict, Message: "book is already checked out"}
	ErrBookOnLoan        = &Error{Kind: KindConflict, Message: "book is on loan and cannot be deleted"}
	ErrEmailTaken        = &Error{Kind: KindConflict, Message: "email already in use"}

	ErrInvalidCredentials = &Error{Kind: KindUnauthorized, Message: "invalid email or password"}
	ErrAccountDeactivated = &Error{Kind: KindForbidden, Message: "account is deactivated, contact an administrator"}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized, Message: "authentication required"}
	ErrSessionExpired     = &Error{Kind: KindUnauthorized, Message: "session expired"}
	ErrSessionRevoked     = &Error{Kind: KindUnauthorized, Message: "account deactivated, session cleared"}
	ErrForbidden          = &Error{Kind: KindForbidden, Message: "insufficient permissions"}
	ErrNotBorrower        = &Error{Kind: KindForbidden, Message: "book is checked out by another user"}

	ErrInvalidRole          = &Error{Kind: KindValidation, Message: "role must be one of admin, librarian, member"}
	ErrWrongCurrentPassword = &Error{Kind: KindValidation, Message: "current password is incorrect"}
)

// Validation builds a KindValidation error.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the kind of err. Anything that is not an *Error is internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the caller-facing message of err. Internal errors get a
// generic message so storage details are not leaked.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
