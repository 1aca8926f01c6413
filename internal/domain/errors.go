package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
)

// ErrorKind classifies failures of selection and access operations.
type ErrorKind string

const (
	KindNotAuthenticated    ErrorKind = "not_authenticated"
	KindRoleNotAllowed      ErrorKind = "role_not_allowed"
	KindUnknownOffering     ErrorKind = "unknown_offering"
	KindExceedsAvailability ErrorKind = "exceeds_availability"
	KindExceedsLimit        ErrorKind = "exceeds_limit"
	KindEmptySelection      ErrorKind = "empty_selection"
	KindInvalidQuantity     ErrorKind = "invalid_quantity"
)

// Kind sentinels, for errors.Is.
var (
	ErrNotAuthenticated    = &Error{Kind: KindNotAuthenticated}
	ErrRoleNotAllowed      = &Error{Kind: KindRoleNotAllowed}
	ErrUnknownOffering     = &Error{Kind: KindUnknownOffering}
	ErrExceedsAvailability = &Error{Kind: KindExceedsAvailability}
	ErrExceedsLimit        = &Error{Kind: KindExceedsLimit}
	ErrEmptySelection      = &Error{Kind: KindEmptySelection}
	ErrInvalidQuantity     = &Error{Kind: KindInvalidQuantity}
)

// Error is a user-facing failure. OfferingID names the offending offering
// when there is one.
type Error struct {
	Kind       ErrorKind
	OfferingID string
	Requested  int
	Available  int
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindExceedsAvailability, KindExceedsLimit:
		return fmt.Sprintf("%s: offering %q requested %d, allowed %d", e.Kind, e.OfferingID, e.Requested, e.Available)
	case KindUnknownOffering, KindInvalidQuantity:
		if e.OfferingID != "" {
			return fmt.Sprintf("%s: offering %q", e.Kind, e.OfferingID)
		}
	}
	return string(e.Kind)
}

// Is matches on Kind so callers can test against the sentinels above.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the ErrorKind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
