package core

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyAudience: audience resolution yielded zero contacts.
	ErrEmptyAudience = errors.New("empty_audience")
	// ErrInsufficientCredit: balance below the estimated cost; nothing was
	// queued or sent.
	ErrInsufficientCredit = errors.New("insufficient_credit")
	// ErrConsentDenied: the contact opted out globally or never opted in to
	// the channel.
	ErrConsentDenied = errors.New("consent_denied")
	// ErrThreadNotFound: the thread does not exist or belongs to another
	// business.
	ErrThreadNotFound = errors.New("thread_not_found")
	// ErrBusinessNotFound: unknown business id.
	ErrBusinessNotFound = errors.New("business_not_found")
	// ErrNotFound is the generic store miss.
	ErrNotFound = errors.New("not_found")
	// ErrConflict: a uniqueness constraint was violated (duplicate template
	// name, duplicate route).
	ErrConflict = errors.New("conflict")
)

// TransportError wraps an opaque channel adapter failure. Single direct
// sends propagate it to the caller; the batch worker catches it per contact.
type TransportError struct {
	Channel Channel
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure on %s: %v", e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
