package utils

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across controllers and the sequence worker.
var (
	// ErrNotFound signals that a referenced lead/template/sequence/message
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentUpdate signals that a run state transition lost a race
	// against another tick worker. The loser must skip the run on this
	// pass; it must never retry the send.
	ErrConcurrentUpdate = errors.New("concurrent update conflict")
)

// MissingContactInfoError is returned when a lead lacks the contact field
// required by the requested channel. No message is created.
type MissingContactInfoError struct {
	Channel string
	Field   string
}

func (e *MissingContactInfoError) Error() string {
	return fmt.Sprintf("lead has no %s, cannot send via %s", e.Field, e.Channel)
}

// IsMissingContactInfo reports whether err is a MissingContactInfoError.
func IsMissingContactInfo(err error) bool {
	var target *MissingContactInfoError
	return errors.As(err, &target)
}

// TransportFailureError wraps an error from a Sender capability. A failed
// message record exists by the time this error is returned; the failure is
// recorded, not retried.
type TransportFailureError struct {
	Channel string
	Err     error
}

func (e *TransportFailureError) Error() string {
	return fmt.Sprintf("%s transport failure: %v", e.Channel, e.Err)
}

func (e *TransportFailureError) Unwrap() error { return e.Err }

// IsTransportFailure reports whether err is a TransportFailureError.
func IsTransportFailure(err error) bool {
	var target *TransportFailureError
	return errors.As(err, &target)
}
