package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrRoleMismatch         = errors.New("registration has the wrong role for this operation")
	ErrOperationInFlight    = errors.New("another operation for this passenger is in flight")
	ErrNoTripSelected       = errors.New("no trip selected")
	ErrNotUpcoming          = errors.New("registration is not for an upcoming trip")
	ErrSuperseded           = errors.New("fetch superseded by a trip change")
)

// ParseError reports a raw record that cannot take part in grouping.
type ParseError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("record %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("record %d: %s: %s", e.Index, e.Field, e.Reason)
}

type CrossTripError struct {
	Passenger TripKey
	Driver    TripKey
}

func (e *CrossTripError) Error() string {
	return fmt.Sprintf("passenger trip %s does not match driver trip %s", e.Passenger, e.Driver)
}

type CapacityExceededError struct {
	DriverExternalID string
	Capacity         int
	Assigned         int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("driver %s has no seats left (%d of %d taken)", e.DriverExternalID, e.Assigned, e.Capacity)
}

// TransportError wraps a failed boundary call.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// AuthorizationError is a credential rejection, distinct from a transport failure.
type AuthorizationError struct {
	Username string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("credentials rejected for %q", e.Username)
}
