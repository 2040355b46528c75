package models

import (
	"errors"
	"fmt"
)

// StateKind classifies a booking state-machine rejection
type StateKind string

const (
	StateAlreadyConfirmed       StateKind = "already_confirmed"
	StateBookingExpired         StateKind = "booking_expired"
	StateBookingNotCancellable  StateKind = "booking_not_cancellable"
	StateRefundAlreadyProcessed StateKind = "refund_already_processed"
	StateInvalidBookingStatus   StateKind = "invalid_booking_status"
)

// ConflictReason classifies a ConflictError
type ConflictReason string

const (
	ConflictInsufficientSeats ConflictReason = "insufficient_seats"
	ConflictSeatsTaken        ConflictReason = "seats_taken"
	ConflictPNRCollision      ConflictReason = "pnr_collision"
	ConflictBookingMismatch   ConflictReason = "booking_id_mismatch"
	ConflictDuplicatePayment  ConflictReason = "duplicate_payment"
)

// ValidationError is returned for malformed or inconsistent requests.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// NewValidationError builds a ValidationError
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Msg: msg}
}

// NotFoundError is returned when a booking, schedule or payment does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NewNotFoundError builds a NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError is returned when the request collides with current state
// owned by someone else (seats gone, PNR taken, mismatched booking id).
type ConflictError struct {
	Reason ConflictReason
	Msg    string
	Seats  []string `json:",omitempty"`
}

func (e *ConflictError) Error() string {
	return e.Msg
}

// NewConflictError builds a ConflictError
func NewConflictError(reason ConflictReason, msg string) *ConflictError {
	return &ConflictError{Reason: reason, Msg: msg}
}

// StateError is returned when a booking is not in a state that allows the operation.
type StateError struct {
	Kind   StateKind
	Status BookingStatus
	Msg    string
}

func (e *StateError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("%s (status: %s)", e.Kind, e.Status)
}

// NewStateError builds a StateError
func NewStateError(kind StateKind, status BookingStatus, msg string) *StateError {
	return &StateError{Kind: kind, Status: status, Msg: msg}
}

// ExternalDependencyError wraps failures of the gateway, SMS provider or cache,
// and invalid gateway signatures.
type ExternalDependencyError struct {
	Dependency string
	Err        error
}

func (e *ExternalDependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Dependency, e.Err)
}

func (e *ExternalDependencyError) Unwrap() error { return e.Err }

// NewExternalDependencyError builds an ExternalDependencyError
func NewExternalDependencyError(dependency string, err error) *ExternalDependencyError {
	return &ExternalDependencyError{Dependency: dependency, Err: err}
}

// UnexpectedError wraps storage and programming faults.
type UnexpectedError struct {
	Op  string
	Err error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }

// NewUnexpectedError builds an UnexpectedError
func NewUnexpectedError(op string, err error) *UnexpectedError {
	return &UnexpectedError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsConflict reports whether err is a ConflictError
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsConflictReason reports whether err is a ConflictError with the given reason
func IsConflictReason(err error, reason ConflictReason) bool {
	var target *ConflictError
	return errors.As(err, &target) && target.Reason == reason
}

// IsState reports whether err is a StateError
func IsState(err error) bool {
	var target *StateError
	return errors.As(err, &target)
}

// IsStateKind reports whether err is a StateError of the given kind
func IsStateKind(err error, kind StateKind) bool {
	var target *StateError
	return errors.As(err, &target) && target.Kind == kind
}

// IsExternal reports whether err is an ExternalDependencyError
func IsExternal(err error) bool {
	var target *ExternalDependencyError
	return errors.As(err, &target)
}
