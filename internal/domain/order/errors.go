package order

import "errors"

var (
	// ErrInvalidTransition is returned when a stage transition is not allowed
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrDuplicateInstance is returned when starting an order whose instance
	// already exists and has not reached a terminal stage
	ErrDuplicateInstance = errors.New("duplicate order instance")

	// ErrNotFound is returned when no instance exists for an order identifier
	ErrNotFound = errors.New("order instance not found")

	// ErrTerminal is returned when an operation targets an instance that has
	// already reached a terminal stage
	ErrTerminal = errors.New("order instance is terminal")

	// ErrUnexpectedEvent is returned when an inbound event does not match the
	// stage the instance is currently awaiting
	ErrUnexpectedEvent = errors.New("event does not match awaited stage")

	// ErrDispatchFailed is returned when the first stage dispatch for a new
	// order exhausts its retries, leaving the instance failed at creation
	ErrDispatchFailed = errors.New("stage dispatch failed")
)
