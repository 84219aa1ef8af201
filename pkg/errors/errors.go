// Package errors provides the structured failure taxonomy used throughout
// the event-sourcing core: pipeline stages, the outbox publisher, bus
// subscribers, and the saga orchestrator all report failures as a CoreError
// rather than an ad hoc wrapped string, so callers can branch on Kind without
// parsing messages.
package errors

import (
	"errors"
	"fmt"
)

// Kind is the closed taxonomy of failure categories the core can report.
type Kind string

const (
	// KindValidation marks a command rejected at ingress; never persisted.
	KindValidation Kind = "ValidationError"

	// KindConflict marks a domain invariant violated during projection
	// (e.g. insufficient stock). The triggering event is still persisted.
	KindConflict Kind = "ConflictError"

	// KindTransientStore marks store IO that failed but may succeed on retry.
	KindTransientStore Kind = "TransientStoreError"

	// KindFatalStore marks unrecoverable store corruption that should
	// terminate the owning engine.
	KindFatalStore Kind = "FatalStoreError"

	// KindTimeout marks a command waiter, step action, or saga that
	// exceeded its deadline.
	KindTimeout Kind = "Timeout"

	// KindDelivery marks an outbox publisher failing to reach the bus.
	KindDelivery Kind = "DeliveryError"

	// KindHandler marks a subscriber handler or saga action failure.
	KindHandler Kind = "HandlerError"
)

// CoreError is the structured failure record required by the core's error
// handling design: {kind, message, eventId?, sagaId?, stepName?, attempts?}.
// Integration layers render it to HTTP or CLI output; the core itself never
// does.
type CoreError struct {
	Kind     Kind
	Message  string
	EventID  string
	SagaID   string
	StepName string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *CoreError) Unwrap() error {
	return e.Err
}

// WithEvent attaches the originating event id.
func (e *CoreError) WithEvent(eventID string) *CoreError {
	e.EventID = eventID
	return e
}

// WithSaga attaches saga coordinates.
func (e *CoreError) WithSaga(sagaID, stepName string) *CoreError {
	e.SagaID = sagaID
	e.StepName = stepName
	return e
}

// WithAttempts records how many attempts had been made when the error was
// finally surfaced.
func (e *CoreError) WithAttempts(attempts int) *CoreError {
	e.Attempts = attempts
	return e
}

// New creates a CoreError with no underlying cause.
func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Wrap creates a CoreError around an existing error.
func Wrap(kind Kind, message string, err error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Err: err}
}

// Validation builds a KindValidation error.
func Validation(message string) *CoreError {
	return New(KindValidation, message)
}

// Conflict builds a KindConflict error.
func Conflict(message string) *CoreError {
	return New(KindConflict, message)
}

// TransientStore builds a KindTransientStore error wrapping a store failure.
func TransientStore(operation string, err error) *CoreError {
	return Wrap(KindTransientStore, "store operation failed: "+operation, err)
}

// FatalStore builds a KindFatalStore error.
func FatalStore(operation string, err error) *CoreError {
	return Wrap(KindFatalStore, "unrecoverable store failure: "+operation, err)
}

// Timeout builds a KindTimeout error.
func Timeout(operation string) *CoreError {
	return New(KindTimeout, "timed out: "+operation)
}

// Delivery builds a KindDelivery error for outbox publish failures.
func Delivery(err error) *CoreError {
	return Wrap(KindDelivery, "bus delivery failed", err)
}

// Handler builds a KindHandler error for subscriber/saga action failures.
func Handler(err error) *CoreError {
	return Wrap(KindHandler, "handler failed", err)
}

// As extracts a *CoreError from an error chain.
func As(err error) (*CoreError, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) a CoreError, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	ce, ok := As(err)
	if !ok {
		return "", false
	}
	return ce.Kind, true
}

// Is reports whether err is a CoreError of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
