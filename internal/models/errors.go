package models

import "errors"

// Sentinel errors checked with errors.Is across package boundaries, one per
// error kind named in §7.
var (
	// ErrValidation: malformed request (missing name, non-object input,
	// output set on a task that is not completed). Step names are not
	// validated.
	ErrValidation = errors.New("validation")

	// ErrInvalidTransition: caller attempted a non-monotone status update.
	ErrInvalidTransition = errors.New("invalid-transition")

	// ErrTaskNotFound: no task with the given id.
	ErrTaskNotFound = errors.New("task-not-found")

	// ErrTerminalMismatch: late arrival of a conflicting terminal update.
	ErrTerminalMismatch = errors.New("terminal-mismatch")

	// ErrNoReadyConsumer: no ready consumer is registered for a topic.
	ErrNoReadyConsumer = errors.New("no-ready-consumer")

	// ErrConsumerNotFound: remove or a readiness update referenced an
	// unknown consumer.
	ErrConsumerNotFound = errors.New("consumer-not-found")
)
