package domain

import "errors"

// Sentinel errors used throughout the application.
// HTTP handlers translate these to status codes via a single mapError function.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict: idempotency key already exists")
	ErrInvalidType        = errors.New("invalid notification type")
	ErrInvalidChannel     = errors.New("invalid channel: must be push, email, in_app, or sms")
	ErrInvalidPriority    = errors.New("invalid priority: must be low, normal, high, or critical")
	ErrInvalidRecipient   = errors.New("recipient id must not be empty")
	ErrInvalidContent     = errors.New("title must be 1-256 characters and body at most 4096")
	ErrNoChannels         = errors.New("at least one channel is required")
	ErrInvalidMaxAttempts = errors.New("max attempts must be between 0 and 10")
	ErrNotPending         = errors.New("queue item is not pending")
	ErrWorkerStopped      = errors.New("worker is stopped")
)
