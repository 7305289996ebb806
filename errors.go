package steadyq

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("steadyq: no store configured")
	ErrStoreClosed = errors.New("steadyq: store closed")

	// Not found errors.
	ErrMessageNotFound    = errors.New("steadyq: message not found")
	ErrDeadLetterNotFound = errors.New("steadyq: dead letter entry not found")

	// Conflict errors.
	ErrMessageAlreadyExists = errors.New("steadyq: message already exists")

	// Admission errors.
	ErrRateLimited = errors.New("steadyq: rate limit exceeded")

	// State errors.
	ErrInvalidState        = errors.New("steadyq: invalid state transition")
	ErrNotProcessing       = errors.New("steadyq: message is not in processing state")
	ErrAttemptsExhausted   = errors.New("steadyq: retry attempts exhausted")
	ErrProcessorNotRunning = errors.New("steadyq: processor is not running")

	// Handler classification sentinels. Handlers may wrap these to force
	// a specific outcome regardless of the retry policy's own taxonomy.
	ErrRetry     = errors.New("steadyq: retryable handler error")
	ErrPermanent = errors.New("steadyq: permanent handler error")
)
