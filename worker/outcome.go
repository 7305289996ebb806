package worker

// Outcome classifies the result of a single message execution. The
// processor maps every outcome back into a store operation — complete,
// fail with backoff, fail permanently, or release untouched.
type Outcome int

const (
	// OutcomeSuccess marks the message completed.
	OutcomeSuccess Outcome = iota

	// OutcomeRetry records a failure with a backoff delay; the message
	// returns to pending unless its attempt budget is exhausted.
	OutcomeRetry

	// OutcomeFailure records a non-retryable failure. The message still
	// consumes an attempt so repeated permanent failures dead-letter.
	OutcomeFailure

	// OutcomeSkip releases the message without consuming an attempt.
	// Used when no handler is registered for the message kind, or when
	// execution was cancelled by shutdown rather than a handler failure.
	OutcomeSkip
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeRetry:
		return "RETRY"
	case OutcomeFailure:
		return "FAILURE"
	case OutcomeSkip:
		return "SKIP"
	default:
		return "UNKNOWN"
	}
}
