package attempt

import "errors"

var (
	// ErrAttemptNotFound indicates the attempt does not exist.
	ErrAttemptNotFound = errors.New("attempt not found")

	// ErrStateViolation indicates an operation invalid for the attempt's
	// current state, including duplicate or out-of-order submissions.
	// Callers must not retry blindly.
	ErrStateViolation = errors.New("operation not valid for attempt state")

	// ErrIntegrityViolation indicates the device-continuity fingerprint
	// presented on resume does not match the one captured at start.
	ErrIntegrityViolation = errors.New("device continuity check failed")

	// ErrFraudSuspicion indicates an answer arrived faster than the
	// minimum answer time. Advisory: the attempt keeps running and the
	// suspicion is recorded for scoring.
	ErrFraudSuspicion = errors.New("answer faster than minimum answer time")

	// ErrTimeoutExceeded indicates the question budget was exhausted and
	// the attempt has been marked timed out.
	ErrTimeoutExceeded = errors.New("question timeout exceeded")
)
