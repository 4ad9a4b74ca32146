package intercept

import "errors"

var (
	// ErrUnknownFlow is returned when a decision references a flow id
	// that is not pending (never submitted, already decided, or expired).
	ErrUnknownFlow = errors.New("unknown flow")

	// ErrInvalidDecision is returned for a malformed decision: an
	// unrecognized kind, or a modify whose replacement URL does not parse.
	ErrInvalidDecision = errors.New("invalid decision")
)
