package round

import "errors"

var (
	// ErrRoundNotFound indicates the round does not exist.
	ErrRoundNotFound = errors.New("round not found")
)
