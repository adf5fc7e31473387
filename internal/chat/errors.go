package chat

import (
	"errors"
	"fmt"
)

// ErrCompressionAborted marks a compression cycle that stopped before any
// turns were touched, usually because summarization failed. It is logged and
// swallowed; history simply stays uncompressed until the next qualifying turn.
var ErrCompressionAborted = errors.New("compression aborted")

// ValidationError rejects malformed input before any state is mutated.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// NotFoundError rejects requests for a conversation that does not exist or
// is not owned by the caller. The two cases are deliberately not
// distinguishable from the outside.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// RateLimitError rejects a request once the caller's daily ceiling is
// reached. Terminal for the request; there is no retry.
type RateLimitError struct {
	Ceiling int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("daily request limit of %d reached", e.Ceiling)
}
