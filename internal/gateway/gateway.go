// Package gateway abstracts the generative completion backend. The engine
// depends only on the two calls below and on BackendError; transport,
// authentication, and model selection live behind the implementations.
package gateway

import (
	"context"
	"fmt"
)

// Message is one entry of the ordered context sent to the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Fragment is one piece of a streamed completion. A fragment with a non-nil
// Err is terminal: the channel is closed right after it and the stream cannot
// be restarted.
type Fragment struct {
	Text string
	Err  error
}

// Gateway is the completion backend contract. Neither call retries
// internally; retry policy, if any ever exists, belongs to the caller.
type Gateway interface {
	// Complete performs a synchronous completion.
	Complete(ctx context.Context, messages []Message) (string, error)

	// CompleteStream performs a streaming completion. The returned channel
	// is finite: it is closed after the final fragment, which carries
	// either the last text or a terminal error.
	CompleteStream(ctx context.Context, messages []Message) (<-chan Fragment, error)
}

// BackendError wraps any transport, quota, or model-side failure of the
// completion backend so callers can tell it apart from their own errors.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("completion backend %s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
