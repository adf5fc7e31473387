package gateway

import (
	"context"
	"strings"
)

// StubGateway is a canned-response Gateway for test mode and unit tests.
// It is selected by dependency injection at wiring time; nothing in the
// engine branches on a test flag.
type StubGateway struct {
	// Reply is returned by Complete. Empty means a fixed default.
	Reply string
	// Fragments are yielded by CompleteStream. Empty means Reply split
	// into words.
	Fragments []string
	// Err, when set, makes Complete fail and CompleteStream yield a
	// terminal error fragment after any configured Fragments.
	Err error
}

const stubReply = "This is a canned response; no completion backend is configured."

// Complete returns the canned reply
func (s *StubGateway) Complete(ctx context.Context, messages []Message) (string, error) {
	if s.Err != nil {
		return "", &BackendError{Backend: "stub", Err: s.Err}
	}
	if s.Reply != "" {
		return s.Reply, nil
	}
	return stubReply, nil
}

// CompleteStream yields the canned fragments and closes
func (s *StubGateway) CompleteStream(ctx context.Context, messages []Message) (<-chan Fragment, error) {
	out := make(chan Fragment)

	fragments := s.Fragments
	if len(fragments) == 0 {
		reply := s.Reply
		if reply == "" {
			reply = stubReply
		}
		for _, word := range strings.SplitAfter(reply, " ") {
			fragments = append(fragments, word)
		}
	}

	go func() {
		defer close(out)
		for _, text := range fragments {
			select {
			case out <- Fragment{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if s.Err != nil {
			select {
			case out <- Fragment{Err: &BackendError{Backend: "stub", Err: s.Err}}:
			case <-ctx.Done():
			}
		}
	}()

	return out, nil
}
