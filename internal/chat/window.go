package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/recall/recall-backend/internal/gateway"
	"github.com/recall/recall-backend/internal/repository"
)

// DefaultWindowSize is the default number of turns presented to the model.
const DefaultWindowSize = 20

// WindowBuilder selects the bounded slice of history sent to the completion
// backend for a turn. It is a pure read over the stored turn set, which
// already reflects any prior compression (summary turns are ordinary turns
// here).
type WindowBuilder struct {
	turns repository.TurnRepository
	size  int
}

// NewWindowBuilder creates a builder selecting up to size recent turns.
func NewWindowBuilder(turns repository.TurnRepository, size int) *WindowBuilder {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &WindowBuilder{turns: turns, size: size}
}

// Build returns up to size of the newest turns, oldest first. The
// just-persisted turn is appended explicitly if truncation dropped it, so
// the model always sees the message it is being asked to answer.
func (b *WindowBuilder) Build(ctx context.Context, conversationID uuid.UUID, latest *repository.Turn) ([]gateway.Message, error) {
	recent, err := b.turns.ListRecent(ctx, conversationID, b.size)
	if err != nil {
		return nil, err
	}

	messages := make([]gateway.Message, 0, len(recent)+1)
	latestIncluded := false
	for _, turn := range recent {
		if latest != nil && turn.ID == latest.ID {
			latestIncluded = true
		}
		messages = append(messages, messageFromTurn(turn))
	}

	if latest != nil && !latestIncluded {
		messages = append(messages, messageFromTurn(*latest))
	}

	return messages, nil
}

// Size returns the configured window size.
func (b *WindowBuilder) Size() int {
	return b.size
}

// messageFromTurn renders a stored turn for the backend. Attachment-only
// turns are represented by a file marker so their position in the dialogue
// is not lost.
func messageFromTurn(turn repository.Turn) gateway.Message {
	content := turn.Content.String
	if !turn.Content.Valid || content == "" {
		if turn.Attachment.Valid {
			content = fmt.Sprintf("[file: %s]", turn.Attachment.String)
		}
	}
	return gateway.Message{Role: turn.Role, Content: content}
}
