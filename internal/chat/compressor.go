package chat

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/recall/recall-backend/internal/gateway"
	"github.com/recall/recall-backend/internal/repository"
)

// Compression defaults. Compression triggers once a conversation holds more
// than CompressThreshold turns and folds the oldest CompressBatch of them
// into a single summary turn.
const (
	DefaultCompressThreshold = 30
	DefaultCompressBatch     = 20
)

const summaryPrompt = `Create a concise summary of this conversation that can replace the full messages in a model context.

Include only the essential information needed for continuity:
- Key facts established
- Important decisions made
- Current task or question being worked on
- User preferences discovered

Format as a brief narrative of at most 200 words.

Conversation to summarize:
%s

Summary:`

// Compressor bounds history growth by replacing the oldest turns with one
// summary turn. Compression is destructive: once it commits, the original
// turn text is gone and only the summary remains.
type Compressor struct {
	conversations repository.ConversationRepository
	turns         repository.TurnRepository
	gateway       gateway.Gateway
	threshold     int
	batch         int
	logger        *logrus.Logger
}

// NewCompressor creates a compressor with the given thresholds.
func NewCompressor(conversations repository.ConversationRepository, turns repository.TurnRepository, gw gateway.Gateway, threshold, batch int, logger *logrus.Logger) *Compressor {
	if threshold <= 0 {
		threshold = DefaultCompressThreshold
	}
	if batch <= 1 {
		batch = DefaultCompressBatch
	}
	return &Compressor{
		conversations: conversations,
		turns:         turns,
		gateway:       gw,
		threshold:     threshold,
		batch:         batch,
		logger:        logger,
	}
}

// ShouldCompress reports whether the conversation has grown past the
// threshold.
func (c *Compressor) ShouldCompress(ctx context.Context, conversationID uuid.UUID) (bool, error) {
	count, err := c.turns.Count(ctx, conversationID)
	if err != nil {
		return false, err
	}
	return count > c.threshold, nil
}

// Compress folds the oldest batch of turns into a single summary turn. The
// summary insert and the deletions commit as one transaction; if the
// summarization call fails nothing is touched and ErrCompressionAborted is
// returned. Unbounded growth is preferred over silent data loss.
func (c *Compressor) Compress(ctx context.Context, conversation *repository.Conversation) error {
	oldest, err := c.turns.ListOldest(ctx, conversation.ID, c.batch)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCompressionAborted, err)
	}
	if len(oldest) < 2 {
		return nil
	}

	transcript := renderTranscript(oldest)
	summaryText, err := c.gateway.Complete(ctx, []gateway.Message{
		{Role: repository.RoleUser, Content: fmt.Sprintf(summaryPrompt, transcript)},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCompressionAborted, err)
	}
	summaryText = strings.TrimSpace(summaryText)
	if summaryText == "" {
		return fmt.Errorf("%w: empty summary", ErrCompressionAborted)
	}

	last := oldest[len(oldest)-1]
	summary := repository.Turn{
		ConversationID: conversation.ID,
		Role:           repository.RoleModel,
		Content:        sql.NullString{String: repository.SummaryPrefix + summaryText, Valid: true},
		// Keeping the last compressed turn's timestamp preserves the
		// summary's chronological position; seq orders it after any
		// surviving turn with an equal timestamp.
		CreatedAt: last.CreatedAt,
	}

	removeIDs := make([]uuid.UUID, len(oldest))
	for i, turn := range oldest {
		removeIDs[i] = turn.ID
	}

	if err := c.turns.ReplaceWithSummary(ctx, &summary, removeIDs); err != nil {
		return fmt.Errorf("%w: %v", ErrCompressionAborted, err)
	}

	// Convenience copy of the latest summary on the conversation row.
	// Failure here does not undo the compression.
	if err := c.conversations.Update(ctx, conversation.UserID, conversation.ID, map[string]interface{}{
		"summary": summaryText,
	}); err != nil {
		c.logger.WithError(err).WithField("conversation_id", conversation.ID).
			Warn("failed to record summary on conversation")
	}

	c.logger.WithFields(logrus.Fields{
		"conversation_id": conversation.ID,
		"compressed":      len(oldest),
	}).Info("compressed conversation history")

	return nil
}

// renderTranscript flattens turns into a role-labeled transcript for the
// summary prompt.
func renderTranscript(turns []repository.Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		label := "User"
		if turn.Role == repository.RoleModel {
			label = "Model"
		}
		content := turn.Content.String
		if !turn.Content.Valid || content == "" {
			if turn.Attachment.Valid {
				content = fmt.Sprintf("[file: %s]", turn.Attachment.String)
			}
		}
		fmt.Fprintf(&b, "%s: %s\n\n", label, content)
	}
	return b.String()
}
