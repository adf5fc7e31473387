package chat

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/recall/recall-backend/internal/gateway"
	"github.com/recall/recall-backend/internal/repository"
)

// MaxTitleLength bounds conversation titles, generated or user-supplied.
const MaxTitleLength = 60

const titlePrompt = `Generate a short 4-6 word title for a conversation that starts with this message. Reply with the title only, no quotes or punctuation around it:

%s`

// Orchestrator coordinates a full turn: validate, rate-check, persist the
// user turn, build the context window, call the completion backend, persist
// the reply, then title and compress as needed. Per-conversation work is
// serialized through a keyed mutex so a double-submit cannot interleave an
// append with an in-flight compression.
type Orchestrator struct {
	conversations repository.ConversationRepository
	turns         repository.TurnRepository
	gateway       gateway.Gateway
	window        *WindowBuilder
	limiter       *RateLimiter
	compressor    *Compressor
	logger        *logrus.Logger

	locks sync.Map // conversation ID -> *sync.Mutex
}

// NewOrchestrator wires the turn orchestrator.
func NewOrchestrator(
	conversations repository.ConversationRepository,
	turns repository.TurnRepository,
	gw gateway.Gateway,
	window *WindowBuilder,
	limiter *RateLimiter,
	compressor *Compressor,
	logger *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		conversations: conversations,
		turns:         turns,
		gateway:       gw,
		window:        window,
		limiter:       limiter,
		compressor:    compressor,
		logger:        logger,
	}
}

// CreateConversation creates a conversation for the user.
func (o *Orchestrator) CreateConversation(ctx context.Context, userID uuid.UUID, title string) (*repository.Conversation, error) {
	title = truncateRunes(strings.TrimSpace(title), MaxTitleLength)
	if title == "" {
		title = "New Chat"
	}

	conversation := &repository.Conversation{
		UserID: userID,
		Title:  title,
	}
	if err := o.conversations.Create(ctx, conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

// ListConversations returns the user's conversations newest-first,
// optionally filtered by a title substring.
func (o *Orchestrator) ListConversations(ctx context.Context, userID uuid.UUID, titleQuery string) ([]*repository.Conversation, error) {
	return o.conversations.List(ctx, userID, titleQuery)
}

// GetConversation returns one conversation, enforcing ownership.
func (o *Orchestrator) GetConversation(ctx context.Context, userID, conversationID uuid.UUID) (*repository.Conversation, error) {
	conversation, err := o.conversations.Get(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, &NotFoundError{Resource: "conversation", ID: conversationID.String()}
	}
	return conversation, nil
}

// ListTurns returns every turn of the conversation, oldest first.
func (o *Orchestrator) ListTurns(ctx context.Context, userID, conversationID uuid.UUID) ([]repository.Turn, error) {
	if _, err := o.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return o.turns.ListByConversation(ctx, conversationID)
}

// RenameConversation sets a new title, truncated to the title bound.
func (o *Orchestrator) RenameConversation(ctx context.Context, userID, conversationID uuid.UUID, title string) error {
	title = truncateRunes(strings.TrimSpace(title), MaxTitleLength)
	if title == "" {
		return &ValidationError{Reason: "title is required"}
	}
	if _, err := o.GetConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	return o.conversations.Update(ctx, userID, conversationID, map[string]interface{}{
		"title": title,
	})
}

// DeleteConversation deletes the conversation and, via the schema cascade,
// all of its turns.
func (o *Orchestrator) DeleteConversation(ctx context.Context, userID, conversationID uuid.UUID) error {
	if _, err := o.GetConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	return o.conversations.Delete(ctx, userID, conversationID)
}

// ContextReport describes what would be sent to the backend right now,
// against what is stored. Diagnostic read, no side effects.
type ContextReport struct {
	TotalTurns  int               `json:"total_turns"`
	WindowTurns int               `json:"window_turns"`
	Window      []gateway.Message `json:"window"`
}

// BuildContextReport reports the stored turn count and the current window.
func (o *Orchestrator) BuildContextReport(ctx context.Context, userID, conversationID uuid.UUID) (*ContextReport, error) {
	if _, err := o.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	total, err := o.turns.Count(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	latest, err := o.turns.Last(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	window, err := o.window.Build(ctx, conversationID, latest)
	if err != nil {
		return nil, err
	}
	return &ContextReport{
		TotalTurns:  total,
		WindowTurns: len(window),
		Window:      window,
	}, nil
}

// SendMessage runs one synchronous turn and returns the persisted model
// turn. A backend failure after the user turn is persisted does not roll the
// user turn back; the message stays recorded even though the reply failed.
func (o *Orchestrator) SendMessage(ctx context.Context, userID, conversationID uuid.UUID, content, attachment string) (*repository.Turn, error) {
	conversation, err := o.validateTurn(ctx, userID, conversationID, content, attachment)
	if err != nil {
		return nil, err
	}

	mu := o.lock(conversationID)
	mu.Lock()
	defer mu.Unlock()

	o.limiter.Record(userID)

	userTurn, err := o.persistTurn(ctx, conversation, repository.RoleUser, content, attachment)
	if err != nil {
		return nil, err
	}

	window, err := o.window.Build(ctx, conversation.ID, userTurn)
	if err != nil {
		return nil, err
	}

	reply, err := o.gateway.Complete(ctx, window)
	if err != nil {
		return nil, err
	}

	modelTurn, err := o.persistTurn(ctx, conversation, repository.RoleModel, reply, "")
	if err != nil {
		return nil, err
	}

	o.finishTurn(ctx, conversation, content)

	return modelTurn, nil
}

// SendMessageStream runs one streaming turn. The user turn is persisted
// before streaming begins; fragments are relayed to the returned channel as
// produced, and the concatenation is persisted as the model turn when the
// stream ends. A mid-stream error or caller disconnect still commits the
// partial text.
func (o *Orchestrator) SendMessageStream(ctx context.Context, userID, conversationID uuid.UUID, content, attachment string) (<-chan gateway.Fragment, error) {
	conversation, err := o.validateTurn(ctx, userID, conversationID, content, attachment)
	if err != nil {
		return nil, err
	}

	mu := o.lock(conversationID)
	mu.Lock()

	o.limiter.Record(userID)

	userTurn, err := o.persistTurn(ctx, conversation, repository.RoleUser, content, attachment)
	if err != nil {
		mu.Unlock()
		return nil, err
	}

	window, err := o.window.Build(ctx, conversation.ID, userTurn)
	if err != nil {
		mu.Unlock()
		return nil, err
	}

	stream, err := o.gateway.CompleteStream(ctx, window)
	if err != nil {
		mu.Unlock()
		return nil, err
	}

	out := make(chan gateway.Fragment)
	go o.relayStream(ctx, mu, conversation, content, stream, out)
	return out, nil
}

// relayStream forwards fragments to the caller while accumulating them, then
// persists the accumulation. It holds the conversation lock until the final
// persist so a concurrent turn cannot interleave.
func (o *Orchestrator) relayStream(ctx context.Context, mu *sync.Mutex, conversation *repository.Conversation, userMessage string, stream <-chan gateway.Fragment, out chan<- gateway.Fragment) {
	defer mu.Unlock()
	defer close(out)

	var accumulated strings.Builder
	var streamErr error
	callerGone := false

	for fragment := range stream {
		if fragment.Err != nil {
			streamErr = fragment.Err
			if !callerGone {
				select {
				case out <- fragment:
				case <-ctx.Done():
				}
			}
			break
		}

		accumulated.WriteString(fragment.Text)

		select {
		case out <- fragment:
		case <-ctx.Done():
			// Caller disconnected: stop consuming, but keep what was
			// produced so far.
			callerGone = true
			streamErr = ctx.Err()
		}
		if callerGone {
			break
		}
	}

	if accumulated.Len() == 0 && streamErr != nil {
		o.logger.WithError(streamErr).WithField("conversation_id", conversation.ID).
			Warn("stream failed before any output; nothing to persist")
		return
	}

	// The request context may already be canceled; the model turn is
	// persisted on its own deadline so generated text is not lost.
	persistCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := o.persistTurn(persistCtx, conversation, repository.RoleModel, accumulated.String(), ""); err != nil {
		o.logger.WithError(err).WithField("conversation_id", conversation.ID).
			Error("failed to persist streamed model turn")
		return
	}

	if streamErr != nil {
		o.logger.WithError(streamErr).WithField("conversation_id", conversation.ID).
			Warn("stream ended early; partial reply persisted")
	}

	o.finishTurn(persistCtx, conversation, userMessage)
}

// RegenerateLast deletes the newest model turn, if any, and recomputes the
// reply from the remaining history.
func (o *Orchestrator) RegenerateLast(ctx context.Context, userID, conversationID uuid.UUID) (*repository.Turn, error) {
	conversation, err := o.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if !o.limiter.Allow(userID) {
		return nil, &RateLimitError{Ceiling: o.limiter.Ceiling()}
	}

	mu := o.lock(conversationID)
	mu.Lock()
	defer mu.Unlock()

	o.limiter.Record(userID)

	last, err := o.turns.Last(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, &ValidationError{Reason: "conversation has no turns"}
	}
	if last.Role == repository.RoleModel {
		if err := o.turns.Delete(ctx, last.ID); err != nil {
			return nil, err
		}
		last, err = o.turns.Last(ctx, conversationID)
		if err != nil {
			return nil, err
		}
	}
	if last == nil {
		return nil, &ValidationError{Reason: "no user turn to answer"}
	}

	window, err := o.window.Build(ctx, conversationID, last)
	if err != nil {
		return nil, err
	}

	reply, err := o.gateway.Complete(ctx, window)
	if err != nil {
		return nil, err
	}

	return o.persistTurn(ctx, conversation, repository.RoleModel, reply, "")
}

// validateTurn runs every pre-mutation check: input shape, conversation
// ownership, then the rate ceiling. Nothing is persisted before all three
// pass, and the limiter is consulted before the backend is ever called.
func (o *Orchestrator) validateTurn(ctx context.Context, userID, conversationID uuid.UUID, content, attachment string) (*repository.Conversation, error) {
	if strings.TrimSpace(content) == "" && attachment == "" {
		return nil, &ValidationError{Reason: "message is required"}
	}
	if conversationID == uuid.Nil {
		return nil, &ValidationError{Reason: "conversation id is required"}
	}

	conversation, err := o.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	if !o.limiter.Allow(userID) {
		return nil, &RateLimitError{Ceiling: o.limiter.Ceiling()}
	}

	return conversation, nil
}

// persistTurn stores a turn and bumps the conversation's approximate usage
// counters. Counter failures are logged, not surfaced: the bookkeeping is an
// estimate, not a ledger.
func (o *Orchestrator) persistTurn(ctx context.Context, conversation *repository.Conversation, role, content, attachment string) (*repository.Turn, error) {
	turn := &repository.Turn{
		ConversationID: conversation.ID,
		Role:           role,
		Content:        sql.NullString{String: content, Valid: content != ""},
		Attachment:     sql.NullString{String: attachment, Valid: attachment != ""},
	}
	if err := o.turns.Create(ctx, turn); err != nil {
		return nil, err
	}

	if err := o.conversations.AddUsage(ctx, conversation.ID, 1, estimateTokens(content)); err != nil {
		o.logger.WithError(err).WithField("conversation_id", conversation.ID).
			Warn("failed to update usage counters")
	}

	return turn, nil
}

// finishTurn runs the best-effort tail of a turn: first-turn titling, then
// inline compression. Failures here never fail the turn itself.
func (o *Orchestrator) finishTurn(ctx context.Context, conversation *repository.Conversation, userMessage string) {
	if conversation.TotalMessages == 0 {
		o.generateTitle(ctx, conversation, userMessage)
	}

	should, err := o.compressor.ShouldCompress(ctx, conversation.ID)
	if err != nil {
		o.logger.WithError(err).WithField("conversation_id", conversation.ID).
			Warn("compression check failed")
		return
	}
	if !should {
		return
	}
	if err := o.compressor.Compress(ctx, conversation); err != nil {
		o.logger.WithError(err).WithField("conversation_id", conversation.ID).
			Warn("compression skipped this cycle")
	}
}

// generateTitle asks the backend for a short title and falls back to a
// truncated echo of the user's message if that fails.
func (o *Orchestrator) generateTitle(ctx context.Context, conversation *repository.Conversation, userMessage string) {
	title := ""
	generated, err := o.gateway.Complete(ctx, []gateway.Message{
		{Role: repository.RoleUser, Content: fmt.Sprintf(titlePrompt, userMessage)},
	})
	if err != nil {
		o.logger.WithError(err).WithField("conversation_id", conversation.ID).
			Debug("title generation failed; falling back to message prefix")
	} else {
		title = sanitizeTitle(generated)
	}
	if title == "" {
		title = sanitizeTitle(userMessage)
	}
	title = truncateRunes(title, MaxTitleLength)
	if title == "" {
		return
	}

	if err := o.conversations.Update(ctx, conversation.UserID, conversation.ID, map[string]interface{}{
		"title": title,
	}); err != nil {
		o.logger.WithError(err).WithField("conversation_id", conversation.ID).
			Warn("failed to persist generated title")
	}
}

// lock returns the mutex serializing work on one conversation.
func (o *Orchestrator) lock(conversationID uuid.UUID) *sync.Mutex {
	mu, _ := o.locks.LoadOrStore(conversationID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// sanitizeTitle strips quoting and markdown artifacts the model tends to
// wrap titles in, and collapses any newlines.
func sanitizeTitle(s string) string {
	s = strings.NewReplacer(
		"\"", "", "'", "", "*", "", "`", "", "#", "", "_", "",
		"\n", " ", "\r", " ",
	).Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes truncates to at most n runes without splitting one.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// estimateTokens approximates token usage at four characters per token. It
// is a running estimate only and is never reconciled against compression.
func estimateTokens(s string) int {
	return len(s) / 4
}
