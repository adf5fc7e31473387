package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recall/recall-backend/internal/gateway"
	"github.com/recall/recall-backend/internal/repository"
)

func TestOrchestrator_FirstTurnGeneratesTitle(t *testing.T) {
	gw := &scriptedGateway{replies: []string{
		"The capital of France is Paris.",
		"\"*Capital of France*\"\n",
	}}
	orchestrator, conversations, turns, _ := newTestOrchestrator(gw, 50)
	userID := uuid.New()

	conversation, err := orchestrator.CreateConversation(context.Background(), userID, "")
	require.NoError(t, err)
	assert.Equal(t, "New Chat", conversation.Title)

	modelTurn, err := orchestrator.SendMessage(context.Background(), userID, conversation.ID, "What is the capital of France?", "")
	require.NoError(t, err)
	assert.Equal(t, "The capital of France is Paris.", modelTurn.Content.String)

	history, err := turns.ListByConversation(context.Background(), conversation.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, repository.RoleUser, history[0].Role)
	assert.Equal(t, repository.RoleModel, history[1].Role)

	stored := conversations.get(conversation.ID)
	assert.Equal(t, "Capital of France", stored.Title)
	assert.LessOrEqual(t, utf8.RuneCountInString(stored.Title), MaxTitleLength)
	assert.NotContains(t, stored.Title, "\"")
	assert.NotContains(t, stored.Title, "*")
	assert.NotContains(t, stored.Title, "\n")
}

func TestOrchestrator_TitleFallsBackToMessagePrefix(t *testing.T) {
	// The title call returns only quoting noise, which sanitizes to nothing.
	gw := &scriptedGateway{replies: []string{"hello back", "\"*\"\n"}}
	orchestrator, conversations, _, _ := newTestOrchestrator(gw, 50)
	userID := uuid.New()

	conversation, err := orchestrator.CreateConversation(context.Background(), userID, "")
	require.NoError(t, err)

	long := strings.Repeat("please summarize this very long request ", 4)
	_, err = orchestrator.SendMessage(context.Background(), userID, conversation.ID, long, "")
	require.NoError(t, err)

	stored := conversations.get(conversation.ID)
	assert.NotEqual(t, "New Chat", stored.Title)
	assert.Equal(t, MaxTitleLength, utf8.RuneCountInString(stored.Title))
	assert.True(t, strings.HasPrefix(long, stored.Title))
}

func TestOrchestrator_CompressionScenario(t *testing.T) {
	gw := &scriptedGateway{replies: []string{
		"a fresh reply",
		"a compact summary of the early discussion",
	}}
	orchestrator, conversations, turns, _ := newTestOrchestrator(gw, 50)
	userID := uuid.New()

	conversation := &repository.Conversation{UserID: userID, Title: "old chat", TotalMessages: 31}
	require.NoError(t, conversations.Create(context.Background(), conversation))
	seedTurns(t, turns, conversation.ID, 31)

	_, err := orchestrator.SendMessage(context.Background(), userID, conversation.ID, "one more question", "")
	require.NoError(t, err)

	remaining, err := turns.ListByConversation(context.Background(), conversation.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 14, "33 turns compress to 13 survivors + 1 summary")
	assert.True(t, remaining[0].IsSummary())

	should, err := orchestrator.compressor.ShouldCompress(context.Background(), conversation.ID)
	require.NoError(t, err)
	assert.False(t, should)
}

func TestOrchestrator_RateLimitRejectedBeforeAnyPersistence(t *testing.T) {
	gw := &scriptedGateway{}
	orchestrator, _, turns, limiter := newTestOrchestrator(gw, 50)
	userID := uuid.New()

	conversation, err := orchestrator.CreateConversation(context.Background(), userID, "chat")
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		limiter.Record(userID)
	}

	_, err = orchestrator.SendMessage(context.Background(), userID, conversation.ID, "request 51", "")
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)

	count, _ := turns.Count(context.Background(), conversation.ID)
	assert.Zero(t, count, "rejected request must not persist a turn")
	assert.Empty(t, gw.requests, "rejected request must not reach the backend")
}

func TestOrchestrator_BackendFailureKeepsUserTurn(t *testing.T) {
	gw := &scriptedGateway{err: errors.New("upstream quota exceeded")}
	orchestrator, _, turns, _ := newTestOrchestrator(gw, 50)
	userID := uuid.New()

	conversation, err := orchestrator.CreateConversation(context.Background(), userID, "chat")
	require.NoError(t, err)

	_, err = orchestrator.SendMessage(context.Background(), userID, conversation.ID, "hello?", "")
	var backendErr *gateway.BackendError
	require.ErrorAs(t, err, &backendErr)

	history, _ := turns.ListByConversation(context.Background(), conversation.ID)
	require.Len(t, history, 1, "the user turn stays recorded")
	assert.Equal(t, repository.RoleUser, history[0].Role)
}

func TestOrchestrator_ValidationRejectsEmptyMessage(t *testing.T) {
	orchestrator, _, turns, _ := newTestOrchestrator(&scriptedGateway{}, 50)
	userID := uuid.New()

	conversation, err := orchestrator.CreateConversation(context.Background(), userID, "chat")
	require.NoError(t, err)

	_, err = orchestrator.SendMessage(context.Background(), userID, conversation.ID, "   ", "")
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	count, _ := turns.Count(context.Background(), conversation.ID)
	assert.Zero(t, count)
}

func TestOrchestrator_UnknownConversationIsNotFound(t *testing.T) {
	orchestrator, _, _, _ := newTestOrchestrator(&scriptedGateway{}, 50)

	_, err := orchestrator.SendMessage(context.Background(), uuid.New(), uuid.New(), "hi", "")
	var notFoundErr *NotFoundError
	assert.ErrorAs(t, err, &notFoundErr)
}

func TestOrchestrator_OwnershipEnforced(t *testing.T) {
	orchestrator, _, _, _ := newTestOrchestrator(&scriptedGateway{}, 50)
	owner := uuid.New()
	intruder := uuid.New()

	conversation, err := orchestrator.CreateConversation(context.Background(), owner, "private")
	require.NoError(t, err)

	_, err = orchestrator.GetConversation(context.Background(), intruder, conversation.ID)
	var notFoundErr *NotFoundError
	assert.ErrorAs(t, err, &notFoundErr)
}

func TestOrchestrator_StreamConcatenationMatchesPersistedTurn(t *testing.T) {
	gw := &scriptedGateway{
		fragments: []string{"The ", "capital ", "is ", "Paris."},
		replies:   []string{"France Capital Question"},
	}
	orchestrator, _, turns, _ := newTestOrchestrator(gw, 50)
	userID := uuid.New()

	conversation, err := orchestrator.CreateConversation(context.Background(), userID, "chat")
	require.NoError(t, err)

	stream, err := orchestrator.SendMessageStream(context.Background(), userID, conversation.ID, "What is the capital of France?", "")
	require.NoError(t, err)

	var received strings.Builder
	for fragment := range stream {
		require.NoError(t, fragment.Err)
		received.WriteString(fragment.Text)
	}

	// The stream channel closes only after the model turn is persisted.
	history, err := turns.ListByConversation(context.Background(), conversation.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "The capital is Paris.", received.String())
	assert.Equal(t, received.String(), history[1].Content.String)
	assert.Equal(t, repository.RoleModel, history[1].Role)
}

func TestOrchestrator_StreamErrorPersistsPartialOutput(t *testing.T) {
	gw := &scriptedGateway{
		fragments: []string{"partial ", "output "},
		streamErr: errors.New("connection reset"),
	}
	orchestrator, conversations, turns, _ := newTestOrchestrator(gw, 50)
	userID := uuid.New()

	conversation := &repository.Conversation{UserID: userID, Title: "chat", TotalMessages: 2}
	require.NoError(t, conversations.Create(context.Background(), conversation))

	stream, err := orchestrator.SendMessageStream(context.Background(), userID, conversation.ID, "keep going", "")
	require.NoError(t, err)

	var received strings.Builder
	var sawError bool
	for fragment := range stream {
		if fragment.Err != nil {
			sawError = true
			continue
		}
		received.WriteString(fragment.Text)
	}
	assert.True(t, sawError, "the terminal error fragment must reach the caller")

	history, err := turns.ListByConversation(context.Background(), conversation.ID)
	require.NoError(t, err)
	require.Len(t, history, 2, "user turn plus the partial model turn")
	assert.Equal(t, "partial output ", history[1].Content.String)
	assert.Equal(t, received.String(), history[1].Content.String)
}

func TestOrchestrator_StreamFailingImmediatelyPersistsNoModelTurn(t *testing.T) {
	gw := &scriptedGateway{streamErr: errors.New("bad gateway")}
	orchestrator, conversations, turns, _ := newTestOrchestrator(gw, 50)
	userID := uuid.New()

	conversation := &repository.Conversation{UserID: userID, Title: "chat", TotalMessages: 2}
	require.NoError(t, conversations.Create(context.Background(), conversation))

	stream, err := orchestrator.SendMessageStream(context.Background(), userID, conversation.ID, "hello", "")
	require.NoError(t, err)

	for range stream {
	}

	history, _ := turns.ListByConversation(context.Background(), conversation.ID)
	require.Len(t, history, 1, "only the user turn; nothing was generated")
	assert.Equal(t, repository.RoleUser, history[0].Role)
}

// dripGateway streams its fragments one at a time and honors context
// cancellation between sends, like a real backend connection.
type dripGateway struct {
	reply     string
	fragments []string
}

func (g *dripGateway) Complete(_ context.Context, _ []gateway.Message) (string, error) {
	return g.reply, nil
}

func (g *dripGateway) CompleteStream(ctx context.Context, _ []gateway.Message) (<-chan gateway.Fragment, error) {
	out := make(chan gateway.Fragment)
	go func() {
		defer close(out)
		for _, text := range g.fragments {
			select {
			case out <- gateway.Fragment{Text: text}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func TestOrchestrator_DisconnectMidStreamPersistsPartialAndReleasesLock(t *testing.T) {
	gw := &dripGateway{
		reply:     "follow-up reply",
		fragments: []string{"partial ", "tail"},
	}
	orchestrator, conversations, turns, _ := newTestOrchestrator(gw, 50)
	userID := uuid.New()

	conversation := &repository.Conversation{UserID: userID, Title: "chat", TotalMessages: 2}
	require.NoError(t, conversations.Create(context.Background(), conversation))

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := orchestrator.SendMessageStream(ctx, userID, conversation.ID, "keep going", "")
	require.NoError(t, err)

	first := <-stream
	require.NoError(t, first.Err)
	assert.Equal(t, "partial ", first.Text)

	// The caller goes away after one fragment; cancel then drain, as the
	// transport layer does on a failed write.
	cancel()
	for range stream {
	}

	history, err := turns.ListByConversation(context.Background(), conversation.ID)
	require.NoError(t, err)
	require.Len(t, history, 2, "user turn plus the partially streamed model turn")
	assert.Equal(t, repository.RoleModel, history[1].Role)
	assert.True(t, strings.HasPrefix(history[1].Content.String, "partial "),
		"generated text up to the disconnect must be committed")

	// The conversation must not stay locked after the aborted stream.
	done := make(chan error, 1)
	go func() {
		_, sendErr := orchestrator.SendMessage(context.Background(), userID, conversation.ID, "still there?", "")
		done <- sendErr
	}()
	select {
	case sendErr := <-done:
		require.NoError(t, sendErr)
	case <-time.After(2 * time.Second):
		t.Fatal("conversation lock was not released after the disconnect")
	}

	history, err = turns.ListByConversation(context.Background(), conversation.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestOrchestrator_RegenerateReplacesLastModelTurn(t *testing.T) {
	gw := &scriptedGateway{replies: []string{"first answer", "a title", "second answer"}}
	orchestrator, _, turns, _ := newTestOrchestrator(gw, 50)
	userID := uuid.New()

	conversation, err := orchestrator.CreateConversation(context.Background(), userID, "chat")
	require.NoError(t, err)

	_, err = orchestrator.SendMessage(context.Background(), userID, conversation.ID, "question", "")
	require.NoError(t, err)

	regenerated, err := orchestrator.RegenerateLast(context.Background(), userID, conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, "second answer", regenerated.Content.String)

	history, _ := turns.ListByConversation(context.Background(), conversation.ID)
	require.Len(t, history, 2, "old reply deleted, new reply appended")
	assert.Equal(t, "question", history[0].Content.String)
	assert.Equal(t, "second answer", history[1].Content.String)
}

func TestOrchestrator_RegenerateOnEmptyConversationFails(t *testing.T) {
	orchestrator, _, _, _ := newTestOrchestrator(&scriptedGateway{}, 50)
	userID := uuid.New()

	conversation, err := orchestrator.CreateConversation(context.Background(), userID, "chat")
	require.NoError(t, err)

	_, err = orchestrator.RegenerateLast(context.Background(), userID, conversation.ID)
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestOrchestrator_RenameTruncatesTitle(t *testing.T) {
	orchestrator, conversations, _, _ := newTestOrchestrator(&scriptedGateway{}, 50)
	userID := uuid.New()

	conversation, err := orchestrator.CreateConversation(context.Background(), userID, "chat")
	require.NoError(t, err)

	long := strings.Repeat("x", 200)
	require.NoError(t, orchestrator.RenameConversation(context.Background(), userID, conversation.ID, long))

	stored := conversations.get(conversation.ID)
	assert.Len(t, stored.Title, MaxTitleLength)
}

func TestOrchestrator_ContextReportCountsWindowAndTotal(t *testing.T) {
	orchestrator, conversations, turns, _ := newTestOrchestrator(&scriptedGateway{}, 50)
	userID := uuid.New()

	conversation := &repository.Conversation{UserID: userID, Title: "chat"}
	require.NoError(t, conversations.Create(context.Background(), conversation))
	seedTurns(t, turns, conversation.ID, 27)

	report, err := orchestrator.BuildContextReport(context.Background(), userID, conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, 27, report.TotalTurns)
	assert.Equal(t, DefaultWindowSize, report.WindowTurns)
	assert.Len(t, report.Window, DefaultWindowSize)
}

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"quotes stripped", `"Paris Facts"`, "Paris Facts"},
		{"markdown stripped", "*Bold* `code` #tag _sub_", "Bold code tag sub"},
		{"newlines collapsed", "Line one\nLine two", "Line one Line two"},
		{"whitespace collapsed", "  spaced    out  ", "spaced out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTitle(tt.input))
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncateRunes("héllo", 10))
	assert.Equal(t, "hél", truncateRunes("héllo", 3))
	assert.Equal(t, "", truncateRunes("", 5))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 5, estimateTokens("12345678901234567890"))
}
