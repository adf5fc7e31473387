package chat

// Shared in-memory fakes for the engine tests: repositories backed by maps
// and slices, and a scripted gateway with canned replies.

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/recall/recall-backend/internal/gateway"
	"github.com/recall/recall-backend/internal/repository"
)

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

type memoryConversationRepo struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*repository.Conversation
}

func newMemoryConversationRepo() *memoryConversationRepo {
	return &memoryConversationRepo{conversations: make(map[uuid.UUID]*repository.Conversation)}
}

func (r *memoryConversationRepo) Create(_ context.Context, conversation *repository.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conversation.ID == uuid.Nil {
		conversation.ID = uuid.New()
	}
	now := time.Now()
	conversation.CreatedAt = now
	conversation.UpdatedAt = now
	stored := *conversation
	r.conversations[conversation.ID] = &stored
	return nil
}

func (r *memoryConversationRepo) Get(_ context.Context, userID, id uuid.UUID) (*repository.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation, ok := r.conversations[id]
	if !ok || conversation.UserID != userID {
		return nil, nil
	}
	copied := *conversation
	return &copied, nil
}

func (r *memoryConversationRepo) List(_ context.Context, userID uuid.UUID, titleQuery string) ([]*repository.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*repository.Conversation
	for _, conversation := range r.conversations {
		if conversation.UserID != userID {
			continue
		}
		if titleQuery != "" && !containsFold(conversation.Title, titleQuery) {
			continue
		}
		copied := *conversation
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (r *memoryConversationRepo) Update(_ context.Context, userID, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation, ok := r.conversations[id]
	if !ok || conversation.UserID != userID {
		return fmt.Errorf("conversation not found")
	}
	if title, ok := updates["title"].(string); ok {
		conversation.Title = title
	}
	if summary, ok := updates["summary"].(string); ok {
		conversation.Summary = sql.NullString{String: summary, Valid: true}
	}
	conversation.UpdatedAt = time.Now()
	return nil
}

func (r *memoryConversationRepo) AddUsage(_ context.Context, id uuid.UUID, messages, tokens int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation, ok := r.conversations[id]
	if !ok {
		return fmt.Errorf("conversation not found")
	}
	conversation.TotalMessages += messages
	conversation.TotalTokens += tokens
	return nil
}

func (r *memoryConversationRepo) Delete(_ context.Context, userID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation, ok := r.conversations[id]
	if !ok || conversation.UserID != userID {
		return fmt.Errorf("conversation not found")
	}
	delete(r.conversations, id)
	return nil
}

func (r *memoryConversationRepo) get(id uuid.UUID) *repository.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *r.conversations[id]
	return &copied
}

type memoryTurnRepo struct {
	mu      sync.Mutex
	turns   []repository.Turn
	nextSeq int64
}

func newMemoryTurnRepo() *memoryTurnRepo {
	return &memoryTurnRepo{}
}

func (r *memoryTurnRepo) Create(_ context.Context, turn *repository.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insert(turn)
	return nil
}

// insert assigns identity, timestamp, and seq under the caller's lock.
func (r *memoryTurnRepo) insert(turn *repository.Turn) {
	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	r.nextSeq++
	turn.Seq = r.nextSeq
	r.turns = append(r.turns, *turn)
}

func (r *memoryTurnRepo) ordered(conversationID uuid.UUID) []repository.Turn {
	var result []repository.Turn
	for _, turn := range r.turns {
		if turn.ConversationID == conversationID {
			result = append(result, turn)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].Seq < result[j].Seq
	})
	return result
}

func (r *memoryTurnRepo) ListByConversation(_ context.Context, conversationID uuid.UUID) ([]repository.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ordered(conversationID), nil
}

func (r *memoryTurnRepo) ListRecent(_ context.Context, conversationID uuid.UUID, limit int) ([]repository.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.ordered(conversationID)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (r *memoryTurnRepo) ListOldest(_ context.Context, conversationID uuid.UUID, limit int) ([]repository.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.ordered(conversationID)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *memoryTurnRepo) Last(_ context.Context, conversationID uuid.UUID) (*repository.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.ordered(conversationID)
	if len(all) == 0 {
		return nil, nil
	}
	last := all[len(all)-1]
	return &last, nil
}

func (r *memoryTurnRepo) Count(_ context.Context, conversationID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ordered(conversationID)), nil
}

func (r *memoryTurnRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, turn := range r.turns {
		if turn.ID == id {
			r.turns = append(r.turns[:i], r.turns[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("turn not found")
}

func (r *memoryTurnRepo) ReplaceWithSummary(_ context.Context, summary *repository.Turn, removeIDs []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	remove := make(map[uuid.UUID]bool, len(removeIDs))
	for _, id := range removeIDs {
		remove[id] = true
	}
	kept := r.turns[:0]
	removed := 0
	for _, turn := range r.turns {
		if remove[turn.ID] {
			removed++
			continue
		}
		kept = append(kept, turn)
	}
	if removed != len(removeIDs) {
		return fmt.Errorf("expected to remove %d turns, removed %d", len(removeIDs), removed)
	}
	r.turns = kept
	r.insert(summary)
	return nil
}

// scriptedGateway pops canned replies in order and records every context it
// was sent.
type scriptedGateway struct {
	mu        sync.Mutex
	replies   []string
	err       error
	fragments []string
	streamErr error
	requests  [][]gateway.Message
}

func (g *scriptedGateway) Complete(_ context.Context, messages []gateway.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, messages)
	if g.err != nil {
		return "", &gateway.BackendError{Backend: "scripted", Err: g.err}
	}
	if len(g.replies) == 0 {
		return "ok", nil
	}
	reply := g.replies[0]
	g.replies = g.replies[1:]
	return reply, nil
}

func (g *scriptedGateway) CompleteStream(ctx context.Context, messages []gateway.Message) (<-chan gateway.Fragment, error) {
	g.mu.Lock()
	g.requests = append(g.requests, messages)
	fragments := append([]string(nil), g.fragments...)
	streamErr := g.streamErr
	g.mu.Unlock()

	out := make(chan gateway.Fragment)
	go func() {
		defer close(out)
		for _, text := range fragments {
			select {
			case out <- gateway.Fragment{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if streamErr != nil {
			select {
			case out <- gateway.Fragment{Err: &gateway.BackendError{Backend: "scripted", Err: streamErr}}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// newTestOrchestrator wires an orchestrator over the in-memory fakes.
func newTestOrchestrator(gw gateway.Gateway, ceiling int) (*Orchestrator, *memoryConversationRepo, *memoryTurnRepo, *RateLimiter) {
	conversations := newMemoryConversationRepo()
	turns := newMemoryTurnRepo()
	log := testLogger()
	limiter := NewRateLimiter(ceiling, 24*time.Hour, log)
	window := NewWindowBuilder(turns, DefaultWindowSize)
	compressor := NewCompressor(conversations, turns, gw, DefaultCompressThreshold, DefaultCompressBatch, log)
	orchestrator := NewOrchestrator(conversations, turns, gw, window, limiter, compressor, log)
	return orchestrator, conversations, turns, limiter
}
