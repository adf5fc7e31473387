package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/recall/recall-backend/internal/repository"
)

// ConversationRepository implements repository.ConversationRepository using PostgreSQL
type ConversationRepository struct {
	db *sqlx.DB
}

// NewConversationRepository creates a new PostgreSQL conversation repository
func NewConversationRepository(db *sqlx.DB) repository.ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create creates a new conversation
func (r *ConversationRepository) Create(ctx context.Context, conversation *repository.Conversation) error {
	if conversation.ID == uuid.Nil {
		conversation.ID = uuid.New()
	}
	now := time.Now()
	conversation.CreatedAt = now
	conversation.UpdatedAt = now

	query := `
		INSERT INTO conversations (id, user_id, title, total_messages, total_tokens, summary, created_at, updated_at)
		VALUES (:id, :user_id, :title, :total_messages, :total_tokens, :summary, :created_at, :updated_at)
	`

	_, err := r.db.NamedExecContext(ctx, query, conversation)
	return err
}

// Get retrieves a conversation by ID, scoped to its owner
func (r *ConversationRepository) Get(ctx context.Context, userID, id uuid.UUID) (*repository.Conversation, error) {
	var conversation repository.Conversation
	query := `
		SELECT id, user_id, title, total_messages, total_tokens, summary, created_at, updated_at
		FROM conversations
		WHERE id = $1 AND user_id = $2
	`

	err := r.db.GetContext(ctx, &conversation, query, id, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return &conversation, nil
}

// List retrieves the user's conversations newest-first, optionally filtered
// by a title substring
func (r *ConversationRepository) List(ctx context.Context, userID uuid.UUID, titleQuery string) ([]*repository.Conversation, error) {
	conversations := []*repository.Conversation{}
	query := `
		SELECT id, user_id, title, total_messages, total_tokens, summary, created_at, updated_at
		FROM conversations
		WHERE user_id = $1
	`
	args := []interface{}{userID}

	if titleQuery != "" {
		query += ` AND title ILIKE '%' || $2 || '%'`
		args = append(args, titleQuery)
	}
	query += ` ORDER BY updated_at DESC`

	err := r.db.SelectContext(ctx, &conversations, query, args...)
	if err != nil {
		return nil, err
	}

	return conversations, nil
}

// Update updates a conversation
func (r *ConversationRepository) Update(ctx context.Context, userID, id uuid.UUID, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()

	setClause := ""
	params := map[string]interface{}{"id": id, "user_id": userID}

	for key, value := range updates {
		if setClause != "" {
			setClause += ", "
		}
		setClause += key + " = :" + key
		params[key] = value
	}

	query := "UPDATE conversations SET " + setClause + " WHERE id = :id AND user_id = :user_id"

	_, err := r.db.NamedExecContext(ctx, query, params)
	return err
}

// AddUsage increments the approximate message and token counters
func (r *ConversationRepository) AddUsage(ctx context.Context, id uuid.UUID, messages, tokens int) error {
	query := `
		UPDATE conversations
		SET total_messages = total_messages + $2,
		    total_tokens = total_tokens + $3,
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, messages, tokens)
	return err
}

// Delete deletes a conversation; turns cascade at the schema level
func (r *ConversationRepository) Delete(ctx context.Context, userID, id uuid.UUID) error {
	query := "DELETE FROM conversations WHERE id = $1 AND user_id = $2"
	_, err := r.db.ExecContext(ctx, query, id, userID)
	return err
}
