package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/recall/recall-backend/internal/repository"
)

const turnColumns = "id, conversation_id, role, content, attachment, created_at, seq"

// TurnRepository implements repository.TurnRepository using PostgreSQL
type TurnRepository struct {
	db *sqlx.DB
}

// NewTurnRepository creates a new PostgreSQL turn repository
func NewTurnRepository(db *sqlx.DB) repository.TurnRepository {
	return &TurnRepository{db: db}
}

// Create creates a new turn
func (r *TurnRepository) Create(ctx context.Context, turn *repository.Turn) error {
	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO turns (id, conversation_id, role, content, attachment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`

	return r.db.QueryRowContext(ctx, query,
		turn.ID, turn.ConversationID, turn.Role, turn.Content, turn.Attachment, turn.CreatedAt,
	).Scan(&turn.Seq)
}

// ListByConversation retrieves every turn of a conversation, oldest first
func (r *TurnRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]repository.Turn, error) {
	turns := []repository.Turn{}
	query := fmt.Sprintf(`
		SELECT %s
		FROM turns
		WHERE conversation_id = $1
		ORDER BY created_at ASC, seq ASC
	`, turnColumns)

	err := r.db.SelectContext(ctx, &turns, query, conversationID)
	if err != nil {
		return nil, err
	}

	return turns, nil
}

// ListRecent retrieves up to limit of the newest turns, returned oldest first
func (r *TurnRepository) ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]repository.Turn, error) {
	turns := []repository.Turn{}
	query := fmt.Sprintf(`
		SELECT %s FROM (
			SELECT %s
			FROM turns
			WHERE conversation_id = $1
			ORDER BY created_at DESC, seq DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, seq ASC
	`, turnColumns, turnColumns)

	err := r.db.SelectContext(ctx, &turns, query, conversationID, limit)
	if err != nil {
		return nil, err
	}

	return turns, nil
}

// ListOldest retrieves up to limit of the oldest turns, oldest first
func (r *TurnRepository) ListOldest(ctx context.Context, conversationID uuid.UUID, limit int) ([]repository.Turn, error) {
	turns := []repository.Turn{}
	query := fmt.Sprintf(`
		SELECT %s
		FROM turns
		WHERE conversation_id = $1
		ORDER BY created_at ASC, seq ASC
		LIMIT $2
	`, turnColumns)

	err := r.db.SelectContext(ctx, &turns, query, conversationID, limit)
	if err != nil {
		return nil, err
	}

	return turns, nil
}

// Last retrieves the newest turn, or nil when the conversation has none
func (r *TurnRepository) Last(ctx context.Context, conversationID uuid.UUID) (*repository.Turn, error) {
	var turn repository.Turn
	query := fmt.Sprintf(`
		SELECT %s
		FROM turns
		WHERE conversation_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, turnColumns)

	err := r.db.GetContext(ctx, &turn, query, conversationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return &turn, nil
}

// Count returns the number of stored turns in a conversation
func (r *TurnRepository) Count(ctx context.Context, conversationID uuid.UUID) (int, error) {
	var count int
	query := "SELECT COUNT(*) FROM turns WHERE conversation_id = $1"
	err := r.db.GetContext(ctx, &count, query, conversationID)
	return count, err
}

// Delete deletes a turn
func (r *TurnRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := "DELETE FROM turns WHERE id = $1"
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// ReplaceWithSummary inserts the summary turn and deletes the compressed
// turns in one transaction, so a failure leaves the history untouched.
func (r *TurnRepository) ReplaceWithSummary(ctx context.Context, summary *repository.Turn, removeIDs []uuid.UUID) error {
	if summary.ID == uuid.Nil {
		summary.ID = uuid.New()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO turns (id, conversation_id, role, content, attachment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`
	err = tx.QueryRowContext(ctx, insert,
		summary.ID, summary.ConversationID, summary.Role, summary.Content, summary.Attachment, summary.CreatedAt,
	).Scan(&summary.Seq)
	if err != nil {
		return fmt.Errorf("insert summary turn: %w", err)
	}

	ids := make([]string, len(removeIDs))
	for i, id := range removeIDs {
		ids[i] = id.String()
	}
	result, err := tx.ExecContext(ctx,
		"DELETE FROM turns WHERE conversation_id = $1 AND id = ANY($2)",
		summary.ConversationID, pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("delete compressed turns: %w", err)
	}
	removed, _ := result.RowsAffected()
	if removed != int64(len(removeIDs)) {
		return fmt.Errorf("expected to remove %d turns, removed %d", len(removeIDs), removed)
	}

	return tx.Commit()
}
