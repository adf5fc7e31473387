package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Turn roles. The enum is closed: every stored turn is one or the other.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// SummaryPrefix tags the content of a synthetic summary turn. A summary turn
// is an ordinary model turn in every other respect; the prefix is the only
// thing that distinguishes it.
const SummaryPrefix = "[Conversation summary] "

// Conversation represents a chat conversation owned by a single user.
// TotalMessages and TotalTokens are running estimates: they only ever grow,
// and compression does not reconcile them against deleted turns.
type Conversation struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	UserID        uuid.UUID      `json:"user_id" db:"user_id"`
	Title         string         `json:"title" db:"title"`
	TotalMessages int            `json:"total_messages" db:"total_messages"`
	TotalTokens   int            `json:"total_tokens" db:"total_tokens"`
	Summary       sql.NullString `json:"-" db:"summary"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// Turn represents a single message within a conversation. Content may be
// empty when only an attachment reference is present. Seq breaks ordering
// ties between turns sharing a timestamp; it follows insertion order.
type Turn struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	ConversationID uuid.UUID      `json:"conversation_id" db:"conversation_id"`
	Role           string         `json:"role" db:"role"`
	Content        sql.NullString `json:"content" db:"content"`
	Attachment     sql.NullString `json:"attachment,omitempty" db:"attachment"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	Seq            int64          `json:"-" db:"seq"`
}

// IsSummary reports whether the turn is a compressed-history summary.
func (t Turn) IsSummary() bool {
	return t.Role == RoleModel && t.Content.Valid &&
		strings.HasPrefix(t.Content.String, SummaryPrefix)
}

// User represents a registered user. Kept minimal: authentication is a
// boundary concern, not part of the conversation engine.
type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ConversationRepository defines conversation storage operations. All reads
// and writes are scoped by owning user.
type ConversationRepository interface {
	Create(ctx context.Context, conversation *Conversation) error
	Get(ctx context.Context, userID, id uuid.UUID) (*Conversation, error)
	// List returns the user's conversations newest-first, optionally
	// filtered by a case-insensitive title substring.
	List(ctx context.Context, userID uuid.UUID, titleQuery string) ([]*Conversation, error)
	Update(ctx context.Context, userID, id uuid.UUID, updates map[string]interface{}) error
	// AddUsage increments the approximate message/token counters.
	AddUsage(ctx context.Context, id uuid.UUID, messages, tokens int) error
	Delete(ctx context.Context, userID, id uuid.UUID) error
}

// TurnRepository defines turn storage operations. Listing is always ordered
// by (created_at, seq); callers rely on that invariant.
type TurnRepository interface {
	Create(ctx context.Context, turn *Turn) error
	// ListByConversation returns every turn, oldest first.
	ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]Turn, error)
	// ListRecent returns up to limit of the newest turns, oldest first.
	ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]Turn, error)
	// ListOldest returns up to limit of the oldest turns, oldest first.
	ListOldest(ctx context.Context, conversationID uuid.UUID, limit int) ([]Turn, error)
	// Last returns the newest turn, or nil when the conversation is empty.
	Last(ctx context.Context, conversationID uuid.UUID) (*Turn, error)
	Count(ctx context.Context, conversationID uuid.UUID) (int, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// ReplaceWithSummary inserts the summary turn and deletes the given
	// turns as a single transaction. Either both happen or neither does.
	ReplaceWithSummary(ctx context.Context, summary *Turn, removeIDs []uuid.UUID) error
}

// UserRepository defines user storage operations.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
}
