// Package storage provides the durable sqlite-backed stores behind the
// conversation and user service interfaces.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	chatmodel "github.com/lumenchat/backend/internal/model/chat"
	usermodel "github.com/lumenchat/backend/internal/model/user"
	"github.com/lumenchat/backend/internal/service/auth"
	"github.com/lumenchat/backend/internal/service/chat"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE COLLATE NOCASE,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	subscription  TEXT NOT NULL DEFAULT 'free',
	api_calls     INTEGER NOT NULL DEFAULT 0,
	daily_limit   INTEGER NOT NULL DEFAULT 100,
	last_api_call TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id),
	title      TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	seq             INTEGER NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	has_image       INTEGER NOT NULL DEFAULT 0,
	search_results  TEXT,
	reasoning       TEXT,
	model           TEXT,
	created_at      TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_conversation_seq ON messages(conversation_id, seq);
`

// Store backs both the conversation and user store interfaces with one
// sqlite database.
type Store struct {
	db *sql.DB
}

// Open initializes the database at path (":memory:" for ephemeral use) and
// applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	// modernc sqlite serializes writes per connection; a single connection
	// makes the append transaction an atomic section per process.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: apply pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- user store ---

// CreateUser inserts a new account.
func (s *Store) CreateUser(ctx context.Context, u usermodel.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, subscription, api_calls, daily_limit, last_api_call, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Subscription,
		u.APICalls, u.DailyLimit, nullableTime(u.LastAPICall), u.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("storage: create user: %w", err)
	}
	return nil
}

// GetUserByID retrieves an account by identity.
func (s *Store) GetUserByID(ctx context.Context, id string) (usermodel.User, error) {
	return s.getUser(ctx, "id = ?", id)
}

// GetUserByEmail retrieves an account by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (usermodel.User, error) {
	return s.getUser(ctx, "email = ?", email)
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (usermodel.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, subscription, api_calls, daily_limit, last_api_call, created_at
		FROM users WHERE `+where, arg)

	var u usermodel.User
	var lastCall sql.NullString
	var createdAt string
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Subscription,
		&u.APICalls, &u.DailyLimit, &lastCall, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return usermodel.User{}, auth.ErrUserNotFound
	}
	if err != nil {
		return usermodel.User{}, fmt.Errorf("storage: load user: %w", err)
	}
	u.CreatedAt = parseTime(createdAt)
	if lastCall.Valid {
		u.LastAPICall = parseTime(lastCall.String)
	}
	return u, nil
}

// UserExists reports whether the username or email is already taken.
func (s *Store) UserExists(ctx context.Context, username, email string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE username = ? COLLATE NOCASE OR email = ?`,
		username, email).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("storage: check user existence: %w", err)
	}
	return count > 0, nil
}

// UpdateUsage records the daily call counter and last-call timestamp.
func (s *Store) UpdateUsage(ctx context.Context, id string, apiCalls int, lastCall time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET api_calls = ?, last_api_call = ? WHERE id = ?`,
		apiCalls, lastCall.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("storage: update usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update usage: %w", err)
	}
	if affected == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

// --- conversation store ---

// CreateConversation inserts a new conversation.
func (s *Store) CreateConversation(ctx context.Context, conv chatmodel.Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.Title,
		conv.CreatedAt.UTC().Format(time.RFC3339Nano),
		conv.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("storage: create conversation: %w", err)
	}
	return nil
}

// GetConversation loads an owned conversation with its ordered transcript.
func (s *Store) GetConversation(ctx context.Context, id, userID string) (chatmodel.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations WHERE id = ? AND user_id = ?`, id, userID)

	var conv chatmodel.Conversation
	var createdAt, updatedAt string
	err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return chatmodel.Conversation{}, chat.ErrConversationNotFound
	}
	if err != nil {
		return chatmodel.Conversation{}, fmt.Errorf("storage: load conversation: %w", err)
	}
	conv.CreatedAt = parseTime(createdAt)
	conv.UpdatedAt = parseTime(updatedAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, has_image, search_results, reasoning, model, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return chatmodel.Conversation{}, fmt.Errorf("storage: load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg chatmodel.Message
		var hasImage int
		var searchResults, reasoning, model sql.NullString
		var msgCreatedAt string
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &hasImage,
			&searchResults, &reasoning, &model, &msgCreatedAt); err != nil {
			return chatmodel.Conversation{}, fmt.Errorf("storage: scan message: %w", err)
		}
		msg.HasImage = hasImage != 0
		msg.Reasoning = reasoning.String
		msg.Model = model.String
		msg.CreatedAt = parseTime(msgCreatedAt)
		if searchResults.Valid && searchResults.String != "" {
			if err := json.Unmarshal([]byte(searchResults.String), &msg.SearchResults); err != nil {
				return chatmodel.Conversation{}, fmt.Errorf("storage: decode search results: %w", err)
			}
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return chatmodel.Conversation{}, fmt.Errorf("storage: iterate messages: %w", err)
	}
	return conv, nil
}

// ListConversations returns summaries for the user, most recent first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]chatmodel.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, updated_at
		FROM conversations WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("storage: list conversations: %w", err)
	}
	defer rows.Close()

	summaries := make([]chatmodel.Summary, 0, 16)
	for rows.Next() {
		var summary chatmodel.Summary
		var updatedAt string
		if err := rows.Scan(&summary.ID, &summary.Title, &updatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan summary: %w", err)
		}
		summary.UpdatedAt = parseTime(updatedAt)
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// AppendMessages appends messages to the conversation in one transaction,
// so two turns racing on the same conversation cannot lose updates.
func (s *Store) AppendMessages(ctx context.Context, conversationID string, messages ...chatmodel.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin append: %w", err)
	}
	defer tx.Rollback()

	var seq int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) FROM messages WHERE conversation_id = ?`,
		conversationID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("storage: next sequence: %w", err)
	}

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE id = ?`, conversationID).Scan(&exists); err != nil {
		return fmt.Errorf("storage: check conversation: %w", err)
	}
	if exists == 0 {
		return chat.ErrConversationNotFound
	}

	now := time.Now().UTC()
	for _, msg := range messages {
		seq++
		var searchResults any
		if len(msg.SearchResults) > 0 {
			serialized, err := json.Marshal(msg.SearchResults)
			if err != nil {
				return fmt.Errorf("storage: encode search results: %w", err)
			}
			searchResults = string(serialized)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, seq, role, content, has_image, search_results, reasoning, model, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, conversationID, seq, msg.Role, msg.Content, boolToInt(msg.HasImage),
			searchResults, nullableString(msg.Reasoning), nullableString(msg.Model),
			msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("storage: insert message: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano), conversationID); err != nil {
		return fmt.Errorf("storage: touch conversation: %w", err)
	}
	return tx.Commit()
}

// DeleteConversation removes an owned conversation and its messages.
func (s *Store) DeleteConversation(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("storage: delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: delete conversation: %w", err)
	}
	if affected == 0 {
		return chat.ErrConversationNotFound
	}
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
