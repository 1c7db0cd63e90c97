package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/crazyief/gpt-oss-chat/domain"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			deleted_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			completion_time_ms INTEGER NOT NULL DEFAULT 0,
			parent_message_id INTEGER,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateConversation creates a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, title string) (*domain.Conversation, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (title, created_at, updated_at) VALUES (?, ?, ?)`,
		title, now, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.Conversation{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// GetConversation retrieves a conversation by ID. Soft-deleted conversations
// are treated as not found.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID int64) (*domain.Conversation, error) {
	var conv domain.Conversation
	var deletedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at, deleted_at FROM conversations WHERE id = ? AND deleted_at IS NULL`,
		conversationID).Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		conv.DeletedAt = &deletedAt.Time
	}
	return &conv, nil
}

// ListConversations lists all non-deleted conversations, newest first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations WHERE deleted_at IS NULL ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// SoftDeleteConversation marks a conversation as deleted.
func (s *SQLiteStore) SoftDeleteConversation(ctx context.Context, conversationID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), conversationID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CreateMessage creates a new message and fills in its assigned ID.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	var parentID sql.NullInt64
	if message.ParentMessageID != nil {
		parentID = sql.NullInt64{Int64: *message.ParentMessageID, Valid: true}
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, token_count, completion_time_ms, parent_message_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		message.ConversationID, message.Role, message.Content, message.TokenCount,
		message.CompletionTimeMs, parentID, message.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	message.ID = id

	// A new message counts as activity, so the conversation floats to the top
	// of the list.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().UTC(), message.ConversationID); err != nil {
		return err
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID int64) (*domain.Message, error) {
	var msg domain.Message
	var parentID sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, role, content, token_count, completion_time_ms, parent_message_id, created_at
		 FROM messages WHERE id = ?`,
		messageID).Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
		&msg.TokenCount, &msg.CompletionTimeMs, &parentID, &msg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		msg.ParentMessageID = &parentID.Int64
	}
	return &msg, nil
}

// GetRecentMessages retrieves the newest messages for a conversation, up to
// limit, returned in creation order. Used to build the engine prompt: when a
// conversation outgrows the history window the oldest messages are the ones
// dropped.
func (s *SQLiteStore) GetRecentMessages(ctx context.Context, conversationID int64, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return s.GetMessages(ctx, conversationID, 0)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, token_count, completion_time_ms, parent_message_id, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY id DESC LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var parentID sql.NullInt64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&msg.TokenCount, &msg.CompletionTimeMs, &parentID, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if parentID.Valid {
			msg.ParentMessageID = &parentID.Int64
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The query walks newest to oldest; flip back into creation order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// GetMessages retrieves messages for a conversation in creation order.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID int64, limit int) ([]domain.Message, error) {
	query := `SELECT id, conversation_id, role, content, token_count, completion_time_ms, parent_message_id, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY id ASC`
	args := []interface{}{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var parentID sql.NullInt64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&msg.TokenCount, &msg.CompletionTimeMs, &parentID, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if parentID.Valid {
			msg.ParentMessageID = &parentID.Int64
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// FinalizeMessage writes the final content of an assistant message in a single
// update. The content of a finalized message is written exactly once.
func (s *SQLiteStore) FinalizeMessage(ctx context.Context, messageID int64, content string, tokenCount int, completionTimeMs int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, token_count = ?, completion_time_ms = ? WHERE id = ?`,
		content, tokenCount, completionTimeMs, messageID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
