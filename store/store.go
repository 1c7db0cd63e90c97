// Package store defines the storage interface and implementations.
package store

import (
	"context"

	"github.com/crazyief/gpt-oss-chat/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Conversation operations
	CreateConversation(ctx context.Context, title string) (*domain.Conversation, error)
	GetConversation(ctx context.Context, conversationID int64) (*domain.Conversation, error)
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	SoftDeleteConversation(ctx context.Context, conversationID int64) error

	// Message operations
	CreateMessage(ctx context.Context, message *domain.Message) error
	GetMessage(ctx context.Context, messageID int64) (*domain.Message, error)
	GetMessages(ctx context.Context, conversationID int64, limit int) ([]domain.Message, error)
	GetRecentMessages(ctx context.Context, conversationID int64, limit int) ([]domain.Message, error)
	FinalizeMessage(ctx context.Context, messageID int64, content string, tokenCount int, completionTimeMs int64) error

	// Lifecycle
	Close() error
}
