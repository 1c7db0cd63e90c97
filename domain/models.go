// Package domain defines the core domain models for the chat service.
package domain

import "time"

// Conversation represents a chat conversation.
type Conversation struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Message represents a single message in a conversation.
// Assistant messages are created with empty content and filled exactly once
// when their session reaches a terminal state.
type Message struct {
	ID               int64     `json:"id"`
	ConversationID   int64     `json:"conversation_id"`
	Role             string    `json:"role"` // user, assistant
	Content          string    `json:"content"`
	TokenCount       int       `json:"token_count"`
	CompletionTimeMs int64     `json:"completion_time_ms"`
	ParentMessageID  *int64    `json:"parent_message_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
