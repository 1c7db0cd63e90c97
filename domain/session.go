package domain

import "time"

// Session is the server handle for one in-flight or completed generation,
// tied to exactly one assistant message.
type Session struct {
	SessionID          string        `json:"session_id"`
	ConversationID     int64         `json:"conversation_id"`
	AssistantMessageID int64         `json:"assistant_message_id"`
	Status             SessionStatus `json:"status"`
	CreatedAt          time.Time     `json:"created_at"`
}
