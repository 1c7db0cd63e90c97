package domain

// StartChatRequest is the phase-1 request that starts a generation.
type StartChatRequest struct {
	ConversationID int64  `json:"conversation_id"`
	Message        string `json:"message"`
}

// StartChatResponse is returned once both message rows are durably persisted.
type StartChatResponse struct {
	SessionID string `json:"session_id"`
	MessageID int64  `json:"message_id"`
}

// CreateConversationRequest creates a new conversation.
type CreateConversationRequest struct {
	Title string `json:"title"`
}
