package domain

// SessionStatus represents the status of a streaming session.
// Transitions are monotonic: pending -> streaming -> {complete, cancelled, error}.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusStreaming SessionStatus = "streaming"
	SessionStatusComplete  SessionStatus = "complete"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusError     SessionStatus = "error"
)

// Terminal reports whether the status is a terminal state.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusComplete || s == SessionStatusCancelled || s == SessionStatusError
}

// EventType represents the type of a stream event.
type EventType string

const (
	EventTypeToken     EventType = "token"
	EventTypeComplete  EventType = "complete"
	EventTypeCancelled EventType = "cancelled"
	EventTypeError     EventType = "error"
)

// Terminal reports whether the event type ends a session's stream.
func (t EventType) Terminal() bool {
	return t == EventTypeComplete || t == EventTypeCancelled || t == EventTypeError
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
