package domain

import (
	"encoding/json"
	"fmt"
)

// StreamEvent is a single named event on a session's stream. The payload is
// decoded once at the transport boundary into one of the typed payloads below.
type StreamEvent struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// TokenPayload is the payload for a token event.
type TokenPayload struct {
	Token     string `json:"token"`
	MessageID int64  `json:"message_id"`
	SessionID string `json:"session_id"`
}

// CompletePayload is the payload for a complete event.
type CompletePayload struct {
	MessageID        int64 `json:"message_id"`
	TokenCount       int   `json:"token_count"`
	CompletionTimeMs int64 `json:"completion_time_ms"`
}

// TerminalPayload is the payload for cancelled and error events.
type TerminalPayload struct {
	MessageID int64  `json:"message_id"`
	Reason    string `json:"reason"`
}

// NewStreamEvent builds a StreamEvent from a typed payload.
func NewStreamEvent(eventType EventType, payload interface{}) (StreamEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return StreamEvent{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return StreamEvent{Type: eventType, Payload: data}, nil
}

// ParseTokenPayload parses a token event payload.
func ParseTokenPayload(data []byte) (*TokenPayload, error) {
	var p TokenPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse token payload: %w", err)
	}
	return &p, nil
}

// ParseCompletePayload parses a complete event payload.
func ParseCompletePayload(data []byte) (*CompletePayload, error) {
	var p CompletePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse complete payload: %w", err)
	}
	return &p, nil
}

// ParseTerminalPayload parses a cancelled or error event payload.
func ParseTerminalPayload(data []byte) (*TerminalPayload, error) {
	var p TerminalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse terminal payload: %w", err)
	}
	return &p, nil
}
