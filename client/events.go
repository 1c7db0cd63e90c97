// Package client implements the Go client for the two-phase streaming chat
// protocol: a state-mutating start call followed by a long-lived SSE read
// connection with bounded reconnect.
package client

import (
	"fmt"

	"github.com/crazyief/gpt-oss-chat/domain"
)

// EventType enumerates the typed events a Stream can deliver. Server-sent
// types mirror the wire protocol; reconnecting is a client-local state.
type EventType string

const (
	EventToken        EventType = "token"
	EventComplete     EventType = "complete"
	EventCancelled    EventType = "cancelled"
	EventError        EventType = "error"
	EventReconnecting EventType = "reconnecting"
)

// Terminal reports whether the event ends the stream.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventCancelled || t == EventError
}

// Event is a single decoded stream event.
type Event struct {
	Type      EventType
	SessionID string
	MessageID int64

	// Token payload
	Token string

	// Complete payload
	TokenCount       int
	CompletionTimeMs int64

	// Cancelled/error payload
	Reason string

	// Reconnecting state
	Attempt     int
	MaxAttempts int
}

// decodeEvent decodes a named SSE event payload once, at the transport
// boundary.
func decodeEvent(name string, data []byte) (Event, error) {
	switch EventType(name) {
	case EventToken:
		p, err := domain.ParseTokenPayload(data)
		if err != nil {
			return Event{}, err
		}
		return Event{
			Type:      EventToken,
			Token:     p.Token,
			MessageID: p.MessageID,
			SessionID: p.SessionID,
		}, nil

	case EventComplete:
		p, err := domain.ParseCompletePayload(data)
		if err != nil {
			return Event{}, err
		}
		return Event{
			Type:             EventComplete,
			MessageID:        p.MessageID,
			TokenCount:       p.TokenCount,
			CompletionTimeMs: p.CompletionTimeMs,
		}, nil

	case EventCancelled, EventError:
		p, err := domain.ParseTerminalPayload(data)
		if err != nil {
			return Event{}, err
		}
		return Event{
			Type:      EventType(name),
			MessageID: p.MessageID,
			Reason:    p.Reason,
		}, nil

	default:
		return Event{}, fmt.Errorf("unknown event type %q", name)
	}
}
