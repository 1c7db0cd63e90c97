package statestore

import (
	"github.com/crazyief/gpt-oss-chat/client"
)

// Apply applies one stream event to the store. Events must be applied in
// arrival order; terminal events are idempotent.
func (s *Store) Apply(event client.Event) {
	switch event.Type {
	case client.EventToken:
		s.AppendToken(event.MessageID, event.Token)
	case client.EventComplete:
		s.Complete(event.MessageID, event.TokenCount, event.CompletionTimeMs)
	case client.EventCancelled, client.EventError:
		s.Finalize(event.MessageID)
	case client.EventReconnecting:
		// Transient client state, nothing to reconcile.
	}
}

// Consume marks the stream's message as streaming and applies every event
// until the stream ends. Even if the stream dies without a terminal event
// the message is forced into a terminal state, so nothing is left
// permanently streaming.
func (s *Store) Consume(conversationID int64, stream *client.Stream) error {
	if err := s.BeginStreaming(conversationID, stream.MessageID); err != nil {
		return err
	}
	for event := range stream.Events() {
		s.Apply(event)
	}
	s.Finalize(stream.MessageID)
	return nil
}
