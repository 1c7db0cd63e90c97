// Package statestore maintains the client's canonical message list and
// reconciles the transient per-token buffer into durable messages on
// terminal events.
package statestore

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/crazyief/gpt-oss-chat/domain"
)

// MessageView is a message as the UI should display it. While streaming,
// Content is the accumulated token buffer; after the terminal event it is
// the authoritative persisted content.
type MessageView struct {
	domain.Message
	IsStreaming bool
}

type entry struct {
	msg         domain.Message
	isStreaming bool
	buf         strings.Builder
	bufTokens   int
}

// Store is the canonical client-side message list.
type Store struct {
	mu        sync.Mutex
	messages  map[int64]*entry
	streaming map[int64]int64 // conversation id -> streaming message id
}

// New creates an empty store.
func New() *Store {
	return &Store{
		messages:  make(map[int64]*entry),
		streaming: make(map[int64]int64),
	}
}

// Put upserts a durable message, e.g. one loaded from the messages API.
func (s *Store) Put(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.messages[msg.ID]; ok && !e.isStreaming {
		e.msg = msg
		return
	}
	if _, ok := s.messages[msg.ID]; !ok {
		s.messages[msg.ID] = &entry{msg: msg}
	}
}

// BeginStreaming marks the assistant entry for messageID as streaming. At
// most one message per conversation may be streaming at a time.
func (s *Store) BeginStreaming(conversationID, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.streaming[conversationID]; ok && current != messageID {
		return fmt.Errorf("message %d is already streaming in conversation %d", current, conversationID)
	}

	e, ok := s.messages[messageID]
	if !ok {
		e = &entry{msg: domain.Message{
			ID:             messageID,
			ConversationID: conversationID,
			Role:           domain.RoleAssistant,
		}}
		s.messages[messageID] = e
	}
	e.isStreaming = true
	e.buf.Reset()
	e.bufTokens = 0
	s.streaming[conversationID] = messageID
	return nil
}

// AppendToken appends a token to the transient buffer of one message. The
// rest of the list is untouched, so consumers can re-render a single entry.
func (s *Store) AppendToken(messageID int64, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.messages[messageID]
	if !ok || !e.isStreaming {
		// Late token after a terminal event, ignore.
		return
	}
	e.buf.WriteString(token)
	e.bufTokens++
}

// Complete reconciles a completed stream: the buffer (which the server
// guarantees equals the persisted content) becomes the durable content, and
// token_count/completion_time_ms come from the authoritative terminal
// payload. Duplicate terminal events are no-ops.
func (s *Store) Complete(messageID int64, tokenCount int, completionTimeMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.messages[messageID]
	if !ok || !e.isStreaming {
		return
	}
	e.msg.Content = e.buf.String()
	e.msg.TokenCount = tokenCount
	e.msg.CompletionTimeMs = completionTimeMs
	s.clearStreaming(e, messageID)
}

// Finalize terminalises a streamed message with whatever the buffer holds.
// Used for cancelled streams (the buffer equals the persisted prefix) and
// as the forced local terminal state after reconnect attempts are
// exhausted, so no message is left permanently streaming. Idempotent.
func (s *Store) Finalize(messageID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.messages[messageID]
	if !ok || !e.isStreaming {
		return
	}
	e.msg.Content = e.buf.String()
	e.msg.TokenCount = e.bufTokens
	s.clearStreaming(e, messageID)
}

// clearStreaming resets transient state. Caller holds the lock.
func (s *Store) clearStreaming(e *entry, messageID int64) {
	e.isStreaming = false
	e.buf.Reset()
	e.bufTokens = 0
	if current, ok := s.streaming[e.msg.ConversationID]; ok && current == messageID {
		delete(s.streaming, e.msg.ConversationID)
	}
}

// Get returns the view of one message.
func (s *Store) Get(messageID int64) (MessageView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.messages[messageID]
	if !ok {
		return MessageView{}, false
	}
	return s.view(e), true
}

// Messages returns the conversation's messages in id order.
func (s *Store) Messages(conversationID int64) []MessageView {
	s.mu.Lock()
	defer s.mu.Unlock()

	var views []MessageView
	for _, e := range s.messages {
		if e.msg.ConversationID == conversationID {
			views = append(views, s.view(e))
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// StreamingMessage returns the id of the conversation's streaming message,
// if any.
func (s *Store) StreamingMessage(conversationID int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.streaming[conversationID]
	return id, ok
}

// view builds a MessageView. Caller holds the lock.
func (s *Store) view(e *entry) MessageView {
	v := MessageView{Message: e.msg, IsStreaming: e.isStreaming}
	if e.isStreaming {
		v.Content = e.buf.String()
		v.TokenCount = e.bufTokens
	}
	return v
}
