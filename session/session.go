// Package session implements the streaming session state machine, the
// per-session generation worker and the session registry.
package session

import (
	"sync"
	"time"

	"github.com/crazyief/gpt-oss-chat/domain"
)

// subscriberBuffer bounds the per-subscriber channel. A subscriber that falls
// this far behind is disconnected and recovers via reconnect with a replay
// offset, so session memory is bounded by the event log alone.
const subscriberBuffer = 256

// Session holds the live state of one generation. The worker is the single
// writer of events and status; stream subscribers are readers.
type Session struct {
	ID                 string
	ConversationID     int64
	AssistantMessageID int64
	CreatedAt          time.Time

	mu          sync.Mutex
	status      domain.SessionStatus
	events      []domain.StreamEvent
	subscribers map[int64]chan domain.StreamEvent
	nextSubID   int64

	cancelOnce sync.Once
	cancelled  chan struct{}
}

// newSession creates a pending session.
func newSession(id string, conversationID, assistantMessageID int64) *Session {
	return &Session{
		ID:                 id,
		ConversationID:     conversationID,
		AssistantMessageID: assistantMessageID,
		CreatedAt:          time.Now().UTC(),
		status:             domain.SessionStatusPending,
		subscribers:        make(map[int64]chan domain.StreamEvent),
		cancelled:          make(chan struct{}),
	}
}

// Status returns the current session status.
func (s *Session) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns the session as a domain record.
func (s *Session) Snapshot() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Session{
		SessionID:          s.ID,
		ConversationID:     s.ConversationID,
		AssistantMessageID: s.AssistantMessageID,
		Status:             s.status,
		CreatedAt:          s.CreatedAt,
	}
}

// setStatus advances the session status. Transitions are monotonic; an
// attempt to leave a terminal state is ignored.
func (s *Session) setStatus(status domain.SessionStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	s.status = status
	return true
}

// Cancel signals the worker to stop at the next token boundary. Safe to call
// any number of times and in any state.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.cancelled)
	})
}

// Cancelled returns a channel closed once cancellation has been requested.
func (s *Session) Cancelled() <-chan struct{} {
	return s.cancelled
}

// emit appends an event to the session log and fans it out to subscribers.
// A terminal event closes every subscriber channel; nothing is emitted after.
func (s *Session) emit(event domain.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) > 0 && s.events[len(s.events)-1].Type.Terminal() {
		return
	}
	s.events = append(s.events, event)

	for id, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// Slow consumer: drop the subscription, the client reconnects
			// with its replay offset.
			close(ch)
			delete(s.subscribers, id)
		}
	}

	if event.Type.Terminal() {
		for id, ch := range s.subscribers {
			close(ch)
			delete(s.subscribers, id)
		}
	}
}

// Subscribe returns a channel that replays buffered events from offset and
// then delivers live events. If the replayed slice already contains the
// terminal event the channel is closed immediately after the replay, so a
// late subscriber never hangs. The returned cancel func detaches the
// subscriber.
func (s *Session) Subscribe(offset int) (<-chan domain.StreamEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if offset < 0 {
		offset = 0
	}
	if offset > len(s.events) {
		offset = len(s.events)
	}
	replay := s.events[offset:]

	ch := make(chan domain.StreamEvent, len(replay)+subscriberBuffer)
	for _, ev := range replay {
		ch <- ev
	}

	terminalReplayed := len(replay) > 0 && replay[len(replay)-1].Type.Terminal()
	if terminalReplayed || (len(s.events) > 0 && s.events[len(s.events)-1].Type.Terminal()) {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if ch, ok := s.subscribers[id]; ok {
			close(ch)
			delete(s.subscribers, id)
		}
	}
	return ch, cancel
}

// EventCount returns the number of buffered events.
func (s *Session) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
