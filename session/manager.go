package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/crazyief/gpt-oss-chat/config"
	"github.com/crazyief/gpt-oss-chat/domain"
	"github.com/crazyief/gpt-oss-chat/engine"
	"github.com/crazyief/gpt-oss-chat/store"
)

// ErrCancelled stops the engine stream at a token boundary after a
// cancellation request. It marks a normal terminal state, not a failure.
var ErrCancelled = errors.New("generation cancelled")

// Manager allocates sessions and runs one generation worker per session.
type Manager struct {
	store    store.Store
	engine   engine.Engine
	registry *Registry

	model        string
	idleTimeout  time.Duration
	historyLimit int
}

// NewManager creates a session manager.
func NewManager(st store.Store, eng engine.Engine, registry *Registry, cfg *config.Config) *Manager {
	return &Manager{
		store:        st,
		engine:       eng,
		registry:     registry,
		model:        cfg.EngineModel,
		idleTimeout:  cfg.IdleTimeout,
		historyLimit: cfg.HistoryLimit,
	}
}

// Start allocates a session for the given assistant message, registers it
// and hands off to an async worker. The returned session is status pending.
func (m *Manager) Start(conversationID, assistantMessageID int64) *Session {
	sess := newSession("sess_"+uuid.New().String(), conversationID, assistantMessageID)
	m.registry.Add(sess)
	go m.run(sess)
	return sess
}

// Get returns the session for the given id, or nil if unknown or evicted.
func (m *Manager) Get(sessionID string) *Session {
	return m.registry.Get(sessionID)
}

// Cancel requests cancellation of a session. Idempotent: cancelling a
// terminal session is a no-op. Returns false if the session is unknown.
func (m *Manager) Cancel(sessionID string) bool {
	sess := m.registry.Get(sessionID)
	if sess == nil {
		return false
	}
	if sess.Status().Terminal() {
		return true
	}
	sess.Cancel()
	return true
}

// run is the per-session worker. It pulls tokens from the engine, advances
// the state machine and persists the final content exactly once.
func (m *Manager) run(sess *Session) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Forward the cooperative cancel signal into the engine request context
	// so a blocked engine read stops at its next safe boundary.
	go func() {
		select {
		case <-sess.Cancelled():
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	var buf strings.Builder
	tokenCount := 0

	prompt, err := m.buildPrompt(ctx, sess)
	if err != nil {
		log.Printf("ERROR: failed to build prompt for session %s: %v", sess.ID, err)
		m.finish(sess, domain.SessionStatusError, buf.String(), tokenCount, start, "failed to load conversation history")
		return
	}

	// Cancelled before the engine was ever asked for a token.
	select {
	case <-sess.Cancelled():
		m.finish(sess, domain.SessionStatusCancelled, buf.String(), tokenCount, start, "cancelled by user")
		return
	default:
	}

	var stalled atomic.Bool
	idle := time.AfterFunc(m.idleTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer idle.Stop()

	callback := func(token string) error {
		select {
		case <-sess.Cancelled():
			return ErrCancelled
		default:
		}
		idle.Reset(m.idleTimeout)
		if tokenCount == 0 {
			sess.setStatus(domain.SessionStatusStreaming)
		}
		buf.WriteString(token)
		tokenCount++
		m.emitToken(sess, token)
		return nil
	}

	_, err = m.engine.StreamCompletion(ctx, &engine.CompletionRequest{
		Model:    m.model,
		Messages: prompt,
	}, callback)
	idle.Stop()

	cancelRequested := false
	select {
	case <-sess.Cancelled():
		cancelRequested = true
	default:
	}

	switch {
	case err == nil:
		m.finish(sess, domain.SessionStatusComplete, buf.String(), tokenCount, start, "")
	case errors.Is(err, ErrCancelled) || cancelRequested:
		m.finish(sess, domain.SessionStatusCancelled, buf.String(), tokenCount, start, "cancelled by user")
	case stalled.Load():
		reason := fmt.Sprintf("engine stalled: no token within %s", m.idleTimeout)
		log.Printf("ERROR: session %s: %s", sess.ID, reason)
		m.finish(sess, domain.SessionStatusError, buf.String(), tokenCount, start, reason)
	default:
		log.Printf("ERROR: session %s: engine stream failed: %v", sess.ID, err)
		m.finish(sess, domain.SessionStatusError, buf.String(), tokenCount, start, err.Error())
	}
}

// buildPrompt assembles the engine prompt from the newest persisted
// conversation history, excluding the still-empty assistant placeholder. When
// the history window is exceeded the oldest messages are dropped, never the
// user message that started this session.
func (m *Manager) buildPrompt(ctx context.Context, sess *Session) ([]engine.ChatMessage, error) {
	messages, err := m.store.GetRecentMessages(ctx, sess.ConversationID, m.historyLimit)
	if err != nil {
		return nil, err
	}

	prompt := make([]engine.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.ID == sess.AssistantMessageID {
			continue
		}
		prompt = append(prompt, engine.ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	return prompt, nil
}

// finish persists whatever content was accumulated, emits the terminal event
// and advances the session to its terminal status. Content is never dropped
// on abnormal termination.
func (m *Manager) finish(sess *Session, status domain.SessionStatus, content string, tokenCount int, start time.Time, reason string) {
	completionTimeMs := time.Since(start).Milliseconds()

	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.FinalizeMessage(persistCtx, sess.AssistantMessageID, content, tokenCount, completionTimeMs); err != nil {
		log.Printf("ERROR: failed to persist message %d for session %s: %v", sess.AssistantMessageID, sess.ID, err)
		if status == domain.SessionStatusComplete {
			status = domain.SessionStatusError
			reason = "failed to persist generated content"
		}
	}

	if !sess.setStatus(status) {
		// Already terminal, terminal event was emitted by whoever won.
		return
	}

	switch status {
	case domain.SessionStatusComplete:
		m.emitEvent(sess, domain.EventTypeComplete, domain.CompletePayload{
			MessageID:        sess.AssistantMessageID,
			TokenCount:       tokenCount,
			CompletionTimeMs: completionTimeMs,
		})
	case domain.SessionStatusCancelled:
		m.emitEvent(sess, domain.EventTypeCancelled, domain.TerminalPayload{
			MessageID: sess.AssistantMessageID,
			Reason:    reason,
		})
	default:
		m.emitEvent(sess, domain.EventTypeError, domain.TerminalPayload{
			MessageID: sess.AssistantMessageID,
			Reason:    reason,
		})
	}

	m.registry.ScheduleEviction(sess.ID)
}

// emitToken emits a token event for the session.
func (m *Manager) emitToken(sess *Session, token string) {
	m.emitEvent(sess, domain.EventTypeToken, domain.TokenPayload{
		Token:     token,
		MessageID: sess.AssistantMessageID,
		SessionID: sess.ID,
	})
}

func (m *Manager) emitEvent(sess *Session, eventType domain.EventType, payload interface{}) {
	event, err := domain.NewStreamEvent(eventType, payload)
	if err != nil {
		log.Printf("ERROR: failed to build %s event for session %s: %v", eventType, sess.ID, err)
		return
	}
	sess.emit(event)
}
