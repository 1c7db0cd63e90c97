package api

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/crazyief/gpt-oss-chat/domain"
	"github.com/crazyief/gpt-oss-chat/policy"
)

// StartChat is phase 1 of the streaming protocol: it persists the user
// message plus an empty assistant placeholder, allocates a session and hands
// off to the session worker. It returns only after both rows are durable.
// POST /v1/chat/start
func (h *Handler) StartChat(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.StartChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
	}
	if req.ConversationID <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "conversation_id is required"})
	}

	conv, err := h.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		log.Printf("ERROR: failed to get conversation: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get conversation"})
	}
	if conv == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	}

	decision, reason, err := h.policy.Evaluate(ctx, policy.MessageInput{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		Length:         len(req.Message),
	})
	if err != nil {
		log.Printf("ERROR: failed to evaluate message policy: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to evaluate policy"})
	}
	if decision == "block" {
		if reason == "" {
			reason = "message blocked by policy"
		}
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": reason})
	}

	userMsg := &domain.Message{
		ConversationID: req.ConversationID,
		Role:           domain.RoleUser,
		Content:        req.Message,
	}
	if err := h.store.CreateMessage(ctx, userMsg); err != nil {
		log.Printf("ERROR: failed to persist user message: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to persist message"})
	}

	assistantMsg := &domain.Message{
		ConversationID:  req.ConversationID,
		Role:            domain.RoleAssistant,
		Content:         "",
		ParentMessageID: &userMsg.ID,
	}
	if err := h.store.CreateMessage(ctx, assistantMsg); err != nil {
		log.Printf("ERROR: failed to persist assistant placeholder: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to persist message"})
	}

	sess := h.sessions.Start(req.ConversationID, assistantMsg.ID)

	return c.JSON(http.StatusOK, domain.StartChatResponse{
		SessionID: sess.ID,
		MessageID: assistantMsg.ID,
	})
}

// StreamChat is phase 2: a long-lived read-only SSE stream addressed by
// session id. Buffered events are replayed from the optional offset cursor,
// so a reconnecting client never misses tokens and a stream opened after the
// terminal event returns that event immediately instead of hanging.
// GET /v1/chat/stream/:session_id
func (h *Handler) StreamChat(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	sess := h.sessions.Get(sessionID)
	if sess == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	events, unsubscribe := sess.Subscribe(offset)
	defer unsubscribe()

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	if flusher, ok := c.Response().Writer.(http.Flusher); ok {
		flusher.Flush()
	}

	for {
		select {
		case <-ctx.Done():
			// Client disconnected
			return nil

		case event, ok := <-events:
			if !ok {
				// Terminal event delivered (or subscriber dropped)
				return nil
			}
			if err := h.sendSSEEvent(c, event); err != nil {
				log.Printf("ERROR: failed to send SSE event: %v", err)
				return err
			}
			if event.Type.Terminal() {
				return nil
			}
		}
	}
}

// CancelChat requests cancellation of a session. Fire-and-forget and
// idempotent: cancelling a terminal or already-evicted session is a no-op.
// POST /v1/chat/stream/:session_id/cancel
func (h *Handler) CancelChat(c echo.Context) error {
	sessionID := c.Param("session_id")

	if !h.sessions.Cancel(sessionID) {
		log.Printf("INFO: cancel for unknown session %s ignored", sessionID)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// sendSSEEvent sends a single event in SSE format.
func (h *Handler) sendSSEEvent(c echo.Context, event domain.StreamEvent) error {
	// Format: event: <event_type>\ndata: <json>\n\n
	if _, err := fmt.Fprintf(c.Response().Writer, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response().Writer, "data: %s\n\n", event.Payload); err != nil {
		return err
	}

	if flusher, ok := c.Response().Writer.(http.Flusher); ok {
		flusher.Flush()
	}

	return nil
}
