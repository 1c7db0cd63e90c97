// Package api provides HTTP handlers for the chat service.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/crazyief/gpt-oss-chat/policy"
	"github.com/crazyief/gpt-oss-chat/session"
	"github.com/crazyief/gpt-oss-chat/store"
)

// Handler handles HTTP requests.
type Handler struct {
	store    store.Store
	sessions *session.Manager
	policy   *policy.Engine
}

// NewHandler creates a new handler.
func NewHandler(store store.Store, sessions *session.Manager, policyEngine *policy.Engine) *Handler {
	return &Handler{
		store:    store,
		sessions: sessions,
		policy:   policyEngine,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Streaming chat (two-phase protocol)
	e.POST("/v1/chat/start", h.StartChat)
	e.GET("/v1/chat/stream/:session_id", h.StreamChat)
	e.POST("/v1/chat/stream/:session_id/cancel", h.CancelChat)

	// Conversation CRUD
	e.POST("/v1/conversations", h.CreateConversation)
	e.GET("/v1/conversations", h.ListConversations)
	e.GET("/v1/conversations/:conversation_id", h.GetConversation)
	e.GET("/v1/conversations/:conversation_id/messages", h.GetConversationMessages)
	e.DELETE("/v1/conversations/:conversation_id", h.DeleteConversation)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
