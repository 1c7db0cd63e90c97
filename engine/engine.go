// Package engine provides the boundary to the LLM inference engine.
package engine

import (
	"context"
	"log"
	"os"
	"time"
)

// TokenCallback is called for each token produced by the engine.
// Returning an error stops the stream at the next token boundary.
type TokenCallback func(token string) error

// Engine defines the interface for inference engine operations.
type Engine interface {
	// StreamCompletion requests a completion and streams tokens through the
	// callback in production order.
	StreamCompletion(ctx context.Context, req *CompletionRequest, callback TokenCallback) (*Usage, error)
}

// ChatMessage is a single prompt message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is an engine completion request.
type CompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// Usage reports token usage for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

const (
	// EnvChatMode is the environment variable name for mode selection.
	EnvChatMode = "CHAT_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// NewEngine creates an engine based on the CHAT_MODE environment variable.
// If CHAT_MODE=MOCK, returns a MockEngine; otherwise returns a real Client.
func NewEngine(baseURL, apiKey string, timeout time.Duration) Engine {
	if os.Getenv(EnvChatMode) == ModeMock {
		log.Println("CHAT_MODE=MOCK detected, using mock inference engine")
		return NewMockEngine()
	}
	return NewClient(baseURL, apiKey, timeout)
}
