package engine

import (
	"context"
	"fmt"
	"time"
)

// MockEngine is a scriptable Engine implementation for tests and local
// development without a running inference backend.
type MockEngine struct {
	// Response is the full text to stream. When empty, a canned reply based
	// on the last user message is generated.
	Response string
	// ChunkSize controls how the response is split into tokens.
	ChunkSize int
	// FailAfter, when >= 0, aborts the stream with Err after that many tokens.
	FailAfter int
	// Err is the error returned when FailAfter triggers.
	Err error
	// TokenDelay is slept between tokens to simulate engine latency.
	TokenDelay time.Duration
}

// NewMockEngine creates a mock engine with defaults.
func NewMockEngine() *MockEngine {
	return &MockEngine{ChunkSize: 10, FailAfter: -1}
}

// Ensure MockEngine implements Engine.
var _ Engine = (*MockEngine)(nil)

// StreamCompletion streams the scripted response in chunks.
func (m *MockEngine) StreamCompletion(ctx context.Context, req *CompletionRequest, callback TokenCallback) (*Usage, error) {
	response := m.Response
	if response == "" {
		response = m.generateResponse(req)
	}

	chunkSize := m.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 10
	}

	sent := 0
	for i := 0; i < len(response); i += chunkSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if m.FailAfter >= 0 && sent >= m.FailAfter {
			return nil, m.Err
		}

		end := i + chunkSize
		if end > len(response) {
			end = len(response)
		}

		if m.TokenDelay > 0 {
			time.Sleep(m.TokenDelay)
		}

		if err := callback(response[i:end]); err != nil {
			return nil, err
		}
		sent++
	}

	promptTokens := 0
	for _, msg := range req.Messages {
		promptTokens += len(msg.Content) / 4
	}
	return &Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: sent,
		TotalTokens:      promptTokens + sent,
	}, nil
}

// generateResponse builds a canned reply from the last user message.
func (m *MockEngine) generateResponse(req *CompletionRequest) string {
	var lastUserMessage string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastUserMessage = req.Messages[i].Content
			break
		}
	}

	if lastUserMessage == "" {
		return "[MOCK] This is a mock response from the inference engine."
	}
	return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(lastUserMessage, 100))
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
