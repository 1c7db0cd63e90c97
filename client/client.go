package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/crazyief/gpt-oss-chat/domain"
)

// MaxReconnectAttempts bounds how often a dropped read connection is retried
// before the stream surfaces a terminal failure.
const MaxReconnectAttempts = 5

// Typed phase-1 failures. The caller can distinguish immediate failures
// (no retry) from transport loss, which the stream recovers from itself.
var (
	// ErrNotFound is returned when the conversation or session is unknown
	// or soft-deleted.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned for malformed start requests.
	ErrValidation = errors.New("validation failed")
	// ErrBlocked is returned when the message policy rejects the request.
	ErrBlocked = errors.New("blocked by policy")
)

// Client talks to the chat service.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// Reconnect backoff tuning.
	backoffInitial time.Duration
	backoffMax     time.Duration
}

// New creates a new client.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // Long timeout for streaming
		},
		backoffInitial: 500 * time.Millisecond,
		backoffMax:     5 * time.Second,
	}
}

// Stream is a cancellable lazy sequence of typed events for one session.
type Stream struct {
	SessionID string
	MessageID int64

	client *Client
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
}

// StartStream performs phase 1 (start call) and, on success, launches the
// phase-2 read loop. A phase-1 failure is returned immediately and phase 2
// is never attempted.
func (c *Client) StartStream(ctx context.Context, conversationID int64, message string) (*Stream, error) {
	body, err := json.Marshal(domain.StartChatRequest{
		ConversationID: conversationID,
		Message:        message,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/start", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("start call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, startError(resp)
	}

	var started domain.StartChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		return nil, fmt.Errorf("failed to decode start response: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		SessionID: started.SessionID,
		MessageID: started.MessageID,
		client:    c,
		ctx:       streamCtx,
		cancel:    cancel,
		events:    make(chan Event, 64),
	}
	go s.run()
	return s, nil
}

// startError maps a phase-1 HTTP failure to a typed error.
func startError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	msg := "start call failed"
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		msg = body.Error
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrValidation, msg)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrBlocked, msg)
	default:
		return fmt.Errorf("start call failed [%d]: %s", resp.StatusCode, msg)
	}
}

// Events returns the event channel. It is closed after a terminal event;
// no event is ever delivered after the terminal one.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Cancel requests server-side cancellation of the session. Fire-and-forget
// and idempotent; the stream ends with the next terminal event.
func (s *Stream) Cancel() {
	url := fmt.Sprintf("%s/v1/chat/stream/%s/cancel", s.client.baseURL, s.SessionID)
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, url, nil)
	if err != nil {
		return
	}
	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		log.Printf("WARN: cancel request for session %s failed: %v", s.SessionID, err)
		return
	}
	resp.Body.Close()
}

// Close tears the stream down without waiting for a terminal event.
func (s *Stream) Close() {
	s.cancel()
}

// run drives the phase-2 read loop with bounded reconnect. offset counts
// events already seen so a reconnect replays only what was missed.
func (s *Stream) run() {
	defer close(s.events)
	defer s.cancel()

	offset := 0
	attempt := 0
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.client.backoffInitial
	policy.MaxInterval = s.client.backoffMax

	for {
		received, err := s.consume(&offset)
		if err == nil {
			// Terminal event delivered.
			return
		}
		if s.ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrNotFound) {
			// The session is gone; reconnecting cannot help.
			s.deliver(Event{
				Type:      EventError,
				MessageID: s.MessageID,
				Reason:    "session not found",
			})
			return
		}

		if received {
			// The connection made progress before dropping; a fresh drop
			// gets a fresh retry budget.
			attempt = 0
			policy.Reset()
		}
		attempt++
		if attempt > MaxReconnectAttempts {
			s.deliver(Event{
				Type:      EventError,
				MessageID: s.MessageID,
				Reason:    fmt.Sprintf("connection lost after %d reconnect attempts", MaxReconnectAttempts),
			})
			return
		}

		s.deliver(Event{
			Type:        EventReconnecting,
			MessageID:   s.MessageID,
			Attempt:     attempt,
			MaxAttempts: MaxReconnectAttempts,
		})

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(policy.NextBackOff()):
		}
	}
}

// consume opens one read connection and delivers its events. It returns nil
// once the terminal event has been delivered, and reports whether any event
// arrived on this connection.
func (s *Stream) consume(offset *int) (bool, error) {
	url := fmt.Sprintf("%s/v1/chat/stream/%s?offset=%d", s.client.baseURL, s.SessionID, *offset)
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("stream connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("stream returned status %d: %s", resp.StatusCode, string(body))
	}

	received := false
	scanner := bufio.NewScanner(resp.Body)
	var name, data string

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line marks end of event
		if line == "" {
			if name != "" || data != "" {
				event, err := decodeEvent(name, []byte(data))
				// A malformed event still occupies a slot in the server's
				// log, so the replay cursor advances either way. Otherwise a
				// later reconnect would replay already-delivered events.
				*offset++
				received = true
				if err != nil {
					log.Printf("WARN: skipping malformed %s event: %v", name, err)
					name, data = "", ""
					continue
				}
				s.deliver(event)
				if event.Type.Terminal() {
					return true, nil
				}
				name, data = "", ""
			}
			continue
		}

		if strings.HasPrefix(line, "event:") {
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			chunk := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data != "" {
				data += "\n" + chunk
			} else {
				data = chunk
			}
		}
		// Ignore comments (lines starting with :) and other fields
	}

	if err := scanner.Err(); err != nil {
		return received, fmt.Errorf("stream read failed: %w", err)
	}
	return received, fmt.Errorf("stream closed before terminal event")
}

// deliver pushes an event to the consumer in arrival order. A full channel
// applies backpressure rather than dropping or reordering.
func (s *Stream) deliver(event Event) {
	select {
	case s.events <- event:
	case <-s.ctx.Done():
	}
}
