package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/crazyief/gpt-oss-chat/config"
	"github.com/crazyief/gpt-oss-chat/domain"
	"github.com/crazyief/gpt-oss-chat/engine"
	"github.com/crazyief/gpt-oss-chat/policy"
	"github.com/crazyief/gpt-oss-chat/session"
	"github.com/crazyief/gpt-oss-chat/store"
	"github.com/crazyief/gpt-oss-chat/tests/helpers"
)

type testFixture struct {
	handler  *Handler
	store    store.Store
	sessions *session.Manager
	echo     *echo.Echo
}

func newTestFixture(t *testing.T, eng engine.Engine) *testFixture {
	t.Helper()

	st := helpers.NewTestSQLiteStore(t)

	policyEngine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}

	cfg := &config.Config{
		EngineModel:   "gpt-oss",
		IdleTimeout:   5 * time.Second,
		EvictionGrace: time.Minute,
		HistoryLimit:  50,
	}
	registry := session.NewRegistry(cfg.EvictionGrace)
	sessions := session.NewManager(st, eng, registry, cfg)

	return &testFixture{
		handler:  NewHandler(st, sessions, policyEngine),
		store:    st,
		sessions: sessions,
		echo:     echo.New(),
	}
}

func (f *testFixture) createConversation(t *testing.T) *domain.Conversation {
	t.Helper()
	conv, err := f.store.CreateConversation(context.Background(), "test chat")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	return conv
}

func (f *testFixture) postJSON(path, body string) (*httptest.ResponseRecorder, echo.Context) {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return rec, f.echo.NewContext(req, rec)
}

// waitForTerminal polls until the session reaches a terminal status.
func waitForTerminal(t *testing.T, sessions *session.Manager, sessionID string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		sess := sessions.Get(sessionID)
		if sess == nil {
			t.Fatalf("session %s disappeared before terminal", sessionID)
		}
		if sess.Status().Terminal() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("session %s never reached terminal status", sessionID)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartChatSuccess(t *testing.T) {
	f := newTestFixture(t, &engine.MockEngine{Response: "hi there", ChunkSize: 4, FailAfter: -1})
	conv := f.createConversation(t)

	rec, c := f.postJSON("/v1/chat/start", fmt.Sprintf(`{"conversation_id": %d, "message": "hello"}`, conv.ID))
	if err := f.handler.StartChat(c); err != nil {
		t.Fatalf("StartChat failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp domain.StartChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SessionID == "" || resp.MessageID == 0 {
		t.Fatalf("incomplete response: %+v", resp)
	}
	if f.sessions.Get(resp.SessionID) == nil {
		t.Fatalf("session %s not registered", resp.SessionID)
	}

	// Both the user message and the assistant placeholder must be durable
	// before the response is returned.
	messages, err := f.store.GetMessages(context.Background(), conv.ID, 0)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(messages))
	}
	if messages[0].Role != domain.RoleUser || messages[0].Content != "hello" {
		t.Fatalf("unexpected user message: %+v", messages[0])
	}
	if messages[1].Role != domain.RoleAssistant || messages[1].ID != resp.MessageID {
		t.Fatalf("unexpected assistant placeholder: %+v", messages[1])
	}
	if messages[1].ParentMessageID == nil || *messages[1].ParentMessageID != messages[0].ID {
		t.Fatalf("placeholder missing parent link: %+v", messages[1])
	}

	waitForTerminal(t, f.sessions, resp.SessionID)
}

func TestStartChatEmptyMessage(t *testing.T) {
	f := newTestFixture(t, engine.NewMockEngine())
	conv := f.createConversation(t)

	rec, c := f.postJSON("/v1/chat/start", fmt.Sprintf(`{"conversation_id": %d, "message": "   "}`, conv.ID))
	if err := f.handler.StartChat(c); err != nil {
		t.Fatalf("StartChat failed: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	messages, err := f.store.GetMessages(context.Background(), conv.ID, 0)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected no persisted messages, got %d", len(messages))
	}
}

func TestStartChatUnknownConversation(t *testing.T) {
	f := newTestFixture(t, engine.NewMockEngine())

	rec, c := f.postJSON("/v1/chat/start", `{"conversation_id": 9999, "message": "hello"}`)
	if err := f.handler.StartChat(c); err != nil {
		t.Fatalf("StartChat failed: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStartChatBlockedByPolicy(t *testing.T) {
	f := newTestFixture(t, engine.NewMockEngine())
	conv := f.createConversation(t)

	oversized := strings.Repeat("a", 40000)
	rec, c := f.postJSON("/v1/chat/start", fmt.Sprintf(`{"conversation_id": %d, "message": %q}`, conv.ID, oversized))
	if err := f.handler.StartChat(c); err != nil {
		t.Fatalf("StartChat failed: %v", err)
	}
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}

	messages, err := f.store.GetMessages(context.Background(), conv.ID, 0)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("blocked message must not be persisted, got %d rows", len(messages))
	}
}

func TestStreamChatUnknownSession(t *testing.T) {
	f := newTestFixture(t, engine.NewMockEngine())

	req := httptest.NewRequest(http.MethodGet, "/v1/chat/stream/nope", nil)
	rec := httptest.NewRecorder()
	c := f.echo.NewContext(req, rec)
	c.SetParamNames("session_id")
	c.SetParamValues("nope")

	if err := f.handler.StreamChat(c); err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStreamChatAfterTerminalReplays(t *testing.T) {
	f := newTestFixture(t, &engine.MockEngine{Response: "full reply", ChunkSize: 5, FailAfter: -1})
	conv := f.createConversation(t)

	rec, c := f.postJSON("/v1/chat/start", fmt.Sprintf(`{"conversation_id": %d, "message": "hello"}`, conv.ID))
	if err := f.handler.StartChat(c); err != nil {
		t.Fatalf("StartChat failed: %v", err)
	}
	var resp domain.StartChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	waitForTerminal(t, f.sessions, resp.SessionID)

	// A stream opened after completion replays the whole log and returns
	// immediately, it must not hang.
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/stream/"+resp.SessionID, nil)
	streamRec := httptest.NewRecorder()
	sc := f.echo.NewContext(req, streamRec)
	sc.SetParamNames("session_id")
	sc.SetParamValues(resp.SessionID)

	if err := f.handler.StreamChat(sc); err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}

	body := streamRec.Body.String()
	if !strings.Contains(body, "event: token") {
		t.Fatalf("expected replayed token events, got: %s", body)
	}
	if !strings.Contains(body, "event: complete") {
		t.Fatalf("expected terminal complete event, got: %s", body)
	}
	if got := streamRec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type: %s", got)
	}
}

func TestStreamChatOffsetSkipsDeliveredEvents(t *testing.T) {
	f := newTestFixture(t, &engine.MockEngine{Response: "full reply", ChunkSize: 5, FailAfter: -1})
	conv := f.createConversation(t)

	rec, c := f.postJSON("/v1/chat/start", fmt.Sprintf(`{"conversation_id": %d, "message": "hello"}`, conv.ID))
	if err := f.handler.StartChat(c); err != nil {
		t.Fatalf("StartChat failed: %v", err)
	}
	var resp domain.StartChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	waitForTerminal(t, f.sessions, resp.SessionID)

	sess := f.sessions.Get(resp.SessionID)
	offset := sess.EventCount() - 1

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/chat/stream/%s?offset=%d", resp.SessionID, offset), nil)
	streamRec := httptest.NewRecorder()
	sc := f.echo.NewContext(req, streamRec)
	sc.SetParamNames("session_id")
	sc.SetParamValues(resp.SessionID)

	if err := f.handler.StreamChat(sc); err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}

	body := streamRec.Body.String()
	if strings.Contains(body, "event: token") {
		t.Fatalf("expected tokens before the offset to be skipped, got: %s", body)
	}
	if !strings.Contains(body, "event: complete") {
		t.Fatalf("expected terminal event after offset, got: %s", body)
	}
}

func TestCancelChatUnknownSessionReturnsOK(t *testing.T) {
	f := newTestFixture(t, engine.NewMockEngine())

	rec, c := f.postJSON("/v1/chat/stream/nope/cancel", "")
	c.SetParamNames("session_id")
	c.SetParamValues("nope")

	if err := f.handler.CancelChat(c); err != nil {
		t.Fatalf("CancelChat failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown session, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestCancelChatStopsStreaming(t *testing.T) {
	f := newTestFixture(t, &engine.MockEngine{Response: strings.Repeat("x", 200), ChunkSize: 1, FailAfter: -1, TokenDelay: 10 * time.Millisecond})
	conv := f.createConversation(t)

	rec, c := f.postJSON("/v1/chat/start", fmt.Sprintf(`{"conversation_id": %d, "message": "hello"}`, conv.ID))
	if err := f.handler.StartChat(c); err != nil {
		t.Fatalf("StartChat failed: %v", err)
	}
	var resp domain.StartChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	cancelRec, cc := f.postJSON("/v1/chat/stream/"+resp.SessionID+"/cancel", "")
	cc.SetParamNames("session_id")
	cc.SetParamValues(resp.SessionID)
	if err := f.handler.CancelChat(cc); err != nil {
		t.Fatalf("CancelChat failed: %v", err)
	}
	if cancelRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", cancelRec.Code)
	}

	waitForTerminal(t, f.sessions, resp.SessionID)
	sess := f.sessions.Get(resp.SessionID)
	if sess.Status() != domain.SessionStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", sess.Status())
	}

	msg, err := f.store.GetMessage(context.Background(), resp.MessageID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if len(msg.Content) >= 200 {
		t.Fatalf("expected partial content after cancellation, got %d bytes", len(msg.Content))
	}
}

func TestHealth(t *testing.T) {
	f := newTestFixture(t, engine.NewMockEngine())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := f.echo.NewContext(req, rec)

	if err := f.handler.Health(c); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}
