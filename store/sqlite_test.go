package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/crazyief/gpt-oss-chat/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "first chat")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if conv.ID == 0 {
		t.Fatalf("expected assigned id, got 0")
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got == nil || got.Title != "first chat" {
		t.Fatalf("unexpected conversation: %+v", got)
	}

	list, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(list))
	}
}

func TestGetConversationUnknown(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.GetConversation(context.Background(), 9999)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv != nil {
		t.Fatalf("expected nil for unknown conversation, got %+v", conv)
	}
}

func TestSoftDeleteHidesConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "doomed")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	if err := s.SoftDeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("SoftDeleteConversation failed: %v", err)
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected soft-deleted conversation to be invisible, got %+v", got)
	}

	list, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}

	if err := s.SoftDeleteConversation(ctx, conv.ID); err != sql.ErrNoRows {
		t.Fatalf("expected ErrNoRows on second delete, got %v", err)
	}
}

func TestMessageCreateAndFinalize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "chat")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	user := &domain.Message{ConversationID: conv.ID, Role: domain.RoleUser, Content: "hello"}
	if err := s.CreateMessage(ctx, user); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	if user.ID == 0 {
		t.Fatalf("expected assigned message id")
	}

	assistant := &domain.Message{ConversationID: conv.ID, Role: domain.RoleAssistant, Content: "", ParentMessageID: &user.ID}
	if err := s.CreateMessage(ctx, assistant); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	got, err := s.GetMessage(ctx, assistant.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.Content != "" {
		t.Fatalf("expected empty placeholder content, got %q", got.Content)
	}
	if got.ParentMessageID == nil || *got.ParentMessageID != user.ID {
		t.Fatalf("unexpected parent id: %+v", got.ParentMessageID)
	}

	if err := s.FinalizeMessage(ctx, assistant.ID, "generated text", 3, 240); err != nil {
		t.Fatalf("FinalizeMessage failed: %v", err)
	}

	got, err = s.GetMessage(ctx, assistant.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.Content != "generated text" || got.TokenCount != 3 || got.CompletionTimeMs != 240 {
		t.Fatalf("unexpected finalized message: %+v", got)
	}
}

func TestGetRecentMessagesKeepsNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "chat")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	for _, content := range []string{"one", "two", "three", "four"} {
		msg := &domain.Message{ConversationID: conv.ID, Role: domain.RoleUser, Content: content}
		if err := s.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	recent, err := s.GetRecentMessages(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("GetRecentMessages failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(recent))
	}
	// The newest rows survive the window, in creation order.
	if recent[0].Content != "three" || recent[1].Content != "four" {
		t.Fatalf("unexpected window: %q, %q", recent[0].Content, recent[1].Content)
	}

	all, err := s.GetRecentMessages(ctx, conv.ID, 0)
	if err != nil {
		t.Fatalf("GetRecentMessages failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected all messages without a limit, got %d", len(all))
	}
}

func TestCreateMessageBumpsConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older, err := s.CreateConversation(ctx, "older")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := s.CreateConversation(ctx, "newer"); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	msg := &domain.Message{ConversationID: older.ID, Role: domain.RoleUser, Content: "hello"}
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	// New activity floats the conversation to the top of the list.
	list, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(list))
	}
	if list[0].ID != older.ID {
		t.Fatalf("expected active conversation first, got %q", list[0].Title)
	}
}

func TestFinalizeUnknownMessage(t *testing.T) {
	s := newTestStore(t)

	err := s.FinalizeMessage(context.Background(), 9999, "x", 1, 1)
	if err != sql.ErrNoRows {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
}

func TestGetMessagesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "chat")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	contents := []string{"one", "two", "three"}
	for _, content := range contents {
		msg := &domain.Message{ConversationID: conv.ID, Role: domain.RoleUser, Content: content}
		if err := s.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	messages, err := s.GetMessages(ctx, conv.ID, 0)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i, content := range contents {
		if messages[i].Content != content {
			t.Fatalf("unexpected order: %+v", messages)
		}
	}

	limited, err := s.GetMessages(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(limited))
	}
}
