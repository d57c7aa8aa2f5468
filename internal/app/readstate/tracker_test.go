package readstate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"vendio/internal/domain/chat"
	"vendio/internal/infra/storage/memory"
)

func seedConversation(t *testing.T, store *memory.Store) chat.Conversation {
	t.Helper()
	conv, err := store.GetOrCreateConversation(context.Background(), "listing-1", "buyer", "seller")
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return conv
}

func appendFrom(t *testing.T, store *memory.Store, conv chat.Conversation, sender chat.UserID, id string) {
	t.Helper()
	err := store.AppendMessage(context.Background(), chat.Message{
		ID:             chat.MessageID(id),
		ConversationID: conv.ID,
		SenderID:       sender,
		Content:        "message " + id,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("append message: %v", err)
	}
}

func TestMarkConversationRead_FlipsUnread(t *testing.T) {
	store := memory.NewStore()
	tracker := NewTracker(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	conv := seedConversation(t, store)

	appendFrom(t, store, conv, "buyer", "m1")
	appendFrom(t, store, conv, "buyer", "m2")

	flipped, err := tracker.MarkConversationRead(context.Background(), conv.ID, "seller")
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if flipped != 2 {
		t.Fatalf("flipped = %d, want 2", flipped)
	}

	updated, err := store.GetConversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	if updated.SellerUnreadCount != 0 {
		t.Fatalf("seller unread = %d, want 0", updated.SellerUnreadCount)
	}
	messages, _ := store.ListMessages(context.Background(), conv.ID, 0, "")
	for _, msg := range messages {
		if !msg.IsRead {
			t.Fatalf("message %s not flipped to read", msg.ID)
		}
	}
}

func TestMarkConversationRead_SecondCallIssuesNoWrite(t *testing.T) {
	store := memory.NewStore()
	tracker := NewTracker(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	conv := seedConversation(t, store)
	appendFrom(t, store, conv, "buyer", "m1")

	if _, err := tracker.MarkConversationRead(context.Background(), conv.ID, "seller"); err != nil {
		t.Fatalf("first mark read: %v", err)
	}
	writes := store.ReadWrites()

	flipped, err := tracker.MarkConversationRead(context.Background(), conv.ID, "seller")
	if err != nil {
		t.Fatalf("second mark read: %v", err)
	}
	if flipped != 0 {
		t.Fatalf("second call flipped %d messages, want 0", flipped)
	}
	if store.ReadWrites() != writes {
		t.Fatalf("second mark read issued a write")
	}
}

func TestMarkConversationRead_RejectsOutsider(t *testing.T) {
	store := memory.NewStore()
	tracker := NewTracker(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	conv := seedConversation(t, store)

	if _, err := tracker.MarkConversationRead(context.Background(), conv.ID, "intruder"); !errors.Is(err, chat.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestHandleInbound_FocusedThreadReadsImmediately(t *testing.T) {
	store := memory.NewStore()
	tracker := NewTracker(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	conv := seedConversation(t, store)
	appendFrom(t, store, conv, "buyer", "m1")

	msg, _ := store.GetMessage(context.Background(), conv.ID, "m1")
	tracker.HandleInbound(context.Background(), msg, "seller", true)

	updated, _ := store.GetConversation(context.Background(), conv.ID)
	if updated.SellerUnreadCount != 0 {
		t.Fatalf("focused inbound did not mark read")
	}
}

func TestHandleInbound_IgnoresOwnAndUnfocused(t *testing.T) {
	store := memory.NewStore()
	tracker := NewTracker(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	conv := seedConversation(t, store)
	appendFrom(t, store, conv, "buyer", "m1")

	msg, _ := store.GetMessage(context.Background(), conv.ID, "m1")
	tracker.HandleInbound(context.Background(), msg, "seller", false)
	tracker.HandleInbound(context.Background(), msg, "buyer", true)

	updated, _ := store.GetConversation(context.Background(), conv.ID)
	if updated.SellerUnreadCount != 1 {
		t.Fatalf("unfocused or own message changed read state")
	}
}
