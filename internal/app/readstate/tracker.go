package readstate

import (
	"context"
	"log/slog"

	"vendio/internal/app/policies"
	"vendio/internal/domain/chat"
)

// Tracker owns the mark-as-read operation and its trigger points. The store
// guarantees idempotence: a second mark with no new messages in between issues
// no write and fires no side effect.
type Tracker struct {
	store  policies.ConversationStore
	logger *slog.Logger
}

// NewTracker wires the tracker to the durable store.
func NewTracker(store policies.ConversationStore, logger *slog.Logger) *Tracker {
	return &Tracker{store: store, logger: logger}
}

// MarkConversationRead zeroes the participant's unread counter and flips
// is_read on their unread inbound messages. Returns how many messages flipped;
// zero means the call was a no-op.
func (t *Tracker) MarkConversationRead(ctx context.Context, conversationID chat.ConversationID, participantID chat.UserID) (int, error) {
	conv, err := t.store.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !conv.IsParticipant(participantID) {
		return 0, chat.ErrNotParticipant
	}
	if conv.UnreadFor(participantID) == 0 {
		// already read, skip the write entirely
		return 0, nil
	}
	flipped, err := t.store.MarkConversationRead(ctx, conversationID, participantID)
	if err != nil {
		return 0, chat.NewPersistenceError("mark read", err)
	}
	if t.logger != nil && flipped > 0 {
		t.logger.Debug("conversation marked read", "conversation_id", conversationID, "user_id", participantID, "flipped", flipped)
	}
	return flipped, nil
}

// HandleInbound is the focused-conversation trigger: a new message from the
// peer of an actively viewed thread is read immediately.
func (t *Tracker) HandleInbound(ctx context.Context, msg chat.Message, localUser chat.UserID, focused bool) {
	if !focused || msg.SenderID == localUser {
		return
	}
	if _, err := t.MarkConversationRead(ctx, msg.ConversationID, localUser); err != nil && t.logger != nil {
		t.logger.Warn("inbound mark read failed", "conversation_id", msg.ConversationID, "error", err)
	}
}
