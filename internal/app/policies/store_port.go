package policies

import (
	"context"
	"errors"

	"vendio/internal/domain/chat"
)

var (
	ErrConversationNotFound = errors.New("store: conversation not found")
	ErrMessageNotFound      = errors.New("store: message not found")
)

// ConversationStore is the durable persistence collaborator for conversations
// and messages. The messaging core never keeps the only copy of a message; the
// store does.
type ConversationStore interface {
	// GetOrCreateConversation is idempotent on the (listing, buyer, seller)
	// triple: there are never two threads for the same triple.
	GetOrCreateConversation(ctx context.Context, listingID chat.ListingID, buyerID, sellerID chat.UserID) (chat.Conversation, error)

	GetConversation(ctx context.Context, id chat.ConversationID) (chat.Conversation, error)

	// ListConversations returns one page of threads for a participant ordered
	// by last activity descending, or of every thread when includeAll is set
	// (admin). The cursor comes from a previous page's next-cursor; the
	// returned cursor is empty once the listing is exhausted.
	ListConversations(ctx context.Context, userID chat.UserID, includeAll bool, limit int, cursor string) ([]chat.Conversation, string, error)

	// ListMessages returns up to limit messages ascending by created_at,
	// ending before the given message id when before is non-empty. A
	// non-positive limit returns the full history.
	ListMessages(ctx context.Context, conversationID chat.ConversationID, limit int, before chat.MessageID) ([]chat.Message, error)

	GetMessage(ctx context.Context, conversationID chat.ConversationID, messageID chat.MessageID) (chat.Message, error)

	// AppendMessage persists msg and, as one logical step, updates the owning
	// conversation's last_message/last_message_at and increments the
	// recipient's unread counter. The increment must hold up under concurrent
	// appends and concurrent mark-as-read calls; no update may be lost.
	AppendMessage(ctx context.Context, msg chat.Message) error

	// MarkConversationRead zeroes the participant's unread counter and flips
	// is_read on their unread inbound messages. Returns the number of messages
	// flipped; implementations must skip the write entirely when the counter
	// is already zero.
	MarkConversationRead(ctx context.Context, conversationID chat.ConversationID, userID chat.UserID) (int, error)

	SetStatus(ctx context.Context, conversationID chat.ConversationID, status chat.ConversationStatus) error
}
