package policies

import (
	"context"

	"vendio/internal/domain/chat"
)

// Notifier dispatches sound/push effects for inbound messages. Called only when
// the message sender differs from the recipient; best-effort, never load-bearing.
type Notifier interface {
	NotifyNewMessage(ctx context.Context, conv chat.Conversation, msg chat.Message) error
}
