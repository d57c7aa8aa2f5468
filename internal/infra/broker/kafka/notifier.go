package kafka

import (
	"context"
	"encoding/json"
	"time"

	"vendio/internal/app/policies"
	"vendio/internal/domain/chat"
)

// Notifier publishes push/sound dispatch events for inbound messages. The
// downstream notification service owns delivery; this side is fire-and-forget
// and the channel layer swallows failures.
type Notifier struct {
	producer *Producer
	topic    string
}

// NewNotifier builds a notifier on the notifications topic.
func NewNotifier(producer *Producer, topicPrefix string) *Notifier {
	return &Notifier{producer: producer, topic: topicPrefix + ".notifications"}
}

type notification struct {
	ConversationID string    `json:"conversation_id"`
	ListingID      string    `json:"listing_id,omitempty"`
	RecipientID    string    `json:"recipient_id"`
	SenderID       string    `json:"sender_id"`
	Preview        string    `json:"preview"`
	SentAt         time.Time `json:"sent_at"`
}

// NotifyNewMessage publishes one notification for the remote participant.
func (n *Notifier) NotifyNewMessage(ctx context.Context, conv chat.Conversation, msg chat.Message) error {
	payload, err := json.Marshal(notification{
		ConversationID: string(conv.ID),
		ListingID:      string(conv.ListingID),
		RecipientID:    string(conv.PeerOf(msg.SenderID)),
		SenderID:       string(msg.SenderID),
		Preview:        msg.Preview(),
		SentAt:         msg.CreatedAt,
	})
	if err != nil {
		return err
	}
	return n.producer.Publish(ctx, n.topic, string(conv.ID), payload, nil)
}

var _ policies.Notifier = (*Notifier)(nil)
