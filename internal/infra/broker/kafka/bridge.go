package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"vendio/internal/app/channel"
	"vendio/internal/domain/chat"
)

const (
	eventMessage = "message"
	eventTyping  = "typing"

	originHeader = "origin"
)

// event is the wire envelope mirrored between chatd instances. Delivery is
// at-least-once: consumers may see the same message id more than once and
// views deduplicate downstream.
type event struct {
	Kind           string    `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"`
	SenderID       string    `json:"sender_id,omitempty"`
	Content        string    `json:"content,omitempty"`
	Attachments    []attach  `json:"attachments,omitempty"`
	AudioURL       string    `json:"audio_url,omitempty"`
	AudioDuration  int       `json:"audio_duration,omitempty"`
	ReplyToID      string    `json:"reply_to_id,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	DisplayName    string    `json:"display_name,omitempty"`
	IsTyping       bool      `json:"is_typing,omitempty"`
	At             time.Time `json:"at,omitempty"`
}

type attach struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Bridge mirrors locally persisted chat events onto a Kafka topic and feeds
// events published by other instances into the local broker. Its own events
// are recognized by the origin header and skipped; duplicates from rebalances
// are tolerated because every consumer path dedups by message id.
type Bridge struct {
	producer *Producer
	topic    string
	origin   string
	svc      *channel.Service
	logger   *slog.Logger
}

// NewBridge builds a bridge with a unique origin id for this instance.
func NewBridge(producer *Producer, topicPrefix string, svc *channel.Service, logger *slog.Logger) *Bridge {
	return &Bridge{
		producer: producer,
		topic:    topicPrefix + ".events",
		origin:   uuid.NewString(),
		svc:      svc,
		logger:   logger,
	}
}

// Topic returns the events topic the bridge publishes to.
func (b *Bridge) Topic() string { return b.topic }

// PublishMessage mirrors a persisted message. Keyed by conversation id so
// per-conversation order survives partitioning.
func (b *Bridge) PublishMessage(ctx context.Context, msg chat.Message) error {
	attachments := make([]attach, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		attachments = append(attachments, attach{Type: string(a.Type), URL: a.URL, Name: a.Name, Size: a.Size})
	}
	return b.publish(ctx, event{
		Kind:           eventMessage,
		ConversationID: string(msg.ConversationID),
		MessageID:      string(msg.ID),
		SenderID:       string(msg.SenderID),
		Content:        msg.Content,
		Attachments:    attachments,
		AudioURL:       msg.AudioURL,
		AudioDuration:  msg.AudioDuration,
		ReplyToID:      string(msg.ReplyToID),
		CreatedAt:      msg.CreatedAt,
	})
}

// PublishTyping mirrors a typing signal. Best-effort by contract.
func (b *Bridge) PublishTyping(ctx context.Context, state chat.TypingState) error {
	return b.publish(ctx, event{
		Kind:           eventTyping,
		ConversationID: string(state.ConversationID),
		UserID:         string(state.UserID),
		DisplayName:    state.DisplayName,
		IsTyping:       state.IsTyping,
		At:             state.At,
	})
}

func (b *Bridge) publish(ctx context.Context, ev event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.producer.Publish(ctx, b.topic, ev.ConversationID, payload, map[string]string{
		originHeader: b.origin,
	})
}

// Handle implements the consumer MessageHandler: decode remote events and
// feed them into the local broker.
func (b *Bridge) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	for _, header := range msg.Headers {
		if string(header.Key) == originHeader && string(header.Value) == b.origin {
			// our own echo
			return nil
		}
	}
	var ev event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("decode chat event: %w", err)
	}
	switch ev.Kind {
	case eventMessage:
		b.svc.Ingest(ev.toMessage())
	case eventTyping:
		b.svc.IngestTyping(chat.TypingState{
			ConversationID: chat.ConversationID(ev.ConversationID),
			UserID:         chat.UserID(ev.UserID),
			DisplayName:    ev.DisplayName,
			IsTyping:       ev.IsTyping,
			At:             ev.At,
		})
	default:
		if b.logger != nil {
			b.logger.Warn("unknown chat event kind", "kind", ev.Kind)
		}
	}
	return nil
}

func (ev event) toMessage() chat.Message {
	attachments := make([]chat.Attachment, 0, len(ev.Attachments))
	for _, a := range ev.Attachments {
		attachments = append(attachments, chat.Attachment{
			Type: chat.AttachmentType(a.Type),
			URL:  a.URL,
			Name: a.Name,
			Size: a.Size,
		})
	}
	return chat.Message{
		ID:             chat.MessageID(ev.MessageID),
		ConversationID: chat.ConversationID(ev.ConversationID),
		SenderID:       chat.UserID(ev.SenderID),
		Content:        ev.Content,
		Attachments:    attachments,
		AudioURL:       ev.AudioURL,
		AudioDuration:  ev.AudioDuration,
		ReplyToID:      chat.MessageID(ev.ReplyToID),
		CreatedAt:      ev.CreatedAt,
	}
}

var _ channel.EventPublisher = (*Bridge)(nil)
var _ MessageHandler = (*Bridge)(nil)
