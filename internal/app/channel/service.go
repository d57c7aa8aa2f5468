package channel

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"vendio/internal/app/policies"
	"vendio/internal/domain/chat"
)

// EventPublisher mirrors locally persisted events onto a broker topic so other
// instances can fan them out too. Delivery is at-least-once; views dedup by id.
type EventPublisher interface {
	PublishMessage(ctx context.Context, msg chat.Message) error
	PublishTyping(ctx context.Context, state chat.TypingState) error
}

// Service is the Message Channel: it accepts new message submissions, persists
// them through the durable store and only then broadcasts them to subscribers.
// A message that failed to persist is never delivered to anyone.
type Service struct {
	store     policies.ConversationStore
	broker    *Broker
	notifier  policies.Notifier
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures optional collaborators of the channel service.
type Option func(*Service)

// WithNotifier attaches the push/sound dispatcher.
func WithNotifier(n policies.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithPublisher attaches the cross-instance event publisher.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// SetPublisher attaches the publisher after construction. The broker bridge
// needs the service to ingest remote events, so the two are wired in two
// steps during startup, before any traffic.
func (s *Service) SetPublisher(p EventPublisher) {
	s.publisher = p
}

// NewService wires a channel service around the durable store and an
// in-process broker.
func NewService(store policies.ConversationStore, broker *Broker, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		broker: broker,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn for newly persisted messages of one conversation.
func (s *Service) Subscribe(conversationID chat.ConversationID, fn MessageFunc) *Subscription {
	return s.broker.Subscribe(conversationID, fn)
}

// SubscribeTyping registers fn for typing changes from other participants.
func (s *Service) SubscribeTyping(conversationID chat.ConversationID, localUser chat.UserID, fn TypingFunc) *Subscription {
	return s.broker.SubscribeTyping(conversationID, localUser, fn)
}

// SubscribeAll registers fn across every conversation (admin overlay).
func (s *Service) SubscribeAll(fn MessageFunc) *Subscription {
	return s.broker.SubscribeAll(fn)
}

// GetOrCreate returns the thread for the (listing, buyer, seller) triple,
// creating it on first contact.
func (s *Service) GetOrCreate(ctx context.Context, listingID chat.ListingID, buyerID, sellerID chat.UserID) (chat.Conversation, error) {
	if err := chat.ValidateParticipants(buyerID, sellerID); err != nil {
		return chat.Conversation{}, chat.NewValidationError("participants", err)
	}
	return s.store.GetOrCreateConversation(ctx, listingID, buyerID, sellerID)
}

// Conversation loads thread metadata.
func (s *Service) Conversation(ctx context.Context, id chat.ConversationID) (chat.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// Conversations lists threads for a participant, or all of them for admins,
// one page at a time ordered by last activity. The returned cursor is empty on
// the final page.
func (s *Service) Conversations(ctx context.Context, userID chat.UserID, includeAll bool, limit int, cursor string) ([]chat.Conversation, string, error) {
	return s.store.ListConversations(ctx, userID, includeAll, limit, cursor)
}

// History returns the initial message page, ascending by created_at, before
// live subscription takes over.
func (s *Service) History(ctx context.Context, conversationID chat.ConversationID, limit int, before chat.MessageID) ([]chat.Message, error) {
	return s.store.ListMessages(ctx, conversationID, limit, before)
}

// Send persists a text/attachment message and broadcasts it to all
// subscribers, including the sender's own other sessions.
func (s *Service) Send(ctx context.Context, conversationID chat.ConversationID, senderID chat.UserID, content string, attachments []chat.Attachment, replyTo chat.MessageID) (chat.Message, error) {
	msg := chat.Message{
		ID:             chat.MessageID(uuid.NewString()),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        strings.TrimSpace(content),
		Attachments:    attachments,
		ReplyToID:      replyTo,
		CreatedAt:      s.now().UTC(),
	}
	return s.submit(ctx, msg)
}

// SendVoice persists a voice note carrying only the audio fields.
func (s *Service) SendVoice(ctx context.Context, conversationID chat.ConversationID, senderID chat.UserID, audioURL string, durationSeconds int) (chat.Message, error) {
	msg := chat.Message{
		ID:             chat.MessageID(uuid.NewString()),
		ConversationID: conversationID,
		SenderID:       senderID,
		AudioURL:       audioURL,
		AudioDuration:  durationSeconds,
		CreatedAt:      s.now().UTC(),
	}
	return s.submit(ctx, msg)
}

func (s *Service) submit(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if err := msg.Validate(); err != nil {
		return chat.Message{}, chat.NewValidationError("message", err)
	}
	conv, err := s.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		if errors.Is(err, policies.ErrConversationNotFound) {
			return chat.Message{}, err
		}
		return chat.Message{}, &chat.TransportError{Err: err}
	}
	if !conv.IsParticipant(msg.SenderID) {
		return chat.Message{}, chat.ErrNotParticipant
	}
	if !conv.AcceptsMessages() {
		return chat.Message{}, chat.ErrConversationBlocked
	}
	if msg.ReplyToID != "" {
		target, err := s.store.GetMessage(ctx, msg.ConversationID, msg.ReplyToID)
		if err != nil {
			return chat.Message{}, chat.NewValidationError("reply_to_id", chat.ErrCrossReply)
		}
		if err := msg.ValidateReply(target); err != nil {
			return chat.Message{}, chat.NewValidationError("reply_to_id", err)
		}
	}

	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return chat.Message{}, chat.NewPersistenceError("send", err)
	}

	s.broker.Deliver(msg)
	s.afterDeliver(ctx, conv, msg)
	return msg, nil
}

// afterDeliver runs the best-effort side effects of a successful send:
// notification dispatch for the remote participant and cross-instance publish.
// Failures here are logged and swallowed; the message is already durable.
func (s *Service) afterDeliver(ctx context.Context, conv chat.Conversation, msg chat.Message) {
	if s.notifier != nil {
		if recipient := conv.PeerOf(msg.SenderID); recipient != msg.SenderID {
			if err := s.notifier.NotifyNewMessage(ctx, conv, msg); err != nil && s.logger != nil {
				s.logger.Warn("notification dispatch failed", "conversation_id", msg.ConversationID, "error", err)
			}
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishMessage(ctx, msg); err != nil && s.logger != nil {
			s.logger.Warn("event publish failed", "conversation_id", msg.ConversationID, "message_id", msg.ID, "error", err)
		}
	}
}

// SendTyping broadcasts a typing change. Fire and forget: no acknowledgement,
// no retry. A lost signal is tolerable because receivers expire stale typing
// state on their own.
func (s *Service) SendTyping(conversationID chat.ConversationID, userID chat.UserID, displayName string, isTyping bool) {
	state := chat.TypingState{
		ConversationID: conversationID,
		UserID:         userID,
		DisplayName:    displayName,
		IsTyping:       isTyping,
		At:             s.now().UTC(),
	}
	s.broker.DeliverTyping(state)
	if s.publisher != nil {
		if err := s.publisher.PublishTyping(context.Background(), state); err != nil && s.logger != nil {
			s.logger.Debug("typing publish dropped", "conversation_id", conversationID, "error", err)
		}
	}
}

// Ingest feeds an event that originated on another instance into the local
// broker. Duplicate deliveries of the same message id are expected and handled
// downstream.
func (s *Service) Ingest(msg chat.Message) {
	s.broker.Deliver(msg)
}

// IngestTyping feeds a remote typing change into the local broker.
func (s *Service) IngestTyping(state chat.TypingState) {
	s.broker.DeliverTyping(state)
}

// MarkRead delegates to the store's idempotent read flip and reports how many
// messages changed state.
func (s *Service) MarkRead(ctx context.Context, conversationID chat.ConversationID, userID chat.UserID) (int, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !conv.IsParticipant(userID) {
		return 0, chat.ErrNotParticipant
	}
	flipped, err := s.store.MarkConversationRead(ctx, conversationID, userID)
	if err != nil {
		return 0, chat.NewPersistenceError("mark read", err)
	}
	return flipped, nil
}

// SetStatus applies a moderation status transition.
func (s *Service) SetStatus(ctx context.Context, conversationID chat.ConversationID, status chat.ConversationStatus) error {
	return s.store.SetStatus(ctx, conversationID, status)
}
