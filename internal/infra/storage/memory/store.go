package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vendio/internal/app/policies"
	"vendio/internal/domain/chat"
)

// Store is the in-memory implementation of the conversation store, used in dev
// mode and in tests. Same contract as the Scylla store, including the
// idempotent mark-as-read and the one-thread-per-triple guarantee.
type Store struct {
	mu            sync.RWMutex
	conversations map[chat.ConversationID]*chat.Conversation
	messages      map[chat.ConversationID][]*chat.Message
	// readWrites counts effective mark-as-read writes, for idempotence checks
	// in tests.
	readWrites int
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[chat.ConversationID]*chat.Conversation),
		messages:      make(map[chat.ConversationID][]*chat.Message),
	}
}

// GetOrCreateConversation returns the thread for the triple, creating it once.
func (s *Store) GetOrCreateConversation(ctx context.Context, listingID chat.ListingID, buyerID, sellerID chat.UserID) (chat.Conversation, error) {
	if err := chat.ValidateParticipants(buyerID, sellerID); err != nil {
		return chat.Conversation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.conversations {
		if conv.ListingID == listingID && conv.BuyerID == buyerID && conv.SellerID == sellerID {
			return *conv, nil
		}
	}
	now := time.Now().UTC()
	conv := &chat.Conversation{
		ID:        chat.ConversationID(uuid.NewString()),
		ListingID: listingID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		Status:    chat.StatusActive,
		CreatedAt: now,
	}
	s.conversations[conv.ID] = conv
	return *conv, nil
}

// GetConversation returns a thread or ErrConversationNotFound.
func (s *Store) GetConversation(ctx context.Context, id chat.ConversationID) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, policies.ErrConversationNotFound
	}
	return *conv, nil
}

// ListConversations returns one page of threads by last activity descending.
func (s *Store) ListConversations(ctx context.Context, userID chat.UserID, includeAll bool, limit int, cursor string) ([]chat.Conversation, string, error) {
	s.mu.RLock()
	out := make([]chat.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if includeAll || conv.IsParticipant(userID) {
			out = append(out, *conv)
		}
	}
	s.mu.RUnlock()
	policies.SortConversationsByActivity(out)
	return policies.PageConversations(out, limit, cursor)
}

// ListMessages returns messages ascending by created_at. A non-positive limit
// returns everything; before trims the page to messages older than that id.
func (s *Store) ListMessages(ctx context.Context, conversationID chat.ConversationID, limit int, before chat.MessageID) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, policies.ErrConversationNotFound
	}
	ordered := s.orderedLocked(conversationID)
	end := len(ordered)
	if before != "" {
		for i, msg := range ordered {
			if msg.ID == before {
				end = i
				break
			}
		}
	}
	start := 0
	if limit > 0 && end-start > limit {
		start = end - limit
	}
	out := make([]chat.Message, 0, end-start)
	for _, msg := range ordered[start:end] {
		out = append(out, *msg)
	}
	return out, nil
}

// GetMessage returns one message of the conversation.
func (s *Store) GetMessage(ctx context.Context, conversationID chat.ConversationID, messageID chat.MessageID) (chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.messages[conversationID] {
		if msg.ID == messageID {
			return *msg, nil
		}
	}
	return chat.Message{}, policies.ErrMessageNotFound
}

// AppendMessage persists the message and updates the conversation preview and
// the recipient's unread counter in the same locked step.
func (s *Store) AppendMessage(ctx context.Context, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return policies.ErrConversationNotFound
	}
	for _, existing := range s.messages[msg.ConversationID] {
		if existing.ID == msg.ID {
			// duplicate apply, already durable
			return nil
		}
	}
	stored := msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &stored)

	conv.LastMessage = trimSnippet(msg.Preview(), 500)
	conv.LastMessageAt = msg.CreatedAt
	switch msg.SenderID {
	case conv.BuyerID:
		conv.SellerUnreadCount++
	case conv.SellerID:
		conv.BuyerUnreadCount++
	}
	return nil
}

// MarkConversationRead flips is_read on the participant's unread inbound
// messages and zeroes their counter. No-op (and no write) when already read.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID chat.ConversationID, userID chat.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return 0, policies.ErrConversationNotFound
	}
	if !conv.IsParticipant(userID) {
		return 0, chat.ErrNotParticipant
	}
	if conv.UnreadFor(userID) == 0 {
		return 0, nil
	}
	flipped := 0
	for _, msg := range s.messages[conversationID] {
		if msg.SenderID != userID && !msg.IsRead {
			msg.IsRead = true
			flipped++
		}
	}
	if userID == conv.BuyerID {
		conv.BuyerUnreadCount = 0
	} else {
		conv.SellerUnreadCount = 0
	}
	s.readWrites++
	return flipped, nil
}

// SetStatus applies a status transition.
func (s *Store) SetStatus(ctx context.Context, conversationID chat.ConversationID, status chat.ConversationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return policies.ErrConversationNotFound
	}
	conv.Status = status
	return nil
}

// ReadWrites reports how many effective mark-as-read writes happened.
func (s *Store) ReadWrites() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readWrites
}

func (s *Store) orderedLocked(conversationID chat.ConversationID) []*chat.Message {
	msgs := append([]*chat.Message(nil), s.messages[conversationID]...)
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Less(*msgs[j])
	})
	return msgs
}

func trimSnippet(text string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max])
}

var _ policies.ConversationStore = (*Store)(nil)
