package chat

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotParticipant      = errors.New("chat: user is not a conversation participant")
	ErrConversationBlocked = errors.New("chat: conversation is blocked")
	ErrSameParticipant     = errors.New("chat: buyer and seller must differ")
	ErrMissingParticipant  = errors.New("chat: buyer_id and seller_id are required")
)

type ConversationID string
type UserID string
type ListingID string

type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusArchived ConversationStatus = "archived"
	StatusBlocked  ConversationStatus = "blocked"
)

// Conversation is a persistent thread between one buyer and one seller about one listing.
type Conversation struct {
	ID                ConversationID
	ListingID         ListingID
	BuyerID           UserID
	SellerID          UserID
	LastMessage       string
	LastMessageAt     time.Time
	BuyerUnreadCount  int
	SellerUnreadCount int
	Status            ConversationStatus
	CreatedAt         time.Time
}

// IsParticipant reports whether the user is the buyer or the seller.
func (c Conversation) IsParticipant(userID UserID) bool {
	return userID != "" && (userID == c.BuyerID || userID == c.SellerID)
}

// PeerOf returns the other participant of the thread.
func (c Conversation) PeerOf(userID UserID) UserID {
	if userID == c.BuyerID {
		return c.SellerID
	}
	return c.BuyerID
}

// UnreadFor returns the unread counter of the given participant.
func (c Conversation) UnreadFor(userID UserID) int {
	if userID == c.BuyerID {
		return c.BuyerUnreadCount
	}
	if userID == c.SellerID {
		return c.SellerUnreadCount
	}
	return 0
}

// AcceptsMessages reports whether new sends are allowed. Blocked is terminal
// for the participant pairing; archived threads can still be written to, which
// re-activates them on the storage side.
func (c Conversation) AcceptsMessages() bool {
	return c.Status != StatusBlocked
}

// LastActivity returns the timestamp used to order conversation lists.
func (c Conversation) LastActivity() time.Time {
	if !c.LastMessageAt.IsZero() {
		return c.LastMessageAt
	}
	return c.CreatedAt
}

// ValidateParticipants enforces the buyer/seller pair invariants before a
// conversation is created.
func ValidateParticipants(buyerID, sellerID UserID) error {
	if strings.TrimSpace(string(buyerID)) == "" || strings.TrimSpace(string(sellerID)) == "" {
		return ErrMissingParticipant
	}
	if buyerID == sellerID {
		return ErrSameParticipant
	}
	return nil
}
