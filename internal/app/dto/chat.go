package dto

import (
	"time"

	"vendio/internal/domain/chat"
)

// Conversation describes chat thread metadata.
type Conversation struct {
	ID                string    `json:"id"`
	ListingID         string    `json:"listing_id,omitempty"`
	BuyerID           string    `json:"buyer_id"`
	SellerID          string    `json:"seller_id"`
	LastMessage       string    `json:"last_message,omitempty"`
	LastMessageAt     time.Time `json:"last_message_at,omitzero"`
	BuyerUnreadCount  int       `json:"buyer_unread_count"`
	SellerUnreadCount int       `json:"seller_unread_count"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

// ConversationList is one page of threads. NextCursor is empty on the final
// page.
type ConversationList struct {
	Items      []Conversation `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// Attachment is one binary payload of a message.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// ChatMessage contains a single message payload.
type ChatMessage struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	SenderID       string       `json:"sender_id"`
	Content        string       `json:"content,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	AudioURL       string       `json:"audio_url,omitempty"`
	AudioDuration  int          `json:"audio_duration,omitempty"`
	ReplyToID      string       `json:"reply_to_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	IsRead         bool         `json:"is_read"`
}

// MessageDay groups the ids of messages sent on one calendar day under a
// display label such as "today" or "2026-08-29".
type MessageDay struct {
	Label      string   `json:"label"`
	Date       string   `json:"date"`
	MessageIDs []string `json:"message_ids"`
}

// ChatMessageList is a message page with its day separators.
type ChatMessageList struct {
	Items []ChatMessage `json:"items"`
	Days  []MessageDay  `json:"days,omitempty"`
}

// FromConversation maps the domain entity onto the wire shape.
func FromConversation(conv chat.Conversation) Conversation {
	return Conversation{
		ID:                string(conv.ID),
		ListingID:         string(conv.ListingID),
		BuyerID:           string(conv.BuyerID),
		SellerID:          string(conv.SellerID),
		LastMessage:       conv.LastMessage,
		LastMessageAt:     conv.LastMessageAt,
		BuyerUnreadCount:  conv.BuyerUnreadCount,
		SellerUnreadCount: conv.SellerUnreadCount,
		Status:            string(conv.Status),
		CreatedAt:         conv.CreatedAt,
	}
}

// FromMessage maps the domain entity onto the wire shape.
func FromMessage(msg chat.Message) ChatMessage {
	attachments := make([]Attachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		attachments = append(attachments, Attachment{
			Type: string(att.Type),
			URL:  att.URL,
			Name: att.Name,
			Size: att.Size,
		})
	}
	if len(attachments) == 0 {
		attachments = nil
	}
	return ChatMessage{
		ID:             string(msg.ID),
		ConversationID: string(msg.ConversationID),
		SenderID:       string(msg.SenderID),
		Content:        msg.Content,
		Attachments:    attachments,
		AudioURL:       msg.AudioURL,
		AudioDuration:  msg.AudioDuration,
		ReplyToID:      string(msg.ReplyToID),
		CreatedAt:      msg.CreatedAt,
		IsRead:         msg.IsRead,
	}
}

// ToAttachments maps wire attachments back into the domain shape.
func ToAttachments(items []Attachment) []chat.Attachment {
	if len(items) == 0 {
		return nil
	}
	out := make([]chat.Attachment, 0, len(items))
	for _, item := range items {
		out = append(out, chat.Attachment{
			Type: chat.AttachmentType(item.Type),
			URL:  item.URL,
			Name: item.Name,
			Size: item.Size,
		})
	}
	return out
}
