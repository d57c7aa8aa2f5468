package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"vendio/internal/app/policies"
	"vendio/internal/domain/chat"
)

var errNoSession = errors.New("scylla: session not initialized")

const conversationColumns = "id, listing_id, buyer_id, seller_id, last_message, last_message_at, status, created_at"
const messageColumns = "conversation_id, created_at, message_id, sender_id, content, attachments_json, audio_url, audio_duration, reply_to_id, is_read"

// Store implements the durable conversation store on Scylla. Rows are decoded
// into the domain entities at this boundary; nothing above it sees raw records.
type Store struct {
	session *gocql.Session
	logger  *slog.Logger
}

// NewStore builds a Store.
func NewStore(session *gocql.Session, logger *slog.Logger) *Store {
	return &Store{session: session, logger: logger}
}

// GetOrCreateConversation finds the thread for the (listing, buyer, seller)
// triple or inserts a fresh one. The triple row is claimed with a conditional
// insert, so two racing callers agree on a single thread: the loser reads the
// winner's id out of the rejected insert.
func (s *Store) GetOrCreateConversation(ctx context.Context, listingID chat.ListingID, buyerID, sellerID chat.UserID) (chat.Conversation, error) {
	if s.session == nil {
		return chat.Conversation{}, errNoSession
	}
	if err := chat.ValidateParticipants(buyerID, sellerID); err != nil {
		return chat.Conversation{}, err
	}

	now := time.Now().UTC()
	conv := chat.Conversation{
		ID:        chat.ConversationID(uuid.NewString()),
		ListingID: listingID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		Status:    chat.StatusActive,
		CreatedAt: now,
	}
	prev := make(map[string]interface{})
	applied, err := s.session.
		Query(`INSERT INTO conversations_by_triple (listing_id, buyer_id, seller_id, conversation_id) VALUES (?, ?, ?, ?) IF NOT EXISTS`,
			string(listingID), string(buyerID), string(sellerID), string(conv.ID)).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		MapScanCAS(prev)
	if err != nil {
		return chat.Conversation{}, err
	}
	if !applied {
		existingID, _ := prev["conversation_id"].(string)
		if existingID == "" {
			return chat.Conversation{}, errors.New("scylla: triple row without conversation id")
		}
		return s.GetConversation(ctx, chat.ConversationID(existingID))
	}

	if err := s.session.
		Query(`INSERT INTO conversations (id, listing_id, buyer_id, seller_id, last_message, last_message_at, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			string(conv.ID), string(conv.ListingID), string(conv.BuyerID), string(conv.SellerID), "", time.Time{}, string(conv.Status), now).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return chat.Conversation{}, err
	}
	if s.logger != nil {
		s.logger.Info("conversation created", "id", conv.ID, "listing_id", listingID)
	}
	return conv, nil
}

// GetConversation loads one thread with its unread counters.
func (s *Store) GetConversation(ctx context.Context, id chat.ConversationID) (chat.Conversation, error) {
	if s.session == nil {
		return chat.Conversation{}, errNoSession
	}
	var row conversationRow
	if err := s.session.
		Query(`SELECT `+conversationColumns+` FROM conversations WHERE id = ? LIMIT 1`, string(id)).
		WithContext(ctx).
		Consistency(gocql.One).
		Scan(&row.id, &row.listingID, &row.buyerID, &row.sellerID, &row.lastMessage, &row.lastMessageAt, &row.status, &row.createdAt); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return chat.Conversation{}, policies.ErrConversationNotFound
		}
		return chat.Conversation{}, err
	}
	conv := row.toDomain()
	if err := s.attachUnread(ctx, &conv); err != nil {
		return chat.Conversation{}, err
	}
	return conv, nil
}

// ListConversations returns one page of a participant's threads sorted by last
// activity, or of the full set for the admin overlay. Counters are attached to
// the returned page only.
func (s *Store) ListConversations(ctx context.Context, userID chat.UserID, includeAll bool, limit int, cursor string) ([]chat.Conversation, string, error) {
	if s.session == nil {
		return nil, "", errNoSession
	}
	iter := s.session.
		Query(`SELECT ` + conversationColumns + ` FROM conversations`).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	out := make([]chat.Conversation, 0)
	var row conversationRow
	for row.scan(iter) {
		conv := row.toDomain()
		if includeAll || conv.IsParticipant(userID) {
			out = append(out, conv)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, "", err
	}
	policies.SortConversationsByActivity(out)
	page, next, err := policies.PageConversations(out, limit, cursor)
	if err != nil {
		return nil, "", err
	}
	for i := range page {
		if err := s.attachUnread(ctx, &page[i]); err != nil {
			return nil, "", err
		}
	}
	return page, next, nil
}

// attachUnread reads the counter rows of one thread onto the entity. Counters
// can drift below zero after repair replays; clamp rather than surface it.
func (s *Store) attachUnread(ctx context.Context, conv *chat.Conversation) error {
	iter := s.session.
		Query(`SELECT user_id, unread FROM conversation_unread WHERE conversation_id = ?`, string(conv.ID)).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	var userID string
	var unread int64
	for iter.Scan(&userID, &unread) {
		if unread < 0 {
			unread = 0
		}
		switch chat.UserID(userID) {
		case conv.BuyerID:
			conv.BuyerUnreadCount = int(unread)
		case conv.SellerID:
			conv.SellerUnreadCount = int(unread)
		}
	}
	return iter.Close()
}

// ListMessages returns messages ascending by created_at; before trims the page
// and a non-positive limit means no cap.
func (s *Store) ListMessages(ctx context.Context, conversationID chat.ConversationID, limit int, before chat.MessageID) ([]chat.Message, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	iter := s.session.
		Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?`, string(conversationID)).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	all := make([]chat.Message, 0)
	var row messageRow
	for row.scan(iter) {
		all = append(all, row.toDomain())
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	end := len(all)
	if before != "" {
		for i, msg := range all {
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
	return all[start:end], nil
}

// GetMessage loads a single message of the conversation.
func (s *Store) GetMessage(ctx context.Context, conversationID chat.ConversationID, messageID chat.MessageID) (chat.Message, error) {
	if s.session == nil {
		return chat.Message{}, errNoSession
	}
	iter := s.session.
		Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND message_id = ? ALLOW FILTERING`,
			string(conversationID), string(messageID)).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	var row messageRow
	if row.scan(iter) {
		msg := row.toDomain()
		if err := iter.Close(); err != nil {
			return chat.Message{}, err
		}
		return msg, nil
	}
	if err := iter.Close(); err != nil {
		return chat.Message{}, err
	}
	return chat.Message{}, policies.ErrMessageNotFound
}

// AppendMessage inserts the message and updates the owning conversation's
// preview and the recipient's unread counter. The message insert is the
// durable step; the meta update is retried on read paths via last activity.
func (s *Store) AppendMessage(ctx context.Context, msg chat.Message) error {
	if s.session == nil {
		return errNoSession
	}
	conv, err := s.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	attachmentsJSON, err := encodeAttachments(msg.Attachments)
	if err != nil {
		return err
	}
	if err := s.session.
		Query(`INSERT INTO messages (conversation_id, created_at, message_id, sender_id, content, attachments_json, audio_url, audio_duration, reply_to_id, is_read) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(msg.ConversationID), msg.CreatedAt, string(msg.ID), string(msg.SenderID), msg.Content, attachmentsJSON, msg.AudioURL, msg.AudioDuration, string(msg.ReplyToID), msg.IsRead).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return err
	}

	if err := s.session.
		Query(`UPDATE conversations SET last_message = ?, last_message_at = ? WHERE id = ?`,
			trimSnippet(msg.Preview(), 500), msg.CreatedAt, string(msg.ConversationID)).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil && s.logger != nil {
		s.logger.Warn("conversation meta update failed", "conversation_id", msg.ConversationID, "error", err)
	}

	var recipient chat.UserID
	switch msg.SenderID {
	case conv.BuyerID:
		recipient = conv.SellerID
	case conv.SellerID:
		recipient = conv.BuyerID
	}
	if recipient != "" {
		// server-side counter increment, safe under concurrent appends
		if err := s.session.
			Query(`UPDATE conversation_unread SET unread = unread + 1 WHERE conversation_id = ? AND user_id = ?`,
				string(msg.ConversationID), string(recipient)).
			WithContext(ctx).
			Consistency(gocql.Quorum).
			Exec(); err != nil && s.logger != nil {
			s.logger.Warn("unread increment failed", "conversation_id", msg.ConversationID, "user_id", recipient, "error", err)
		}
	}
	return nil
}

// MarkConversationRead flips is_read on the participant's unread inbound
// messages and clears their counter. Skips all writes when already read.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID chat.ConversationID, userID chat.UserID) (int, error) {
	if s.session == nil {
		return 0, errNoSession
	}
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !conv.IsParticipant(userID) {
		return 0, chat.ErrNotParticipant
	}
	if conv.UnreadFor(userID) == 0 {
		return 0, nil
	}

	iter := s.session.
		Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?`, string(conversationID)).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	unread := make([]chat.Message, 0)
	var row messageRow
	for row.scan(iter) {
		msg := row.toDomain()
		if msg.SenderID != userID && !msg.IsRead {
			unread = append(unread, msg)
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}

	for _, msg := range unread {
		if err := s.session.
			Query(`UPDATE messages SET is_read = true WHERE conversation_id = ? AND created_at = ? AND message_id = ?`,
				string(conversationID), msg.CreatedAt, string(msg.ID)).
			WithContext(ctx).
			Consistency(gocql.Quorum).
			Exec(); err != nil {
			return 0, err
		}
	}

	// decrement by the count we observed, so an increment landing between the
	// read and this write survives instead of being zeroed away
	if err := s.session.
		Query(`UPDATE conversation_unread SET unread = unread - ? WHERE conversation_id = ? AND user_id = ?`,
			int64(conv.UnreadFor(userID)), string(conversationID), string(userID)).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return 0, err
	}
	return len(unread), nil
}

// SetStatus applies a moderation status transition.
func (s *Store) SetStatus(ctx context.Context, conversationID chat.ConversationID, status chat.ConversationStatus) error {
	if s.session == nil {
		return errNoSession
	}
	return s.session.
		Query(`UPDATE conversations SET status = ? WHERE id = ?`, string(status), string(conversationID)).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec()
}

// conversationRow is the raw record shape; toDomain is the single mapping
// point into the validated entity.
type conversationRow struct {
	id, listingID, buyerID, sellerID string
	lastMessage, status              string
	lastMessageAt, createdAt         time.Time
}

func (r *conversationRow) scan(iter *gocql.Iter) bool {
	return iter.Scan(&r.id, &r.listingID, &r.buyerID, &r.sellerID, &r.lastMessage, &r.lastMessageAt, &r.status, &r.createdAt)
}

func (r conversationRow) toDomain() chat.Conversation {
	status := chat.ConversationStatus(r.status)
	switch status {
	case chat.StatusActive, chat.StatusArchived, chat.StatusBlocked:
	default:
		status = chat.StatusActive
	}
	return chat.Conversation{
		ID:            chat.ConversationID(r.id),
		ListingID:     chat.ListingID(r.listingID),
		BuyerID:       chat.UserID(r.buyerID),
		SellerID:      chat.UserID(r.sellerID),
		LastMessage:   r.lastMessage,
		LastMessageAt: r.lastMessageAt,
		Status:        status,
		CreatedAt:     r.createdAt,
	}
}

type messageRow struct {
	conversationID, messageID, senderID string
	content, attachmentsJSON            string
	audioURL, replyToID                 string
	audioDuration                       int
	createdAt                           time.Time
	isRead                              bool
}

func (r *messageRow) scan(iter *gocql.Iter) bool {
	return iter.Scan(&r.conversationID, &r.createdAt, &r.messageID, &r.senderID, &r.content, &r.attachmentsJSON, &r.audioURL, &r.audioDuration, &r.replyToID, &r.isRead)
}

func (r messageRow) toDomain() chat.Message {
	return chat.Message{
		ID:             chat.MessageID(r.messageID),
		ConversationID: chat.ConversationID(r.conversationID),
		SenderID:       chat.UserID(r.senderID),
		Content:        r.content,
		Attachments:    decodeAttachments(r.attachmentsJSON),
		AudioURL:       r.audioURL,
		AudioDuration:  r.audioDuration,
		ReplyToID:      chat.MessageID(r.replyToID),
		CreatedAt:      r.createdAt,
		IsRead:         r.isRead,
	}
}

type attachmentRecord struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

func encodeAttachments(attachments []chat.Attachment) (string, error) {
	if len(attachments) == 0 {
		return "", nil
	}
	records := make([]attachmentRecord, 0, len(attachments))
	for _, att := range attachments {
		records = append(records, attachmentRecord{
			Type: string(att.Type),
			URL:  att.URL,
			Name: att.Name,
			Size: att.Size,
		})
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeAttachments(raw string) []chat.Attachment {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var records []attachmentRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil
	}
	out := make([]chat.Attachment, 0, len(records))
	for _, rec := range records {
		out = append(out, chat.Attachment{
			Type: chat.AttachmentType(rec.Type),
			URL:  rec.URL,
			Name: rec.Name,
			Size: rec.Size,
		})
	}
	return out
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
