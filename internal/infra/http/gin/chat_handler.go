package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"vendio/internal/app/channel"
	"vendio/internal/app/dto"
	"vendio/internal/app/media"
	"vendio/internal/app/policies"
	"vendio/internal/app/readstate"
	"vendio/internal/app/view"
	"vendio/internal/domain/chat"
	"vendio/internal/infra/obs"
)

// ChatHTTP exposes conversation endpoints.
type ChatHTTP interface {
	ListMyConversations(c *gin.Context)
	CreateListingConversation(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	SendVoice(c *gin.Context)
	MarkRead(c *gin.Context)
	Typing(c *gin.Context)
	UploadAttachments(c *gin.Context)
	UploadVoice(c *gin.Context)
}

// ChatHandler bridges HTTP with the message channel, read tracker and media
// services.
type ChatHandler struct {
	Channel *channel.Service
	Reads   *readstate.Tracker
	Media   *media.Service
	Logger  *slog.Logger
}

// ListMyConversations returns one page of the current user's threads, most
// recently active first. Pass the returned next_cursor to fetch the next page.
func (h ChatHandler) ListMyConversations(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	limit := parsePositiveIntStrict(c.Query("limit"), 0)
	cursor := strings.TrimSpace(c.Query("cursor"))
	conversations, next, err := h.Channel.Conversations(c.Request.Context(), chat.UserID(p.ID), false, limit, cursor)
	if err != nil {
		h.respondChatError(c, err, "list conversations", "user_id", p.ID)
		return
	}
	collection := dto.ConversationList{Items: make([]dto.Conversation, 0, len(conversations)), NextCursor: next}
	for _, conv := range conversations {
		collection.Items = append(collection.Items, dto.FromConversation(conv))
	}
	c.JSON(http.StatusOK, collection)
}

// CreateListingConversation gets or creates the buyer/seller thread for a
// listing. Idempotent on the triple.
func (h ChatHandler) CreateListingConversation(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	var req struct {
		ListingID string `json:"listing_id"`
		SellerID  string `json:"seller_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.SellerID = strings.TrimSpace(req.SellerID)
	if req.SellerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seller_id is required"})
		return
	}
	if req.SellerID == p.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start chat with yourself"})
		return
	}
	conversation, err := h.Channel.GetOrCreate(c.Request.Context(), chat.ListingID(strings.TrimSpace(req.ListingID)), chat.UserID(p.ID), chat.UserID(req.SellerID))
	if err != nil {
		h.respondChatError(c, err, "create conversation", "listing_id", req.ListingID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, dto.FromConversation(conversation))
}

// ListMessages returns the initial message page for a participant or admin.
func (h ChatHandler) ListMessages(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	conversation, ok := h.authorizeConversation(c, p)
	if !ok {
		return
	}
	limit := parsePositiveIntStrict(c.Query("limit"), 50)
	before := chat.MessageID(strings.TrimSpace(c.Query("before")))

	messages, err := h.Channel.History(c.Request.Context(), conversation.ID, limit, before)
	if err != nil {
		h.respondChatError(c, err, "list messages", "conversation_id", conversation.ID, "user_id", p.ID)
		return
	}
	collection := dto.ChatMessageList{Items: make([]dto.ChatMessage, 0, len(messages))}
	entries := make([]view.Entry, 0, len(messages))
	for _, msg := range messages {
		collection.Items = append(collection.Items, dto.FromMessage(msg))
		entries = append(entries, view.Entry{Message: msg, State: view.StateSent})
	}
	for _, group := range view.GroupByDay(entries, time.Now()) {
		day := dto.MessageDay{Label: group.Label, Date: group.Day.Format("2006-01-02")}
		for _, entry := range group.Entries {
			day.MessageIDs = append(day.MessageIDs, string(entry.Message.ID))
		}
		collection.Days = append(collection.Days, day)
	}
	c.JSON(http.StatusOK, collection)
}

// SendMessage posts a text/attachment message, optionally as a reply.
func (h ChatHandler) SendMessage(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	conversation, ok := h.authorizeConversation(c, p)
	if !ok {
		return
	}
	var req struct {
		Content     string           `json:"content"`
		Attachments []dto.Attachment `json:"attachments"`
		ReplyToID   string           `json:"reply_to_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	message, err := h.Channel.Send(
		c.Request.Context(),
		conversation.ID,
		chat.UserID(p.ID),
		req.Content,
		dto.ToAttachments(req.Attachments),
		chat.MessageID(strings.TrimSpace(req.ReplyToID)),
	)
	if err != nil {
		h.respondChatError(c, err, "send message", "conversation_id", conversation.ID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusCreated, dto.FromMessage(message))
}

// SendVoice posts a voice note referencing an uploaded recording.
func (h ChatHandler) SendVoice(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	conversation, ok := h.authorizeConversation(c, p)
	if !ok {
		return
	}
	var req struct {
		AudioURL        string `json:"audio_url"`
		DurationSeconds int    `json:"duration_seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	message, err := h.Channel.SendVoice(c.Request.Context(), conversation.ID, chat.UserID(p.ID), strings.TrimSpace(req.AudioURL), req.DurationSeconds)
	if err != nil {
		h.respondChatError(c, err, "send voice", "conversation_id", conversation.ID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusCreated, dto.FromMessage(message))
}

// MarkRead marks the conversation read for the current user. Idempotent.
func (h ChatHandler) MarkRead(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	conversation, ok := h.authorizeConversation(c, p)
	if !ok {
		return
	}
	flipped, err := h.Reads.MarkConversationRead(c.Request.Context(), conversation.ID, chat.UserID(p.ID))
	if err != nil {
		h.respondChatError(c, err, "mark read", "conversation_id", conversation.ID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"read": flipped})
}

// Typing broadcasts a typing signal. Always 202: typing is best-effort.
func (h ChatHandler) Typing(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	conversation, ok := h.authorizeConversation(c, p)
	if !ok {
		return
	}
	var req struct {
		IsTyping bool `json:"is_typing"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	h.Channel.SendTyping(conversation.ID, chat.UserID(p.ID), p.DisplayName, req.IsTyping)
	c.Status(http.StatusAccepted)
}

// UploadAttachments accepts a multipart batch and uploads file by file.
// Oversize or unsupported files are rejected individually; the response
// carries both the stored attachments and the per-file rejections.
func (h ChatHandler) UploadAttachments(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	conversation, ok := h.authorizeConversation(c, p)
	if !ok {
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one file is required"})
		return
	}

	files := make([]media.File, 0, len(fileHeaders))
	for _, header := range fileHeaders {
		reader, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file: " + header.Filename})
			return
		}
		defer reader.Close()
		files = append(files, media.File{
			Name:        header.Filename,
			Size:        header.Size,
			ContentType: header.Header.Get("Content-Type"),
			Reader:      reader,
		})
	}

	results := h.Media.UploadAttachments(c.Request.Context(), conversation.ID, files)
	attachments := make([]dto.Attachment, 0, len(results))
	rejected := make([]gin.H, 0)
	for _, result := range results {
		if result.Err != nil {
			rejected = append(rejected, gin.H{"name": result.Name, "error": result.Err.Error()})
			continue
		}
		attachments = append(attachments, dto.Attachment{
			Type: string(result.Attachment.Type),
			URL:  result.Attachment.URL,
			Name: result.Attachment.Name,
			Size: result.Attachment.Size,
		})
	}
	c.JSON(http.StatusOK, gin.H{"attachments": attachments, "rejected": rejected})
}

// UploadVoice stores one voice recording and returns its URL.
func (h ChatHandler) UploadVoice(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	duration := parsePositiveIntStrict(c.Query("duration_seconds"), 0)
	if duration <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration_seconds is required"})
		return
	}
	url, err := h.Media.UploadVoice(c.Request.Context(), chat.UserID(p.ID), c.Request.Body, c.ContentType(), duration)
	if err != nil {
		h.respondChatError(c, err, "upload voice", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"audio_url": url, "duration_seconds": duration})
}

// authorizeConversation loads the :id thread and checks participant/admin
// access.
func (h ChatHandler) authorizeConversation(c *gin.Context, p principal) (chat.Conversation, bool) {
	conversationID := chat.ConversationID(strings.TrimSpace(c.Param("id")))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return chat.Conversation{}, false
	}
	conversation, err := h.Channel.Conversation(c.Request.Context(), conversationID)
	if err != nil {
		h.respondChatError(c, err, "load conversation", "conversation_id", conversationID, "user_id", p.ID)
		return chat.Conversation{}, false
	}
	if !p.HasRole("admin") && !conversation.IsParticipant(chat.UserID(p.ID)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat participant"})
		return chat.Conversation{}, false
	}
	return conversation, true
}

func (h ChatHandler) respondChatError(c *gin.Context, err error, action string, attrs ...any) {
	if h.Logger != nil {
		base := []any{"action", action, "request_id", obs.RequestIDFromContext(c.Request.Context()), "error", err}
		h.Logger.Error("chat call failed", append(base, attrs...)...)
	}
	switch {
	case errors.Is(err, policies.ErrConversationNotFound), errors.Is(err, policies.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, chat.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat participant"})
	case errors.Is(err, chat.ErrConversationBlocked):
		c.JSON(http.StatusForbidden, gin.H{"error": "conversation is blocked"})
	case chat.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case chat.IsTransport(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
	case chat.IsPersistence(err):
		c.JSON(http.StatusBadGateway, gin.H{"error": "message not persisted"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parsePositiveIntStrict(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return def
	}
	return value
}

var _ ChatHTTP = (*ChatHandler)(nil)
