package ginserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"vendio/internal/app/admin"
	"vendio/internal/app/dto"
	"vendio/internal/app/policies"
	"vendio/internal/domain/chat"
	"vendio/internal/infra/obs"
)

// AdminHTTP exposes the live monitoring overlay and moderation actions.
type AdminHTTP interface {
	Overview(c *gin.Context)
	ListConversations(c *gin.Context)
	Flag(c *gin.Context)
	Block(c *gin.Context)
	Export(c *gin.Context)
	AuditHistory(c *gin.Context)
}

// AuditReader serves past moderation actions of one thread.
type AuditReader interface {
	History(ctx context.Context, conversationID chat.ConversationID) ([]policies.AuditEntry, error)
}

// AdminHandler serves the monitoring overlay.
type AdminHandler struct {
	Monitor *admin.Monitor
	Audit   AuditReader
	Logger  *slog.Logger
}

type overlayRow struct {
	ConversationID string          `json:"conversation_id"`
	Preview        string          `json:"preview"`
	Risk           string          `json:"risk"`
	LastMessage    dto.ChatMessage `json:"last_message"`
}

// Overview returns the live overlay rows, most recent first, each scored by
// the content scanner. The limit query parameter caps the row count.
func (h AdminHandler) Overview(c *gin.Context) {
	if _, ok := requireRole(c, "admin"); !ok {
		return
	}
	entries := h.Monitor.Snapshot(parsePositiveIntStrict(c.Query("limit"), 0))
	rows := make([]overlayRow, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, overlayRow{
			ConversationID: string(entry.ConversationID),
			Preview:        entry.Preview,
			Risk:           string(entry.Risk),
			LastMessage:    dto.FromMessage(entry.LastMessage),
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": rows})
}

// ListConversations returns one page of threads for the admin view, most
// recently active first.
func (h AdminHandler) ListConversations(c *gin.Context) {
	if _, ok := requireRole(c, "admin"); !ok {
		return
	}
	limit := parsePositiveIntStrict(c.Query("limit"), 0)
	cursor := strings.TrimSpace(c.Query("cursor"))
	conversations, next, err := h.Monitor.Conversations(c.Request.Context(), limit, cursor)
	if err != nil {
		if chat.IsValidation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.fail(c, err, "admin list conversations")
		return
	}
	collection := dto.ConversationList{Items: make([]dto.Conversation, 0, len(conversations)), NextCursor: next}
	for _, conv := range conversations {
		collection.Items = append(collection.Items, dto.FromConversation(conv))
	}
	c.JSON(http.StatusOK, collection)
}

// Flag records a flag-for-review audit entry.
func (h AdminHandler) Flag(c *gin.Context) {
	p, ok := requireRole(c, "admin")
	if !ok {
		return
	}
	conversationID, reason, ok := h.moderationArgs(c)
	if !ok {
		return
	}
	if err := h.Monitor.Flag(c.Request.Context(), conversationID, chat.UserID(p.ID), reason); err != nil {
		h.fail(c, err, "flag conversation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "flagged"})
}

// Block transitions the thread to blocked and records the action.
func (h AdminHandler) Block(c *gin.Context) {
	p, ok := requireRole(c, "admin")
	if !ok {
		return
	}
	conversationID, reason, ok := h.moderationArgs(c)
	if !ok {
		return
	}
	if err := h.Monitor.Block(c.Request.Context(), conversationID, chat.UserID(p.ID), reason); err != nil {
		h.fail(c, err, "block conversation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "blocked"})
}

// Export returns the full thread dump for offline review.
func (h AdminHandler) Export(c *gin.Context) {
	p, ok := requireRole(c, "admin")
	if !ok {
		return
	}
	conversationID := chat.ConversationID(strings.TrimSpace(c.Param("id")))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	conversation, messages, err := h.Monitor.Export(c.Request.Context(), conversationID, chat.UserID(p.ID))
	if err != nil {
		h.fail(c, err, "export conversation")
		return
	}
	items := make([]dto.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		items = append(items, dto.FromMessage(msg))
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation": dto.FromConversation(conversation),
		"messages":     items,
	})
}

// AuditHistory returns past moderation actions of the thread, newest first.
func (h AdminHandler) AuditHistory(c *gin.Context) {
	if _, ok := requireRole(c, "admin"); !ok {
		return
	}
	if h.Audit == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "audit log is not configured"})
		return
	}
	conversationID := chat.ConversationID(strings.TrimSpace(c.Param("id")))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	entries, err := h.Audit.History(c.Request.Context(), conversationID)
	if err != nil {
		h.fail(c, err, "audit history")
		return
	}
	items := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		items = append(items, gin.H{
			"admin_id": string(entry.AdminID),
			"action":   string(entry.Action),
			"reason":   entry.Reason,
			"at":       entry.At.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h AdminHandler) moderationArgs(c *gin.Context) (chat.ConversationID, string, bool) {
	conversationID := chat.ConversationID(strings.TrimSpace(c.Param("id")))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return "", "", false
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	return conversationID, strings.TrimSpace(req.Reason), true
}

func (h AdminHandler) fail(c *gin.Context, err error, action string) {
	if h.Logger != nil {
		h.Logger.Error("admin action failed", "action", action, "request_id", obs.RequestIDFromContext(c.Request.Context()), "error", err)
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

var _ AdminHTTP = (*AdminHandler)(nil)
