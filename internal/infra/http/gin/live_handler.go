package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"vendio/internal/app/channel"
	"vendio/internal/domain/chat"
	"vendio/internal/infra/ws"
)

// LiveHTTP upgrades a participant into a live conversation session.
type LiveHTTP interface {
	Attach(c *gin.Context)
}

// LiveHandler authorizes the upgrade request before handing the connection to
// the websocket layer.
type LiveHandler struct {
	Channel *channel.Service
	WS      *ws.Handler
	Logger  *slog.Logger
}

// Attach verifies conversation membership and upgrades to a websocket session.
func (h LiveHandler) Attach(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	conversationID := chat.ConversationID(strings.TrimSpace(c.Param("id")))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	conversation, err := h.Channel.Conversation(c.Request.Context(), conversationID)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("live attach failed", "conversation_id", conversationID, "error", err)
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if !conversation.IsParticipant(chat.UserID(p.ID)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat participant"})
		return
	}
	h.WS.Serve(c.Writer, c.Request, conversationID, chat.UserID(p.ID), p.DisplayName)
}

var _ LiveHTTP = (*LiveHandler)(nil)
