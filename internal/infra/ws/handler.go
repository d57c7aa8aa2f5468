package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"vendio/internal/app/channel"
	"vendio/internal/app/readstate"
	"vendio/internal/domain/chat"
)

// upgrader upgrades HTTP connections to websocket. Origin checks are handled
// by the CORS middleware in front of the router.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades an authorized request into a live conversation session.
type Handler struct {
	Channel      *channel.Service
	Reads        *readstate.Tracker
	Logger       *slog.Logger
	TypingWindow time.Duration
	AckTimeout   time.Duration
	HistorySize  int
}

// Serve upgrades the connection and runs the session until the socket closes.
// The caller has already authenticated the user and verified conversation
// membership.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, conversationID chat.ConversationID, userID chat.UserID, displayName string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", "conversation_id", conversationID, "error", err)
		return
	}

	h.Logger.Info("websocket session opened", "conversation_id", conversationID, "user_id", userID)
	session := NewSession(Config{
		Conn:           conn,
		Channel:        h.Channel,
		Reads:          h.Reads,
		Logger:         h.Logger,
		ConversationID: conversationID,
		UserID:         userID,
		DisplayName:    displayName,
		TypingWindow:   h.TypingWindow,
		AckTimeout:     h.AckTimeout,
		HistorySize:    h.HistorySize,
	})
	session.Run(r.Context())
	h.Logger.Info("websocket session closed", "conversation_id", conversationID, "user_id", userID)
}
