package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"vendio/internal/app/channel"
	"vendio/internal/app/dto"
	"vendio/internal/app/presence"
	"vendio/internal/app/readstate"
	"vendio/internal/app/view"
	"vendio/internal/domain/chat"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Ping period, must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from the peer.
	maxMessageSize = 64 * 1024
)

// clientFrame is one inbound frame from the browser.
type clientFrame struct {
	Type            string           `json:"type"`
	Content         string           `json:"content,omitempty"`
	Attachments     []dto.Attachment `json:"attachments,omitempty"`
	ReplyToID       string           `json:"reply_to_id,omitempty"`
	AudioURL        string           `json:"audio_url,omitempty"`
	DurationSeconds int              `json:"duration_seconds,omitempty"`
	LocalID         string           `json:"local_id,omitempty"`
	Focused         bool             `json:"focused,omitempty"`
}

// serverFrame is one outbound frame to the browser.
type serverFrame struct {
	Type        string           `json:"type"`
	Message     *dto.ChatMessage `json:"message,omitempty"`
	State       string           `json:"state,omitempty"`
	Local       bool             `json:"local,omitempty"`
	UserID      string           `json:"user_id,omitempty"`
	DisplayName string           `json:"display_name,omitempty"`
	IsTyping    bool             `json:"is_typing,omitempty"`
	MarkedRead  int              `json:"marked_read,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Session is one live websocket attachment to one conversation for one
// participant. It owns the ordered message view, the sender-side typing
// tracker and the receiver-side typing watcher, and tears all of them down
// when the socket closes.
type Session struct {
	conn    *websocket.Conn
	svc     *channel.Service
	reads   *readstate.Tracker
	logger  *slog.Logger
	send    chan []byte
	done    chan struct{}
	focused atomic.Bool

	conversationID chat.ConversationID
	userID         chat.UserID

	view      *view.View
	tracker   *presence.Tracker
	watcher   *presence.Watcher
	typingSub *channel.Subscription
}

// Config wires a session.
type Config struct {
	Conn           *websocket.Conn
	Channel        *channel.Service
	Reads          *readstate.Tracker
	Logger         *slog.Logger
	ConversationID chat.ConversationID
	UserID         chat.UserID
	DisplayName    string
	TypingWindow   time.Duration
	AckTimeout     time.Duration
	HistorySize    int
}

// NewSession builds the session and its collaborators. Run starts the pumps.
func NewSession(cfg Config) *Session {
	s := &Session{
		conn:           cfg.Conn,
		svc:            cfg.Channel,
		reads:          cfg.Reads,
		logger:         cfg.Logger,
		send:           make(chan []byte, 256),
		done:           make(chan struct{}),
		conversationID: cfg.ConversationID,
		userID:         cfg.UserID,
	}
	s.focused.Store(true)
	s.view = view.New(view.Config{
		ConversationID: cfg.ConversationID,
		LocalUser:      cfg.UserID,
		Channel:        cfg.Channel,
		AckTimeout:     cfg.AckTimeout,
		HistorySize:    cfg.HistorySize,
		Logger:         cfg.Logger,
		OnEvent:        s.onViewEvent,
	})
	s.tracker = presence.NewTracker(cfg.ConversationID, cfg.UserID, cfg.DisplayName, cfg.Channel, cfg.TypingWindow)
	s.watcher = presence.NewWatcher(cfg.TypingWindow, s.onTypingChange)
	return s
}

// Run opens the view, starts the pumps, and blocks until the socket closes.
func (s *Session) Run(ctx context.Context) {
	s.typingSub = s.svc.SubscribeTyping(s.conversationID, s.userID, s.watcher.Observe)

	if err := s.view.Open(ctx); err != nil {
		s.logger.Error("view open failed", "conversation_id", s.conversationID, "error", err)
		s.close()
		s.conn.Close()
		return
	}
	// push the history the view loaded before going live
	for _, entry := range s.view.Messages() {
		s.queueEntry(entry)
	}

	go s.writePump()
	s.readPump(ctx)
}

func (s *Session) readPump(ctx context.Context) {
	defer func() {
		s.close()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", "conversation_id", s.conversationID, "user_id", s.userID, "error", err)
			}
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.queueError("malformed frame")
			continue
		}
		switch frame.Type {
		case "send":
			s.tracker.MessageSent()
			if _, err := s.view.Send(ctx, frame.Content, dto.ToAttachments(frame.Attachments), chat.MessageID(frame.ReplyToID)); err != nil {
				s.queueError(err.Error())
			}
		case "voice":
			s.tracker.MessageSent()
			if _, err := s.view.SendVoice(ctx, frame.AudioURL, frame.DurationSeconds); err != nil {
				s.queueError(err.Error())
			}
		case "retry":
			if _, err := s.view.Retry(ctx, chat.MessageID(frame.LocalID)); err != nil {
				s.queueError(err.Error())
			}
		case "keystroke":
			s.tracker.Keystroke()
		case "typing_stop":
			s.tracker.MessageSent()
		case "read":
			s.markRead(ctx)
		case "focus":
			s.focused.Store(frame.Focused)
			if frame.Focused {
				s.markRead(ctx)
			}
		default:
			s.queueError("unknown frame type")
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			// flush queued frames, one websocket frame each
			n := len(s.send)
			for i := 0; i < n; i++ {
				if err := s.conn.WriteMessage(websocket.TextMessage, <-s.send); err != nil {
					return
				}
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) markRead(ctx context.Context) {
	marked, err := s.reads.MarkConversationRead(ctx, s.conversationID, s.userID)
	if err != nil {
		s.queueError(err.Error())
		return
	}
	s.queue(serverFrame{Type: "read", MarkedRead: marked})
}

func (s *Session) onViewEvent(ev view.Event) {
	s.queueEntry(ev.Entry)
	// a peer message landing on a focused thread is read immediately
	if ev.Kind == view.EventAppended && ev.Entry.SenderID != s.userID {
		s.reads.HandleInbound(context.Background(), ev.Entry.Message, s.userID, s.focused.Load())
	}
}

func (s *Session) onTypingChange(state chat.TypingState) {
	s.queue(serverFrame{
		Type:        "typing",
		UserID:      string(state.UserID),
		DisplayName: state.DisplayName,
		IsTyping:    state.IsTyping,
	})
}

func (s *Session) queueEntry(entry view.Entry) {
	msg := dto.FromMessage(entry.Message)
	s.queue(serverFrame{
		Type:    "message",
		Message: &msg,
		State:   stateLabel(entry.State),
		Local:   entry.Local,
	})
}

func stateLabel(state view.SendState) string {
	switch state {
	case view.StateSending:
		return "sending"
	case view.StateFailed:
		return "failed"
	default:
		return "sent"
	}
}

func (s *Session) queueError(msg string) {
	s.queue(serverFrame{Type: "error", Error: msg})
}

func (s *Session) queue(frame serverFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case s.send <- payload:
	case <-s.done:
	default:
		// slow consumer, drop the frame rather than block delivery
		s.logger.Warn("websocket send buffer full", "conversation_id", s.conversationID, "user_id", s.userID)
	}
}

// close tears down the session exactly once.
func (s *Session) close() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	s.tracker.Close()
	s.watcher.Close()
	s.typingSub.Cancel()
	s.view.Close()
}
