package presence

import (
	"sync"
	"time"

	"vendio/internal/domain/chat"
)

// DefaultWindow is the typing inactivity window: no keystroke for this long
// means the participant stopped composing.
const DefaultWindow = 2 * time.Second

// TypingSender is the slice of the message channel the tracker emits on.
type TypingSender interface {
	SendTyping(conversationID chat.ConversationID, userID chat.UserID, displayName string, isTyping bool)
}

// Tracker is the sender-side typing state machine for one local participant in
// one open conversation. Two states, idle and typing: the first keystroke
// emits typing=true, every keystroke rearms the inactivity timer, and the
// transition back to idle (timer expiry or message sent) emits typing=false.
type Tracker struct {
	conversationID chat.ConversationID
	userID         chat.UserID
	displayName    string
	sender         TypingSender
	window         time.Duration

	mu     sync.Mutex
	typing bool
	timer  *time.Timer
	closed bool
}

// NewTracker builds an idle tracker. A non-positive window falls back to
// DefaultWindow.
func NewTracker(conversationID chat.ConversationID, userID chat.UserID, displayName string, sender TypingSender, window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		conversationID: conversationID,
		userID:         userID,
		displayName:    displayName,
		sender:         sender,
		window:         window,
	}
}

// Keystroke records a content-changing keystroke. The first one after idle
// broadcasts typing=true; subsequent ones only rearm the timer.
func (t *Tracker) Keystroke() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	wasIdle := !t.typing
	t.typing = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.window, t.expire)
	t.mu.Unlock()

	if wasIdle {
		t.sender.SendTyping(t.conversationID, t.userID, t.displayName, true)
	}
}

// MessageSent transitions to idle immediately, bypassing the timer.
func (t *Tracker) MessageSent() {
	t.stop(true)
}

// Close stops the tracker, emitting a final stop signal if still typing.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()
	t.stop(true)
}

func (t *Tracker) expire() {
	t.stop(true)
}

func (t *Tracker) stop(notify bool) {
	t.mu.Lock()
	wasTyping := t.typing
	t.typing = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	if notify && wasTyping {
		t.sender.SendTyping(t.conversationID, t.userID, t.displayName, false)
	}
}

// IsTyping reports the current state.
func (t *Tracker) IsTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}
