package chat

import "time"

// TypingState is the ephemeral composing signal for one participant in one
// conversation. Never persisted; receivers expire it locally when no refresh
// arrives within the typing window, because the explicit stop signal can be lost.
type TypingState struct {
	ConversationID ConversationID
	UserID         UserID
	DisplayName    string
	IsTyping       bool
	At             time.Time
}

// Expired reports whether the signal is older than the given window at now.
func (t TypingState) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(t.At) >= window
}
