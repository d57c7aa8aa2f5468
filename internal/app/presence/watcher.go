package presence

import (
	"sync"
	"time"

	"vendio/internal/domain/chat"
)

// Watcher is the receiver-side mirror of the typing state machine: it tracks
// which peers are composing and clears a peer on its own expiry timer when no
// refresh signal arrives, so a lost stop-signal (closed tab, network drop)
// never leaves a stuck indicator.
type Watcher struct {
	window   time.Duration
	onChange func(chat.TypingState)

	mu     sync.Mutex
	peers  map[chat.UserID]chat.TypingState
	timers map[chat.UserID]*time.Timer
	closed bool
}

// NewWatcher builds a watcher. onChange fires on every effective state change,
// including expiry-driven clears.
func NewWatcher(window time.Duration, onChange func(chat.TypingState)) *Watcher {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Watcher{
		window:   window,
		onChange: onChange,
		peers:    make(map[chat.UserID]chat.TypingState),
		timers:   make(map[chat.UserID]*time.Timer),
	}
}

// Observe feeds one typing signal from the channel.
func (w *Watcher) Observe(state chat.TypingState) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if timer, ok := w.timers[state.UserID]; ok {
		timer.Stop()
		delete(w.timers, state.UserID)
	}
	if !state.IsTyping {
		_, wasTyping := w.peers[state.UserID]
		delete(w.peers, state.UserID)
		w.mu.Unlock()
		if wasTyping && w.onChange != nil {
			w.onChange(state)
		}
		return
	}
	// expiry runs off the local receipt time, sender clocks can skew
	stored := state
	stored.At = time.Now()
	w.peers[state.UserID] = stored
	userID := state.UserID
	w.timers[userID] = time.AfterFunc(w.window, func() {
		w.expire(userID)
	})
	w.mu.Unlock()
	if w.onChange != nil {
		w.onChange(state)
	}
}

// expire clears a peer that went silent without an explicit stop signal.
func (w *Watcher) expire(userID chat.UserID) {
	w.mu.Lock()
	state, ok := w.peers[userID]
	if !ok || w.closed {
		w.mu.Unlock()
		return
	}
	if !state.Expired(time.Now(), w.window) {
		// a refresh raced this timer; the newer timer owns the expiry
		w.mu.Unlock()
		return
	}
	delete(w.peers, userID)
	delete(w.timers, userID)
	w.mu.Unlock()

	state.IsTyping = false
	if w.onChange != nil {
		w.onChange(state)
	}
}

// TypingPeers returns the peers currently marked as composing.
func (w *Watcher) TypingPeers() []chat.TypingState {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]chat.TypingState, 0, len(w.peers))
	for _, state := range w.peers {
		out = append(out, state)
	}
	return out
}

// Close stops all timers and drops peer state.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for id, timer := range w.timers {
		timer.Stop()
		delete(w.timers, id)
	}
	w.peers = make(map[chat.UserID]chat.TypingState)
}
