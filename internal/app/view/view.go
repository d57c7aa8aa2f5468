package view

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vendio/internal/app/channel"
	"vendio/internal/domain/chat"
)

// ErrNotRetryable is returned by Retry for entries that are not failed
// optimistic sends.
var ErrNotRetryable = errors.New("view: entry is not retryable")

// SendState tracks an entry's delivery progress. A failed send is never left
// indistinguishable from a delivered one.
type SendState int

const (
	StateSending SendState = iota
	StateSent
	StateFailed
)

// Entry is one visible message plus its local delivery state.
type Entry struct {
	chat.Message
	State SendState
	// Local marks an optimistic entry synthesized before the store confirmed it.
	Local bool
}

// EventKind tells listeners what changed in the view.
type EventKind int

const (
	EventAppended EventKind = iota
	EventUpdated
	EventFailed
)

// Event is pushed to the view's listener on every visible change.
type Event struct {
	Kind  EventKind
	Entry Entry
}

// Channel is the slice of the message channel the view consumes.
type Channel interface {
	Subscribe(chat.ConversationID, channel.MessageFunc) *channel.Subscription
	History(ctx context.Context, conversationID chat.ConversationID, limit int, before chat.MessageID) ([]chat.Message, error)
	Send(ctx context.Context, conversationID chat.ConversationID, senderID chat.UserID, content string, attachments []chat.Attachment, replyTo chat.MessageID) (chat.Message, error)
	SendVoice(ctx context.Context, conversationID chat.ConversationID, senderID chat.UserID, audioURL string, durationSeconds int) (chat.Message, error)
}

// Config wires one conversation view for one local participant.
type Config struct {
	ConversationID chat.ConversationID
	LocalUser      chat.UserID
	Channel        Channel
	// AckTimeout bounds how long an optimistic entry may stay in StateSending
	// before it is marked failed. Zero disables the timer.
	AckTimeout  time.Duration
	HistorySize int
	Logger      *slog.Logger
	OnEvent     func(Event)
}

// View holds the ordered, deduplicated message list of one open conversation.
// Optimistic local appends and channel echoes are reconciled by message id, so
// replayed deliveries never duplicate an entry. The list stays sorted ascending
// by created_at with id as tiebreak, whatever order events arrive in.
type View struct {
	cfg Config

	mu     sync.Mutex
	byID   map[chat.MessageID]*Entry
	order  []*Entry
	timers map[chat.MessageID]*time.Timer
	sub    *channel.Subscription
	closed bool
}

// New builds an unopened view.
func New(cfg Config) *View {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	return &View{
		cfg:    cfg,
		byID:   make(map[chat.MessageID]*Entry),
		timers: make(map[chat.MessageID]*time.Timer),
	}
}

// Open loads the initial message page and switches to live delivery. The
// subscription is registered before the history read so a message persisted in
// between is not lost; the id index absorbs the overlap.
func (v *View) Open(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return &chat.TransportError{Err: context.Canceled}
	}
	v.sub = v.cfg.Channel.Subscribe(v.cfg.ConversationID, v.handleInbound)
	v.mu.Unlock()

	history, err := v.cfg.Channel.History(ctx, v.cfg.ConversationID, v.cfg.HistorySize, "")
	if err != nil {
		return &chat.TransportError{Err: err}
	}
	for _, msg := range history {
		v.handleInbound(msg)
	}
	return nil
}

// Close cancels the subscription and discards in-memory state. Late callbacks
// after Close are dropped; the durable record lives in the store.
func (v *View) Close() {
	v.mu.Lock()
	sub := v.sub
	v.closed = true
	for id, timer := range v.timers {
		timer.Stop()
		delete(v.timers, id)
	}
	v.byID = make(map[chat.MessageID]*Entry)
	v.order = nil
	v.mu.Unlock()
	sub.Cancel()
}

// Send appends an optimistic entry and submits the message. The returned id is
// the provisional local id; listeners see the entry flip to the persisted
// message on success or to StateFailed on error.
func (v *View) Send(ctx context.Context, content string, attachments []chat.Attachment, replyTo chat.MessageID) (chat.MessageID, error) {
	localID := v.appendOptimistic(chat.Message{
		ID:             chat.MessageID("local-" + uuid.NewString()),
		ConversationID: v.cfg.ConversationID,
		SenderID:       v.cfg.LocalUser,
		Content:        content,
		Attachments:    attachments,
		ReplyToID:      replyTo,
		CreatedAt:      time.Now().UTC(),
	})
	msg, err := v.cfg.Channel.Send(ctx, v.cfg.ConversationID, v.cfg.LocalUser, content, attachments, replyTo)
	return v.settle(localID, msg, err)
}

// SendVoice is Send for voice notes.
func (v *View) SendVoice(ctx context.Context, audioURL string, durationSeconds int) (chat.MessageID, error) {
	localID := v.appendOptimistic(chat.Message{
		ID:             chat.MessageID("local-" + uuid.NewString()),
		ConversationID: v.cfg.ConversationID,
		SenderID:       v.cfg.LocalUser,
		AudioURL:       audioURL,
		AudioDuration:  durationSeconds,
		CreatedAt:      time.Now().UTC(),
	})
	msg, err := v.cfg.Channel.SendVoice(ctx, v.cfg.ConversationID, v.cfg.LocalUser, audioURL, durationSeconds)
	return v.settle(localID, msg, err)
}

// Retry re-submits a failed optimistic entry.
func (v *View) Retry(ctx context.Context, localID chat.MessageID) (chat.MessageID, error) {
	v.mu.Lock()
	entry, ok := v.byID[localID]
	if !ok || !entry.Local || entry.State != StateFailed {
		v.mu.Unlock()
		return "", ErrNotRetryable
	}
	entry.State = StateSending
	snapshot := *entry
	v.mu.Unlock()
	v.emit(Event{Kind: EventUpdated, Entry: snapshot})
	v.armAckTimer(localID)

	var (
		msg chat.Message
		err error
	)
	if snapshot.IsVoice() {
		msg, err = v.cfg.Channel.SendVoice(ctx, v.cfg.ConversationID, v.cfg.LocalUser, snapshot.AudioURL, snapshot.AudioDuration)
	} else {
		msg, err = v.cfg.Channel.Send(ctx, v.cfg.ConversationID, v.cfg.LocalUser, snapshot.Content, snapshot.Attachments, snapshot.ReplyToID)
	}
	return v.settle(localID, msg, err)
}

// Messages returns the ordered snapshot of the visible list.
func (v *View) Messages() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Entry, 0, len(v.order))
	for _, entry := range v.order {
		out = append(out, *entry)
	}
	return out
}

// Len returns the number of visible entries.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.order)
}

func (v *View) appendOptimistic(msg chat.Message) chat.MessageID {
	v.mu.Lock()
	entry := &Entry{Message: msg, State: StateSending, Local: true}
	v.byID[msg.ID] = entry
	v.insertLocked(entry)
	snapshot := *entry
	v.mu.Unlock()
	v.emit(Event{Kind: EventAppended, Entry: snapshot})
	v.armAckTimer(msg.ID)
	return msg.ID
}

// settle reconciles the optimistic entry with the submit outcome: on success
// the provisional entry is replaced by the persisted message, on failure it is
// marked failed and stays visible.
func (v *View) settle(localID chat.MessageID, msg chat.Message, err error) (chat.MessageID, error) {
	if err != nil {
		v.markFailed(localID)
		return localID, err
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return msg.ID, nil
	}
	v.stopTimerLocked(localID)
	if entry, ok := v.byID[localID]; ok {
		delete(v.byID, localID)
		v.removeLocked(entry)
	}
	var snapshot Entry
	if existing, ok := v.byID[msg.ID]; ok {
		// echo arrived before the call returned
		existing.State = StateSent
		existing.Local = false
		snapshot = *existing
	} else {
		entry := &Entry{Message: msg, State: StateSent}
		v.byID[msg.ID] = entry
		v.insertLocked(entry)
		snapshot = *entry
	}
	v.mu.Unlock()
	v.emit(Event{Kind: EventUpdated, Entry: snapshot})
	return msg.ID, nil
}

// handleInbound is the channel callback: dedup by id, insert in created_at
// order otherwise. Safe against replays and late deliveries after Close.
func (v *View) handleInbound(msg chat.Message) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	if existing, ok := v.byID[msg.ID]; ok {
		if existing.State != StateSent {
			existing.State = StateSent
			existing.Local = false
			snapshot := *existing
			v.mu.Unlock()
			v.emit(Event{Kind: EventUpdated, Entry: snapshot})
			return
		}
		v.mu.Unlock()
		return
	}
	entry := &Entry{Message: msg, State: StateSent}
	v.byID[msg.ID] = entry
	v.insertLocked(entry)
	snapshot := *entry
	v.mu.Unlock()
	v.emit(Event{Kind: EventAppended, Entry: snapshot})
}

func (v *View) markFailed(localID chat.MessageID) {
	v.mu.Lock()
	entry, ok := v.byID[localID]
	if !ok || v.closed || entry.State != StateSending {
		v.mu.Unlock()
		return
	}
	v.stopTimerLocked(localID)
	entry.State = StateFailed
	snapshot := *entry
	v.mu.Unlock()
	if v.cfg.Logger != nil {
		v.cfg.Logger.Warn("message send failed", "conversation_id", v.cfg.ConversationID, "local_id", localID)
	}
	v.emit(Event{Kind: EventFailed, Entry: snapshot})
}

// armAckTimer marks the entry failed if it is still pending when the ack
// window elapses. Covers the silent-channel case where neither a result nor an
// echo ever arrives.
func (v *View) armAckTimer(localID chat.MessageID) {
	if v.cfg.AckTimeout <= 0 {
		return
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.timers[localID] = time.AfterFunc(v.cfg.AckTimeout, func() {
		v.markFailed(localID)
	})
	v.mu.Unlock()
}

func (v *View) stopTimerLocked(id chat.MessageID) {
	if timer, ok := v.timers[id]; ok {
		timer.Stop()
		delete(v.timers, id)
	}
}

// insertLocked keeps order sorted ascending by created_at, id tiebreak.
func (v *View) insertLocked(entry *Entry) {
	idx := sort.Search(len(v.order), func(i int) bool {
		return entry.Message.Less(v.order[i].Message)
	})
	v.order = append(v.order, nil)
	copy(v.order[idx+1:], v.order[idx:])
	v.order[idx] = entry
}

func (v *View) removeLocked(entry *Entry) {
	for i, e := range v.order {
		if e == entry {
			v.order = append(v.order[:i], v.order[i+1:]...)
			return
		}
	}
}

func (v *View) emit(ev Event) {
	if v.cfg.OnEvent != nil {
		v.cfg.OnEvent(ev)
	}
}
