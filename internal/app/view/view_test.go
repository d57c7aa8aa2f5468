package view

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"vendio/internal/app/channel"
	"vendio/internal/domain/chat"
)

// fakeChannel simulates the message channel: it records subscribers, serves a
// canned history page, and can fail, echo, or hang on demand.
type fakeChannel struct {
	mu      sync.Mutex
	subs    []channel.MessageFunc
	history []chat.Message
	sendErr error
	echo    bool
	block   chan struct{}
	sent    []chat.Message
}

func (f *fakeChannel) Subscribe(_ chat.ConversationID, fn channel.MessageFunc) *channel.Subscription {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
	return &channel.Subscription{}
}

func (f *fakeChannel) History(_ context.Context, _ chat.ConversationID, _ int, _ chat.MessageID) ([]chat.Message, error) {
	return f.history, nil
}

func (f *fakeChannel) Send(_ context.Context, conversationID chat.ConversationID, senderID chat.UserID, content string, attachments []chat.Attachment, replyTo chat.MessageID) (chat.Message, error) {
	if f.block != nil {
		<-f.block
	}
	if f.sendErr != nil {
		return chat.Message{}, f.sendErr
	}
	msg := chat.Message{
		ID:             chat.MessageID(uuid.NewString()),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Attachments:    attachments,
		ReplyToID:      replyTo,
		CreatedAt:      time.Now().UTC(),
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	if f.echo {
		f.deliver(msg)
	}
	return msg, nil
}

func (f *fakeChannel) SendVoice(ctx context.Context, conversationID chat.ConversationID, senderID chat.UserID, audioURL string, durationSeconds int) (chat.Message, error) {
	msg, err := f.Send(ctx, conversationID, senderID, "", nil, "")
	if err != nil {
		return chat.Message{}, err
	}
	msg.Content = ""
	msg.AudioURL = audioURL
	msg.AudioDuration = durationSeconds
	return msg, nil
}

func (f *fakeChannel) deliver(msg chat.Message) {
	f.mu.Lock()
	subs := append([]channel.MessageFunc(nil), f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(msg)
	}
}

func openView(t *testing.T, ch *fakeChannel, opts ...func(*Config)) *View {
	t.Helper()
	cfg := Config{ConversationID: "c1", LocalUser: "buyer", Channel: ch}
	for _, opt := range opts {
		opt(&cfg)
	}
	v := New(cfg)
	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("open view: %v", err)
	}
	return v
}

func messageAt(id string, at time.Time) chat.Message {
	return chat.Message{ID: chat.MessageID(id), ConversationID: "c1", SenderID: "seller", Content: id, CreatedAt: at}
}

func TestView_ReplayedDeliveryIsNotDuplicated(t *testing.T) {
	ch := &fakeChannel{}
	v := openView(t, ch)
	defer v.Close()

	msg := messageAt("m1", time.Now().UTC())
	ch.deliver(msg)
	ch.deliver(msg)
	ch.deliver(msg)

	if v.Len() != 1 {
		t.Fatalf("replayed delivery duplicated: len = %d", v.Len())
	}
}

func TestView_OutOfOrderDeliveryIsSorted(t *testing.T) {
	ch := &fakeChannel{}
	v := openView(t, ch)
	defer v.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ch.deliver(messageAt("m3", base.Add(2*time.Second)))
	ch.deliver(messageAt("m1", base))
	ch.deliver(messageAt("m2", base.Add(time.Second)))

	got := v.Messages()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []chat.MessageID{"m1", "m2", "m3"} {
		if got[i].ID != want {
			t.Fatalf("position %d: got %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestView_HistoryOverlapsWithLiveDelivery(t *testing.T) {
	at := time.Now().UTC()
	ch := &fakeChannel{history: []chat.Message{messageAt("m1", at)}}
	v := openView(t, ch)
	defer v.Close()

	// the same message arrives live while history was loading
	ch.deliver(messageAt("m1", at))

	if v.Len() != 1 {
		t.Fatalf("history/live overlap duplicated: len = %d", v.Len())
	}
}

func TestView_SendReplacesOptimisticEntry(t *testing.T) {
	ch := &fakeChannel{echo: true}
	var events []Event
	var mu sync.Mutex
	v := openView(t, ch, func(cfg *Config) {
		cfg.OnEvent = func(ev Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
	})
	defer v.Close()

	if _, err := v.Send(context.Background(), "Bonjour", nil, ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	entries := v.Messages()
	if len(entries) != 1 {
		t.Fatalf("optimistic and persisted entries both kept: len = %d", len(entries))
	}
	if entries[0].State != StateSent || entries[0].Local {
		t.Fatalf("entry not settled: %+v", entries[0])
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) == 0 || events[0].Kind != EventAppended {
		t.Fatalf("optimistic append not announced")
	}
}

func TestView_FailedSendStaysVisible(t *testing.T) {
	ch := &fakeChannel{sendErr: errors.New("broker down")}
	var failed []Entry
	var mu sync.Mutex
	v := openView(t, ch, func(cfg *Config) {
		cfg.OnEvent = func(ev Event) {
			if ev.Kind == EventFailed {
				mu.Lock()
				failed = append(failed, ev.Entry)
				mu.Unlock()
			}
		}
	})
	defer v.Close()

	localID, err := v.Send(context.Background(), "hello", nil, "")
	if err == nil {
		t.Fatalf("expected send error")
	}

	entries := v.Messages()
	if len(entries) != 1 || entries[0].State != StateFailed || entries[0].ID != localID {
		t.Fatalf("failed entry not marked: %+v", entries)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 1 {
		t.Fatalf("failure event not emitted")
	}
}

func TestView_RetryFailedSend(t *testing.T) {
	ch := &fakeChannel{sendErr: errors.New("unavailable")}
	v := openView(t, ch)
	defer v.Close()

	localID, _ := v.Send(context.Background(), "retry me", nil, "")

	ch.sendErr = nil
	ch.echo = true
	newID, err := v.Retry(context.Background(), localID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if newID == localID {
		t.Fatalf("retry did not settle to a persisted id")
	}

	entries := v.Messages()
	if len(entries) != 1 || entries[0].State != StateSent {
		t.Fatalf("retried entry not settled: %+v", entries)
	}

	if _, err := v.Retry(context.Background(), newID); !errors.Is(err, ErrNotRetryable) {
		t.Fatalf("delivered entry must not be retryable, got %v", err)
	}
}

func TestView_AckTimeoutMarksSilentSendFailed(t *testing.T) {
	ch := &fakeChannel{block: make(chan struct{})}
	failed := make(chan Entry, 1)
	v := openView(t, ch, func(cfg *Config) {
		cfg.AckTimeout = 30 * time.Millisecond
		cfg.OnEvent = func(ev Event) {
			if ev.Kind == EventFailed {
				failed <- ev.Entry
			}
		}
	})
	defer v.Close()
	defer close(ch.block)

	go func() {
		_, _ = v.Send(context.Background(), "into the void", nil, "")
	}()

	select {
	case entry := <-failed:
		if entry.State != StateFailed {
			t.Fatalf("entry state = %v, want failed", entry.State)
		}
	case <-time.After(time.Second):
		t.Fatalf("silent send never marked failed")
	}
}

func TestView_CloseDropsLateCallbacks(t *testing.T) {
	ch := &fakeChannel{}
	v := openView(t, ch)
	v.Close()

	ch.deliver(messageAt("late", time.Now().UTC()))

	if v.Len() != 0 {
		t.Fatalf("late delivery accepted after close")
	}
}
