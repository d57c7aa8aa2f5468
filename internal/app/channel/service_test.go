package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"vendio/internal/app/policies"
	"vendio/internal/domain/chat"
)

type fakeStore struct {
	conversations map[chat.ConversationID]chat.Conversation
	messages      map[chat.ConversationID][]chat.Message
	failAppend    bool
	readCalls     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[chat.ConversationID]chat.Conversation),
		messages:      make(map[chat.ConversationID][]chat.Message),
	}
}

func (f *fakeStore) seed(conv chat.Conversation) {
	f.conversations[conv.ID] = conv
}

func (f *fakeStore) GetOrCreateConversation(_ context.Context, listingID chat.ListingID, buyerID, sellerID chat.UserID) (chat.Conversation, error) {
	for _, conv := range f.conversations {
		if conv.ListingID == listingID && conv.BuyerID == buyerID && conv.SellerID == sellerID {
			return conv, nil
		}
	}
	conv := chat.Conversation{ID: chat.ConversationID("conv-" + string(listingID)), ListingID: listingID, BuyerID: buyerID, SellerID: sellerID, Status: chat.StatusActive}
	f.conversations[conv.ID] = conv
	return conv, nil
}

func (f *fakeStore) GetConversation(_ context.Context, id chat.ConversationID) (chat.Conversation, error) {
	conv, ok := f.conversations[id]
	if !ok {
		return chat.Conversation{}, policies.ErrConversationNotFound
	}
	return conv, nil
}

func (f *fakeStore) ListConversations(_ context.Context, userID chat.UserID, includeAll bool, limit int, cursor string) ([]chat.Conversation, string, error) {
	out := make([]chat.Conversation, 0)
	for _, conv := range f.conversations {
		if includeAll || conv.IsParticipant(userID) {
			out = append(out, conv)
		}
	}
	policies.SortConversationsByActivity(out)
	return policies.PageConversations(out, limit, cursor)
}

func (f *fakeStore) ListMessages(_ context.Context, id chat.ConversationID, _ int, _ chat.MessageID) ([]chat.Message, error) {
	return f.messages[id], nil
}

func (f *fakeStore) GetMessage(_ context.Context, id chat.ConversationID, msgID chat.MessageID) (chat.Message, error) {
	for _, msg := range f.messages[id] {
		if msg.ID == msgID {
			return msg, nil
		}
	}
	return chat.Message{}, policies.ErrMessageNotFound
}

func (f *fakeStore) AppendMessage(_ context.Context, msg chat.Message) error {
	if f.failAppend {
		return errors.New("disk full")
	}
	f.messages[msg.ConversationID] = append(f.messages[msg.ConversationID], msg)
	return nil
}

func (f *fakeStore) MarkConversationRead(_ context.Context, id chat.ConversationID, userID chat.UserID) (int, error) {
	f.readCalls++
	conv := f.conversations[id]
	flipped := conv.UnreadFor(userID)
	if userID == conv.BuyerID {
		conv.BuyerUnreadCount = 0
	} else {
		conv.SellerUnreadCount = 0
	}
	f.conversations[id] = conv
	return flipped, nil
}

func (f *fakeStore) SetStatus(_ context.Context, id chat.ConversationID, status chat.ConversationStatus) error {
	conv, ok := f.conversations[id]
	if !ok {
		return policies.ErrConversationNotFound
	}
	conv.Status = status
	f.conversations[id] = conv
	return nil
}

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func activeConversation() chat.Conversation {
	return chat.Conversation{ID: "c1", ListingID: "l1", BuyerID: "buyer", SellerID: "seller", Status: chat.StatusActive}
}

func TestServiceSend_PersistsThenDelivers(t *testing.T) {
	store := newFakeStore()
	store.seed(activeConversation())
	svc := NewService(store, NewBroker(), testLogger)

	var delivered []chat.Message
	sub := svc.Subscribe("c1", func(msg chat.Message) {
		delivered = append(delivered, msg)
	})
	defer sub.Cancel()

	msg, err := svc.Send(context.Background(), "c1", "buyer", "Bonjour, le vélo est-il disponible ?", nil, "")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(store.messages["c1"]) != 1 {
		t.Fatalf("message not persisted")
	}
	if len(delivered) != 1 || delivered[0].ID != msg.ID {
		t.Fatalf("subscriber did not receive the persisted message")
	}
}

func TestServiceSend_NoDeliveryWhenPersistFails(t *testing.T) {
	store := newFakeStore()
	store.seed(activeConversation())
	store.failAppend = true
	svc := NewService(store, NewBroker(), testLogger)

	delivered := 0
	sub := svc.Subscribe("c1", func(chat.Message) { delivered++ })
	defer sub.Cancel()

	_, err := svc.Send(context.Background(), "c1", "buyer", "hello", nil, "")
	if !chat.IsPersistence(err) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if delivered != 0 {
		t.Fatalf("message delivered despite failed persist")
	}
}

func TestServiceSend_RejectsOutsiderAndBlocked(t *testing.T) {
	store := newFakeStore()
	store.seed(activeConversation())
	svc := NewService(store, NewBroker(), testLogger)

	if _, err := svc.Send(context.Background(), "c1", "intruder", "hi", nil, ""); !errors.Is(err, chat.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	if err := svc.SetStatus(context.Background(), "c1", chat.StatusBlocked); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if _, err := svc.Send(context.Background(), "c1", "buyer", "hi", nil, ""); !errors.Is(err, chat.ErrConversationBlocked) {
		t.Fatalf("expected ErrConversationBlocked, got %v", err)
	}
}

func TestServiceSend_RejectsCrossConversationReply(t *testing.T) {
	store := newFakeStore()
	store.seed(activeConversation())
	store.seed(chat.Conversation{ID: "c2", BuyerID: "buyer", SellerID: "other", Status: chat.StatusActive})
	store.messages["c2"] = []chat.Message{{ID: "m-other", ConversationID: "c2", SenderID: "other", Content: "x"}}
	svc := NewService(store, NewBroker(), testLogger)

	_, err := svc.Send(context.Background(), "c1", "buyer", "reply", nil, "m-other")
	if !chat.IsValidation(err) {
		t.Fatalf("expected validation error for cross-conversation reply, got %v", err)
	}
}

func TestServiceTyping_NotEchoedToSender(t *testing.T) {
	store := newFakeStore()
	store.seed(activeConversation())
	svc := NewService(store, NewBroker(), testLogger)

	var buyerSaw, sellerSaw []chat.TypingState
	buyerSub := svc.SubscribeTyping("c1", "buyer", func(s chat.TypingState) { buyerSaw = append(buyerSaw, s) })
	sellerSub := svc.SubscribeTyping("c1", "seller", func(s chat.TypingState) { sellerSaw = append(sellerSaw, s) })
	defer buyerSub.Cancel()
	defer sellerSub.Cancel()

	svc.SendTyping("c1", "buyer", "Alice", true)

	if len(buyerSaw) != 0 {
		t.Fatalf("typing signal echoed back to its sender")
	}
	if len(sellerSaw) != 1 || !sellerSaw[0].IsTyping || sellerSaw[0].DisplayName != "Alice" {
		t.Fatalf("peer did not receive typing signal: %+v", sellerSaw)
	}
}

func TestServiceMarkRead_GuardsParticipants(t *testing.T) {
	store := newFakeStore()
	conv := activeConversation()
	conv.SellerUnreadCount = 2
	store.seed(conv)
	svc := NewService(store, NewBroker(), testLogger)

	if _, err := svc.MarkRead(context.Background(), "c1", "intruder"); !errors.Is(err, chat.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	flipped, err := svc.MarkRead(context.Background(), "c1", "seller")
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if flipped != 2 {
		t.Fatalf("flipped = %d, want 2", flipped)
	}
}

func TestServiceSend_PublishesAfterPersist(t *testing.T) {
	store := newFakeStore()
	store.seed(activeConversation())
	pub := &fakePublisher{}
	svc := NewService(store, NewBroker(), testLogger, WithPublisher(pub))

	if _, err := svc.Send(context.Background(), "c1", "buyer", "hello", nil, ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("publisher not invoked after successful persist")
	}

	store.failAppend = true
	_, _ = svc.Send(context.Background(), "c1", "buyer", "again", nil, "")
	if len(pub.messages) != 1 {
		t.Fatalf("publisher invoked for a failed persist")
	}
}

type fakePublisher struct {
	messages []chat.Message
	typing   []chat.TypingState
}

func (f *fakePublisher) PublishMessage(_ context.Context, msg chat.Message) error {
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakePublisher) PublishTyping(_ context.Context, state chat.TypingState) error {
	f.typing = append(f.typing, state)
	return nil
}

func TestServiceIngest_ReachesSubscribers(t *testing.T) {
	store := newFakeStore()
	store.seed(activeConversation())
	svc := NewService(store, NewBroker(), testLogger)

	got := make(chan chat.Message, 1)
	sub := svc.Subscribe("c1", func(msg chat.Message) { got <- msg })
	defer sub.Cancel()

	remote := chat.Message{ID: "remote-1", ConversationID: "c1", SenderID: "seller", Content: "salut", CreatedAt: time.Now().UTC()}
	svc.Ingest(remote)

	select {
	case msg := <-got:
		if msg.ID != "remote-1" {
			t.Fatalf("wrong message ingested: %s", msg.ID)
		}
	default:
		t.Fatalf("remote message not delivered locally")
	}
}
