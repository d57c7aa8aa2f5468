package kafka

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"vendio/internal/app/channel"
	"vendio/internal/domain/chat"
	"vendio/internal/infra/storage/memory"
)

func newBridgeUnderTest(t *testing.T) (*Bridge, *channel.Service) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := channel.NewService(memory.NewStore(), channel.NewBroker(), logger)
	return NewBridge(nil, "vendio.chat", svc, logger), svc
}

func consumerMessage(t *testing.T, ev event, origin string) *sarama.ConsumerMessage {
	t.Helper()
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}
	return &sarama.ConsumerMessage{
		Topic: "vendio.chat.events",
		Value: payload,
		Headers: []*sarama.RecordHeader{
			{Key: []byte(originHeader), Value: []byte(origin)},
		},
	}
}

func TestBridgeHandle_IngestsForeignMessage(t *testing.T) {
	bridge, svc := newBridgeUnderTest(t)

	got := make(chan chat.Message, 1)
	sub := svc.Subscribe("c1", func(msg chat.Message) { got <- msg })
	defer sub.Cancel()

	ev := event{
		Kind:           eventMessage,
		ConversationID: "c1",
		MessageID:      "m1",
		SenderID:       "seller",
		Content:        "salut",
		CreatedAt:      time.Now().UTC(),
	}
	if err := bridge.Handle(context.Background(), consumerMessage(t, ev, "other-instance")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	select {
	case msg := <-got:
		if msg.ID != "m1" || msg.SenderID != "seller" {
			t.Fatalf("wrong message ingested: %+v", msg)
		}
	default:
		t.Fatalf("foreign event not fed into the local broker")
	}
}

func TestBridgeHandle_SkipsOwnEcho(t *testing.T) {
	bridge, svc := newBridgeUnderTest(t)

	delivered := 0
	sub := svc.Subscribe("c1", func(chat.Message) { delivered++ })
	defer sub.Cancel()

	ev := event{Kind: eventMessage, ConversationID: "c1", MessageID: "m1"}
	if err := bridge.Handle(context.Background(), consumerMessage(t, ev, bridge.origin)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if delivered != 0 {
		t.Fatalf("own echo re-delivered locally")
	}
}

func TestBridgeHandle_IngestsForeignTyping(t *testing.T) {
	bridge, svc := newBridgeUnderTest(t)

	got := make(chan chat.TypingState, 1)
	sub := svc.SubscribeTyping("c1", "buyer", func(s chat.TypingState) { got <- s })
	defer sub.Cancel()

	ev := event{Kind: eventTyping, ConversationID: "c1", UserID: "seller", DisplayName: "Bob", IsTyping: true}
	if err := bridge.Handle(context.Background(), consumerMessage(t, ev, "other-instance")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	select {
	case state := <-got:
		if !state.IsTyping || state.DisplayName != "Bob" {
			t.Fatalf("typing state wrong: %+v", state)
		}
	default:
		t.Fatalf("foreign typing not fed into the local broker")
	}
}

func TestBridgeHandle_MalformedPayload(t *testing.T) {
	bridge, _ := newBridgeUnderTest(t)

	msg := &sarama.ConsumerMessage{Value: []byte("{not json")}
	if err := bridge.Handle(context.Background(), msg); err == nil {
		t.Fatalf("malformed payload accepted")
	}
}
