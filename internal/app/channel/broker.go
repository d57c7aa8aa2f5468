package channel

import (
	"sync"

	"vendio/internal/domain/chat"
)

// MessageFunc receives one newly persisted message.
type MessageFunc func(chat.Message)

// TypingFunc receives a typing-state change from another participant.
type TypingFunc func(chat.TypingState)

// Subscription is the handle returned by every subscribe call. Cancel is
// idempotent and releases the registration; deliveries racing with Cancel are
// dropped by the owning subscriber state, not by the broker.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel releases the subscription. Safe to call multiple times and safe to
// call while a send is in flight.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

type typingSub struct {
	localUser chat.UserID
	fn        TypingFunc
}

// Broker fans out message and typing events to in-process subscribers. One
// registration map per conversation plus a firehose set for the admin overlay.
// Delivery within a conversation follows publish order; the broker makes no
// ordering promise across conversations.
type Broker struct {
	mu       sync.RWMutex
	nextID   int64
	messages map[chat.ConversationID]map[int64]MessageFunc
	typing   map[chat.ConversationID]map[int64]typingSub
	firehose map[int64]MessageFunc
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{
		messages: make(map[chat.ConversationID]map[int64]MessageFunc),
		typing:   make(map[chat.ConversationID]map[int64]typingSub),
		firehose: make(map[int64]MessageFunc),
	}
}

// Subscribe registers fn for every newly persisted message of the conversation.
func (b *Broker) Subscribe(conversationID chat.ConversationID, fn MessageFunc) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.messages[conversationID] == nil {
		b.messages[conversationID] = make(map[int64]MessageFunc)
	}
	b.nextID++
	id := b.nextID
	b.messages[conversationID][id] = fn
	return &Subscription{cancel: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.messages[conversationID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.messages, conversationID)
			}
		}
	}}
}

// SubscribeTyping registers fn for typing changes of the conversation's other
// participants. The local user's own signals are never echoed back.
func (b *Broker) SubscribeTyping(conversationID chat.ConversationID, localUser chat.UserID, fn TypingFunc) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.typing[conversationID] == nil {
		b.typing[conversationID] = make(map[int64]typingSub)
	}
	b.nextID++
	id := b.nextID
	b.typing[conversationID][id] = typingSub{localUser: localUser, fn: fn}
	return &Subscription{cancel: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.typing[conversationID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.typing, conversationID)
			}
		}
	}}
}

// SubscribeAll registers fn for messages of every conversation. Used by the
// admin monitoring overlay, which keys its own state by conversation id.
func (b *Broker) SubscribeAll(fn MessageFunc) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.firehose[id] = fn
	return &Subscription{cancel: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.firehose, id)
	}}
}

// Deliver pushes a persisted message to conversation subscribers and the
// firehose. Callers may invoke it more than once for the same message id;
// downstream views deduplicate by id.
func (b *Broker) Deliver(msg chat.Message) {
	b.mu.RLock()
	subs := make([]MessageFunc, 0, len(b.messages[msg.ConversationID])+len(b.firehose))
	for _, fn := range b.messages[msg.ConversationID] {
		subs = append(subs, fn)
	}
	for _, fn := range b.firehose {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(msg)
	}
}

// DeliverTyping pushes a typing change to the conversation's typing
// subscribers, skipping the signal's own author.
func (b *Broker) DeliverTyping(state chat.TypingState) {
	b.mu.RLock()
	subs := make([]TypingFunc, 0, len(b.typing[state.ConversationID]))
	for _, sub := range b.typing[state.ConversationID] {
		if sub.localUser == state.UserID {
			continue
		}
		subs = append(subs, sub.fn)
	}
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(state)
	}
}
