package admin

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"vendio/internal/app/channel"
	"vendio/internal/app/policies"
	"vendio/internal/app/scanner"
	"vendio/internal/domain/chat"
)

// Entry is one row of the live monitoring overlay: the latest message of a
// conversation plus its fraud-keyword risk level.
type Entry struct {
	ConversationID chat.ConversationID
	LastMessage    chat.Message
	Preview        string
	Risk           scanner.Level
	UpdatedAt      time.Time
}

// Monitor is the admin-side overlay over every conversation. It subscribes to
// the channel firehose, keeps all state keyed by conversation id, and scores
// the latest message text with the content scanner.
type Monitor struct {
	svc    *channel.Service
	audit  policies.AuditLog
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[chat.ConversationID]*Entry
	sub     *channel.Subscription
}

// NewMonitor builds a stopped monitor.
func NewMonitor(svc *channel.Service, audit policies.AuditLog, logger *slog.Logger) *Monitor {
	return &Monitor{
		svc:     svc,
		audit:   audit,
		logger:  logger,
		entries: make(map[chat.ConversationID]*Entry),
	}
}

// Start subscribes to the firehose. Idempotent.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub != nil {
		return
	}
	m.sub = m.svc.SubscribeAll(m.observe)
}

// Stop cancels the firehose subscription; safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()
	sub.Cancel()
}

func (m *Monitor) observe(msg chat.Message) {
	preview := msg.Preview()
	risk := scanner.Classify(preview)
	m.mu.Lock()
	if m.sub == nil {
		m.mu.Unlock()
		return
	}
	entry, ok := m.entries[msg.ConversationID]
	if ok && !msg.CreatedAt.After(entry.LastMessage.CreatedAt) && msg.ID != entry.LastMessage.ID {
		// replay of an older event, keep the newer row
		m.mu.Unlock()
		return
	}
	m.entries[msg.ConversationID] = &Entry{
		ConversationID: msg.ConversationID,
		LastMessage:    msg,
		Preview:        preview,
		Risk:           risk,
		UpdatedAt:      msg.CreatedAt,
	}
	m.mu.Unlock()

	if risk == scanner.LevelDanger && m.logger != nil {
		m.logger.Warn("high-risk conversation content", "conversation_id", msg.ConversationID, "sender_id", msg.SenderID)
	}
}

// Snapshot returns up to limit overlay rows ordered by most recent activity.
// Out-of-range limits fall back to the shared listing default.
func (m *Monitor) Snapshot(limit int) []Entry {
	m.mu.RLock()
	out := make([]Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, *entry)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if n := policies.NormalizeLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out
}

// Conversations lists every thread regardless of blocked state for the admin
// view, one page at a time.
func (m *Monitor) Conversations(ctx context.Context, limit int, cursor string) ([]chat.Conversation, string, error) {
	return m.svc.Conversations(ctx, "", true, limit, cursor)
}

// Block transitions the conversation to blocked and writes an audit record.
func (m *Monitor) Block(ctx context.Context, conversationID chat.ConversationID, adminID chat.UserID, reason string) error {
	if err := m.svc.SetStatus(ctx, conversationID, chat.StatusBlocked); err != nil {
		return err
	}
	m.record(ctx, policies.AuditEntry{
		ConversationID: conversationID,
		AdminID:        adminID,
		Action:         policies.AuditBlocked,
		Reason:         reason,
		At:             time.Now().UTC(),
	})
	return nil
}

// Flag writes a flag-for-review audit record without touching the thread.
func (m *Monitor) Flag(ctx context.Context, conversationID chat.ConversationID, adminID chat.UserID, reason string) error {
	return m.recordErr(ctx, policies.AuditEntry{
		ConversationID: conversationID,
		AdminID:        adminID,
		Action:         policies.AuditFlagged,
		Reason:         reason,
		At:             time.Now().UTC(),
	})
}

// Export returns the full conversation dump for offline review and records the
// access.
func (m *Monitor) Export(ctx context.Context, conversationID chat.ConversationID, adminID chat.UserID) (chat.Conversation, []chat.Message, error) {
	conv, err := m.svc.Conversation(ctx, conversationID)
	if err != nil {
		return chat.Conversation{}, nil, err
	}
	messages, err := m.svc.History(ctx, conversationID, 0, "")
	if err != nil {
		return chat.Conversation{}, nil, err
	}
	m.record(ctx, policies.AuditEntry{
		ConversationID: conversationID,
		AdminID:        adminID,
		Action:         policies.AuditExported,
		At:             time.Now().UTC(),
	})
	return conv, messages, nil
}

func (m *Monitor) record(ctx context.Context, entry policies.AuditEntry) {
	if err := m.recordErr(ctx, entry); err != nil && m.logger != nil {
		m.logger.Error("audit write failed", "conversation_id", entry.ConversationID, "action", entry.Action, "error", err)
	}
}

func (m *Monitor) recordErr(ctx context.Context, entry policies.AuditEntry) error {
	if m.audit == nil {
		return nil
	}
	return m.audit.Record(ctx, entry)
}
