package policies

import (
	"context"
	"time"

	"vendio/internal/domain/chat"
)

// AuditAction names a moderation action recorded against a conversation.
type AuditAction string

const (
	AuditFlagged  AuditAction = "flagged"
	AuditBlocked  AuditAction = "blocked"
	AuditExported AuditAction = "exported"
)

// AuditEntry is one moderation audit record.
type AuditEntry struct {
	ConversationID chat.ConversationID
	AdminID        chat.UserID
	Action         AuditAction
	Reason         string
	At             time.Time
}

// AuditLog records moderation actions taken from the admin monitoring overlay.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}
