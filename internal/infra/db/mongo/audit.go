package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"vendio/internal/app/policies"
	"vendio/internal/domain/chat"
)

const auditCollection = "moderation_audit"

// AuditLog persists moderation actions taken from the admin overlay.
type AuditLog struct {
	col *mongo.Collection
}

// NewAuditLog builds the audit log on the moderation collection.
func NewAuditLog(client *Client) *AuditLog {
	return &AuditLog{col: client.DB.Collection(auditCollection)}
}

type auditDocument struct {
	ConversationID string    `bson:"conversation_id"`
	AdminID        string    `bson:"admin_id"`
	Action         string    `bson:"action"`
	Reason         string    `bson:"reason,omitempty"`
	At             time.Time `bson:"at"`
}

// Record appends one audit entry.
func (a *AuditLog) Record(ctx context.Context, entry policies.AuditEntry) error {
	at := entry.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := a.col.InsertOne(ctx, auditDocument{
		ConversationID: string(entry.ConversationID),
		AdminID:        string(entry.AdminID),
		Action:         string(entry.Action),
		Reason:         entry.Reason,
		At:             at,
	})
	return err
}

// History returns the audit trail for one conversation, newest first.
func (a *AuditLog) History(ctx context.Context, conversationID chat.ConversationID) ([]policies.AuditEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: -1}})
	cursor, err := a.col.Find(ctx, bson.M{"conversation_id": string(conversationID)}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := make([]policies.AuditEntry, 0)
	for cursor.Next(ctx) {
		var doc auditDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, policies.AuditEntry{
			ConversationID: chat.ConversationID(doc.ConversationID),
			AdminID:        chat.UserID(doc.AdminID),
			Action:         policies.AuditAction(doc.Action),
			Reason:         doc.Reason,
			At:             doc.At,
		})
	}
	return out, cursor.Err()
}

var _ policies.AuditLog = (*AuditLog)(nil)
