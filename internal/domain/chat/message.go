package chat

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrEmptyMessage        = errors.New("chat: message needs content, attachments or audio")
	ErrAudioWithFiles      = errors.New("chat: audio and attachments are mutually exclusive")
	ErrCrossReply          = errors.New("chat: reply target belongs to another conversation")
	ErrInvalidAudio        = errors.New("chat: audio duration must be positive")
	ErrUnsupportedFileType = errors.New("chat: unsupported attachment type")
)

type MessageID string

type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentVideo    AttachmentType = "video"
	AttachmentDocument AttachmentType = "document"
)

// Attachment is a binary payload owned by exactly one message, immutable once attached.
type Attachment struct {
	Type AttachmentType
	URL  string
	Name string
	Size int64
}

// Valid checks the attachment type against the supported set.
func (a Attachment) Valid() bool {
	switch a.Type {
	case AttachmentImage, AttachmentVideo, AttachmentDocument:
		return a.URL != ""
	}
	return false
}

// Message is a single conversation entry. Immutable after creation except IsRead,
// which flips false->true and never reverts.
type Message struct {
	ID             MessageID
	ConversationID ConversationID
	SenderID       UserID
	Content        string
	Attachments    []Attachment
	AudioURL       string
	AudioDuration  int
	ReplyToID      MessageID
	CreatedAt      time.Time
	IsRead         bool
}

// IsVoice reports whether the message is a voice note.
func (m Message) IsVoice() bool { return m.AudioURL != "" }

// Preview returns the text shown in conversation lists.
func (m Message) Preview() string {
	if text := strings.TrimSpace(m.Content); text != "" {
		return text
	}
	if m.IsVoice() {
		return "Message vocal"
	}
	if len(m.Attachments) > 0 {
		return "Pièce jointe"
	}
	return ""
}

// Validate enforces the never-fully-empty invariant and audio/attachment exclusivity.
func (m Message) Validate() error {
	hasContent := strings.TrimSpace(m.Content) != ""
	hasFiles := len(m.Attachments) > 0
	hasAudio := m.AudioURL != ""
	if !hasContent && !hasFiles && !hasAudio {
		return ErrEmptyMessage
	}
	if hasAudio && hasFiles {
		return ErrAudioWithFiles
	}
	if hasAudio && m.AudioDuration <= 0 {
		return ErrInvalidAudio
	}
	for _, att := range m.Attachments {
		if !att.Valid() {
			return ErrUnsupportedFileType
		}
	}
	return nil
}

// ValidateReply rejects cross-conversation reply targets.
func (m Message) ValidateReply(target Message) error {
	if m.ReplyToID == "" {
		return nil
	}
	if target.ID != m.ReplyToID || target.ConversationID != m.ConversationID {
		return ErrCrossReply
	}
	return nil
}

// Less orders messages ascending by created_at with id as the deterministic tiebreak.
func (m Message) Less(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}
