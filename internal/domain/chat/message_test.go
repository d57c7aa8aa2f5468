package chat

import (
	"errors"
	"testing"
	"time"
)

func TestMessageValidate_RejectsEmpty(t *testing.T) {
	msg := Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Content: "   "}
	if err := msg.Validate(); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestMessageValidate_AudioExcludesAttachments(t *testing.T) {
	msg := Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "u1",
		AudioURL:       "https://cdn/voice.ogg",
		AudioDuration:  12,
		Attachments:    []Attachment{{Type: AttachmentImage, URL: "https://cdn/p.jpg"}},
	}
	if err := msg.Validate(); !errors.Is(err, ErrAudioWithFiles) {
		t.Fatalf("expected ErrAudioWithFiles, got %v", err)
	}
}

func TestMessageValidate_VoiceNeedsDuration(t *testing.T) {
	msg := Message{ID: "m1", ConversationID: "c1", SenderID: "u1", AudioURL: "https://cdn/voice.ogg"}
	if err := msg.Validate(); !errors.Is(err, ErrInvalidAudio) {
		t.Fatalf("expected ErrInvalidAudio, got %v", err)
	}
}

func TestMessageValidate_AttachmentTypes(t *testing.T) {
	msg := Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "u1",
		Attachments:    []Attachment{{Type: "archive", URL: "https://cdn/a.zip"}},
	}
	if err := msg.Validate(); !errors.Is(err, ErrUnsupportedFileType) {
		t.Fatalf("expected ErrUnsupportedFileType, got %v", err)
	}

	msg.Attachments = []Attachment{{Type: AttachmentDocument, URL: "https://cdn/a.pdf"}}
	if err := msg.Validate(); err != nil {
		t.Fatalf("document attachment should be valid, got %v", err)
	}
}

func TestMessagePreview_Fallbacks(t *testing.T) {
	voice := Message{AudioURL: "https://cdn/voice.ogg", AudioDuration: 5}
	if got := voice.Preview(); got != "Message vocal" {
		t.Fatalf("voice preview = %q", got)
	}
	files := Message{Attachments: []Attachment{{Type: AttachmentImage, URL: "u"}}}
	if got := files.Preview(); got != "Pièce jointe" {
		t.Fatalf("attachment preview = %q", got)
	}
	text := Message{Content: "  Bonjour  "}
	if got := text.Preview(); got != "Bonjour" {
		t.Fatalf("text preview = %q", got)
	}
}

func TestValidateReply_RejectsCrossConversation(t *testing.T) {
	reply := Message{ID: "m2", ConversationID: "c1", ReplyToID: "m1"}
	target := Message{ID: "m1", ConversationID: "c2"}
	if err := reply.ValidateReply(target); !errors.Is(err, ErrCrossReply) {
		t.Fatalf("expected ErrCrossReply, got %v", err)
	}

	target.ConversationID = "c1"
	if err := reply.ValidateReply(target); err != nil {
		t.Fatalf("same-conversation reply should pass, got %v", err)
	}
}

func TestMessageLess_TiebreaksOnID(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := Message{ID: "aaa", CreatedAt: at}
	b := Message{ID: "bbb", CreatedAt: at}
	if !a.Less(b) || b.Less(a) {
		t.Fatalf("equal timestamps must order by id")
	}

	earlier := Message{ID: "zzz", CreatedAt: at.Add(-time.Minute)}
	if !earlier.Less(a) {
		t.Fatalf("earlier message must sort first regardless of id")
	}
}
