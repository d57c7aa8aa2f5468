package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"vendio/internal/app/policies"
	"vendio/internal/domain/chat"
)

const (
	// MaxAttachmentSize is the per-file upload cap.
	MaxAttachmentSize = 10 << 20 // 10 MB
	// MaxVoiceSeconds caps voice note duration.
	MaxVoiceSeconds = 60
)

var (
	ErrFileTooLarge     = errors.New("media: file exceeds the 10 MB limit")
	ErrVoiceTooLong     = errors.New("media: voice note exceeds the 60 second limit")
	ErrUnsupportedMedia = errors.New("media: unsupported content type")
)

// File is one attachment candidate in an upload batch.
type File struct {
	Name        string
	Size        int64
	ContentType string
	Reader      io.Reader
}

// Result pairs a batch position with its outcome: either an attachment or the
// per-file rejection.
type Result struct {
	Name       string
	Attachment chat.Attachment
	Err        error
}

// Service orchestrates attachment and voice-note uploads against the blob
// store. Oversize or unsupported files are rejected individually; the rest of
// the batch still goes through.
type Service struct {
	uploader policies.Uploader
	logger   *slog.Logger
}

// NewService wires the media service to a blob uploader.
func NewService(uploader policies.Uploader, logger *slog.Logger) *Service {
	return &Service{uploader: uploader, logger: logger}
}

// UploadAttachments processes the batch file by file. The returned slice keeps
// batch order; callers collect the successful attachments and surface the
// per-file errors.
func (s *Service) UploadAttachments(ctx context.Context, conversationID chat.ConversationID, files []File) []Result {
	results := make([]Result, 0, len(files))
	for _, file := range files {
		att, err := s.uploadOne(ctx, conversationID, file)
		if err != nil && s.logger != nil {
			s.logger.Warn("attachment rejected", "conversation_id", conversationID, "name", file.Name, "error", err)
		}
		results = append(results, Result{Name: file.Name, Attachment: att, Err: err})
	}
	return results
}

func (s *Service) uploadOne(ctx context.Context, conversationID chat.ConversationID, file File) (chat.Attachment, error) {
	if file.Size > MaxAttachmentSize {
		return chat.Attachment{}, chat.NewValidationError(file.Name, ErrFileTooLarge)
	}
	attType, ok := classifyContentType(file.ContentType)
	if !ok {
		return chat.Attachment{}, chat.NewValidationError(file.Name, ErrUnsupportedMedia)
	}
	key := fmt.Sprintf("chat/%s/%s%s", conversationID, uuid.NewString(), path.Ext(file.Name))
	url, err := s.uploader.Upload(ctx, key, io.LimitReader(file.Reader, MaxAttachmentSize), file.ContentType)
	if err != nil {
		return chat.Attachment{}, chat.NewPersistenceError("upload attachment", err)
	}
	return chat.Attachment{
		Type: attType,
		URL:  url,
		Name: file.Name,
		Size: file.Size,
	}, nil
}

// UploadVoice stores a recorded voice note and returns its URL. Duration is
// validated against the fixed cap; the recording settings themselves belong to
// the capture side.
func (s *Service) UploadVoice(ctx context.Context, userID chat.UserID, blob io.Reader, contentType string, durationSeconds int) (string, error) {
	if durationSeconds <= 0 || durationSeconds > MaxVoiceSeconds {
		return "", chat.NewValidationError("duration", ErrVoiceTooLong)
	}
	if contentType == "" {
		contentType = "audio/webm"
	}
	if !strings.HasPrefix(contentType, "audio/") {
		return "", chat.NewValidationError("content_type", ErrUnsupportedMedia)
	}
	key := fmt.Sprintf("voice/%s/%s", userID, uuid.NewString())
	url, err := s.uploader.Upload(ctx, key, blob, contentType)
	if err != nil {
		return "", chat.NewPersistenceError("upload voice", err)
	}
	return url, nil
}

var documentTypes = map[string]struct{}{
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.oasis.opendocument.text":                                 {},
	"text/plain":                                                              {},
	"text/csv":                                                                {},
}

func classifyContentType(contentType string) (chat.AttachmentType, bool) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return chat.AttachmentImage, true
	case strings.HasPrefix(contentType, "video/"):
		return chat.AttachmentVideo, true
	}
	if _, ok := documentTypes[contentType]; ok {
		return chat.AttachmentDocument, true
	}
	return "", false
}
