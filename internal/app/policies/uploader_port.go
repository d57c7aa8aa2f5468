package policies

import (
	"context"
	"io"
)

// Uploader stores chat media (attachments, voice notes) in an object store and
// returns the public URL clients embed in messages.
type Uploader interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) (publicURL string, err error)
}
