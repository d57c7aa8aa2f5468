package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"vendio/internal/app/policies"
)

// Options configures the MinIO-backed uploader.
type Options struct {
	Endpoint       string
	PublicEndpoint string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
	Logger         *slog.Logger
}

// Client uploads media objects through a MinIO client. The bucket is created
// lazily on first upload and opened for anonymous reads so message URLs work
// without signing.
type Client struct {
	opts Options
	mc   *minio.Client

	once    sync.Once
	onceErr error
}

// NewClient validates the options and dials the object store.
func NewClient(opts Options) (*Client, error) {
	opts.Endpoint = strings.TrimSpace(opts.Endpoint)
	opts.Bucket = strings.TrimSpace(opts.Bucket)
	switch {
	case opts.Endpoint == "":
		return nil, errors.New("s3: endpoint is required")
	case opts.Bucket == "":
		return nil, errors.New("s3: bucket is required")
	}
	if opts.PublicEndpoint = strings.TrimSpace(opts.PublicEndpoint); opts.PublicEndpoint == "" {
		opts.PublicEndpoint = opts.Endpoint
	}
	opts.PublicEndpoint = strings.TrimRight(opts.PublicEndpoint, "/")

	mc, err := minio.New(hostOf(opts.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(opts.AccessKey), strings.TrimSpace(opts.SecretKey), ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	return &Client{opts: opts, mc: mc}, nil
}

// Upload writes one object and returns its public URL.
func (c *Client) Upload(ctx context.Context, key string, reader io.Reader, contentType string) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("s3: object key is required")
	}
	if reader == nil {
		return "", errors.New("s3: reader is required")
	}
	if err := c.prepareBucket(ctx); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	put := minio.PutObjectOptions{
		ContentType: contentType,
		// media objects are immutable once referenced by a message
		CacheControl: "public, max-age=31536000, immutable",
	}
	if _, err := c.mc.PutObject(ctx, c.opts.Bucket, key, reader, -1, put); err != nil {
		return "", fmt.Errorf("s3: put object %s: %w", key, err)
	}

	publicURL := fmt.Sprintf("%s/%s/%s", c.opts.PublicEndpoint, c.opts.Bucket, key)
	if c.opts.Logger != nil {
		c.opts.Logger.Debug("media object stored", "bucket", c.opts.Bucket, "key", key, "content_type", contentType)
	}
	return publicURL, nil
}

func (c *Client) prepareBucket(ctx context.Context) error {
	c.once.Do(func() {
		exists, err := c.mc.BucketExists(ctx, c.opts.Bucket)
		if err != nil {
			c.onceErr = fmt.Errorf("s3: check bucket: %w", err)
			return
		}
		if !exists {
			if err := c.mc.MakeBucket(ctx, c.opts.Bucket, minio.MakeBucketOptions{}); err != nil {
				c.onceErr = fmt.Errorf("s3: create bucket: %w", err)
				return
			}
		}
		policy := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, c.opts.Bucket)
		if err := c.mc.SetBucketPolicy(ctx, c.opts.Bucket, policy); err != nil {
			c.onceErr = fmt.Errorf("s3: set bucket policy: %w", err)
		}
	})
	return c.onceErr
}

func hostOf(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}

// NoopUploader rejects uploads when no object store is configured. Text-only
// chat keeps working without one.
type NoopUploader struct{}

func (NoopUploader) Upload(context.Context, string, io.Reader, string) (string, error) {
	return "", errors.New("s3: uploader is not configured")
}

var (
	_ policies.Uploader = (*Client)(nil)
	_ policies.Uploader = NoopUploader{}
)
