// Package publish uploads session archives to S3-compatible object storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNotConfigured = errors.New("object storage is not configured")

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
	Expiry    time.Duration
}

// Enabled reports whether enough settings are present to connect
func (c Config) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

type Publisher struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// Object describes an uploaded archive
type Object struct {
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func New(cfg Config) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init Minio client: %w", err)
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Publisher{client: client, bucket: cfg.Bucket, expiry: expiry}, nil
}

// EnsureBucket creates the bucket when it does not exist yet
func (p *Publisher) EnsureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", p.bucket, err)
	}
	if exists {
		return nil
	}
	if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", p.bucket, err)
	}
	slog.Info("Created bucket", "bucket", p.bucket)
	return nil
}

// Publish uploads the object and returns a presigned download URL.
// A negative size streams until EOF.
func (p *Publisher) Publish(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*Object, error) {
	info, err := p.client.PutObject(ctx, p.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
	u, err := p.client.PresignedGetObject(ctx, p.bucket, key, p.expiry, params)
	if err != nil {
		return nil, fmt.Errorf("failed to presign %s: %w", key, err)
	}

	slog.Info("Published archive", "bucket", p.bucket, "key", key, "size", info.Size)
	return &Object{
		Bucket:    p.bucket,
		Key:       key,
		Size:      info.Size,
		URL:       u.String(),
		ExpiresAt: time.Now().Add(p.expiry),
	}, nil
}

// ArchiveKey names the object for a session archive
func ArchiveKey(sessionID, format string, at time.Time) string {
	return path.Join("sessions", sessionID, fmt.Sprintf("%s_%s_%s.zip", sessionID, format, at.UTC().Format("20060102T150405Z")))
}
