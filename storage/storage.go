// Package storage keeps message attachments and voice clips in an
// S3-compatible object store.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/GetStream/unified-inbox/composer"
	"github.com/GetStream/unified-inbox/inbox"
)

// Config locates the bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the base URL objects are served from. Defaults to the
	// endpoint.
	PublicURL string
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Storage uploads files to a bucket.
type Storage struct {
	cli    objectPutter
	bucket string
	base   string
	logger *slog.Logger
	now    func() time.Time
}

// Connect creates a client for cfg and makes sure the bucket exists.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Storage, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	ok, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket exists: %w", err)
	}
	if !ok {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
		logger.Info("Created bucket", "bucket", cfg.Bucket)
	}

	base := cfg.PublicURL
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + cfg.Endpoint
	}
	return newStorage(cli, cfg.Bucket, base, logger), nil
}

func newStorage(cli objectPutter, bucket, base string, logger *slog.Logger) *Storage {
	return &Storage{
		cli:    cli,
		bucket: bucket,
		base:   strings.TrimSuffix(base, "/"),
		logger: logger,
		now:    time.Now,
	}
}

// Upload stores f under a fresh key and returns the attachment pointing at it.
func (s *Storage) Upload(ctx context.Context, f composer.File) (inbox.Attachment, error) {
	key := objectKey(s.now(), uuid.NewString(), f.Name)
	mime := f.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}

	info, err := s.cli.PutObject(ctx, s.bucket, key, f.Body, f.Size, minio.PutObjectOptions{
		ContentType: mime,
	})
	if err != nil {
		s.logger.Error("Could not upload attachment", "key", key, "error", err.Error())
		return inbox.Attachment{}, fmt.Errorf("put object: %w", err)
	}
	s.logger.Info("Uploaded attachment", "key", key, "size", info.Size)

	size := f.Size
	if size <= 0 {
		size = info.Size
	}
	return inbox.Attachment{
		URL:      s.objectURL(key),
		Name:     f.Name,
		Size:     size,
		MimeType: mime,
	}, nil
}

func (s *Storage) objectURL(key string) string {
	return s.base + "/" + url.PathEscape(s.bucket) + "/" + escapeKey(key)
}

// objectKey groups uploads by day: attachments/2024/03/01/<id>-<name>.
func objectKey(now time.Time, id, name string) string {
	name = cleanName(name)
	if name == "" {
		name = "file"
	}
	return path.Join("attachments", now.UTC().Format("2006/01/02"), id+"-"+name)
}

func cleanName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			return r
		case unicode.IsSpace(r):
			return '_'
		default:
			return -1
		}
	}, name)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

var _ composer.Uploader = (*Storage)(nil)
