package object

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aliskhannn/alteration-tracker/internal/config"
)

// Object describes a stored object.
type Object struct {
	Key  string // provider id, unique per upload
	URL  string // public-facing URL
	Size int64
}

// Storage provides an S3-compatible object store backed by MinIO.
// Uploaded objects live under a configured folder inside a single bucket.
// The underlying client is safe for concurrent use.
type Storage struct {
	client     *minio.Client
	bucketName string
	folder     string
	publicBase string
}

// NewStorage creates a new Storage instance for the configured MinIO server.
// It does not contact the server; call EnsureBucket for that.
func NewStorage(cfg config.Storage) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	base := cfg.PublicBaseURL
	if base == "" {
		base = strings.TrimRight(client.EndpointURL().String(), "/") + "/" + cfg.BucketName
	}

	return &Storage{
		client:     client,
		bucketName: cfg.BucketName,
		folder:     strings.Trim(cfg.Folder, "/"),
		publicBase: strings.TrimRight(base, "/"),
	}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// Put streams src into a new object under the configured folder. The key is
// generated here, so two uploads of identical bytes yield two objects.
// size must be the exact length of src.
func (s *Storage) Put(ctx context.Context, src io.Reader, size int64, contentType, ext string) (Object, error) {
	key := s.newKey(ext)

	info, err := s.client.PutObject(ctx, s.bucketName, key, src, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Object{}, fmt.Errorf("failed to put object %s: %w", key, err)
	}

	return Object{
		Key:  key,
		URL:  s.URL(key),
		Size: info.Size,
	}, nil
}

// Delete removes the object with the given key from the bucket.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove object %s: %w", key, err)
	}

	return nil
}

// URL returns the public URL of the object with the given key.
func (s *Storage) URL(key string) string {
	return s.publicBase + "/" + key
}

// BaseURL returns the prefix shared by every public object URL.
func (s *Storage) BaseURL() string {
	return s.publicBase
}

func (s *Storage) newKey(ext string) string {
	name := uuid.NewString()
	if ext != "" {
		name += "." + strings.TrimPrefix(ext, ".")
	}

	return path.Join(s.folder, name)
}
