package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/apex/log"
	"github.com/google/uuid"
)

// ErrUnavailable is returned when the object store cannot be reached or the
// upload fails. The submission pipeline aborts entirely on this error since
// upload happens before any database write.
var ErrUnavailable = fmt.Errorf("evidence storage unavailable")

// Store uploads evidence payloads to durable object storage and returns a
// publicly retrievable reference.
type Store interface {
	Put(ctx context.Context, data []byte, originalFilename, contentType string) (string, error)
}

// ObjectName builds a storage key from a random token, a timestamp and the
// original file extension. Neither the original filename nor anything
// user-identifying leaks into the key.
func ObjectName(originalFilename string) string {
	ext := strings.TrimPrefix(filepath.Ext(originalFilename), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("evidence/%s_%d.%s", uuid.NewString(), time.Now().UnixNano(), strings.ToLower(ext))
}

// GCSStore is the Google Cloud Storage implementation of Store.
type GCSStore struct {
	client  *gcs.Client
	bucket  string
	timeout time.Duration
}

// NewGCSStore connects to Google Cloud Storage and verifies the bucket is
// reachable.
func NewGCSStore(ctx context.Context, bucket string, timeout time.Duration) (*GCSStore, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Google Cloud Storage: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to access bucket %s: %w", bucket, err)
	}
	log.Infof("Evidence bucket %s ready", bucket)
	return &GCSStore{client: client, bucket: bucket, timeout: timeout}, nil
}

// Put uploads the payload under a freshly generated key and returns the
// public URL.
func (s *GCSStore) Put(ctx context.Context, data []byte, originalFilename, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	objectName := ObjectName(originalFilename)
	writer := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	writer.ContentType = contentType

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		log.WithError(err).Error("Failed to write evidence object")
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := writer.Close(); err != nil {
		log.WithError(err).Error("Failed to finalize evidence object")
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	publicURL := fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, objectName)
	log.Infof("Evidence uploaded: %s", publicURL)
	return publicURL, nil
}

// Close releases the underlying storage client.
func (s *GCSStore) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
