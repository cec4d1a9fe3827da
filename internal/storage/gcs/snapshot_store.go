// Package gcs provides a SnapshotStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"

	"github.com/JakeFAU/crawl-frontier/internal/storage"
)

const defaultObject = "frontier/snapshot.json"

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Object string
}

// SnapshotStore writes the snapshot to a single object in a bucket.
type SnapshotStore struct {
	client *gcs.Client
	bucket string
	object string
}

// New creates a GCS-backed snapshot store.
func New(client *gcs.Client, cfg Config) (*SnapshotStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	object := cfg.Object
	if object == "" {
		object = defaultObject
	}
	return &SnapshotStore{client: client, bucket: cfg.Bucket, object: object}, nil
}

// SaveSnapshot uploads the encoded snapshot, replacing the previous object.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap storage.Snapshot) error {
	data, err := storage.Encode(snap)
	if err != nil {
		return err
	}
	writer := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write snapshot: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// LoadSnapshot downloads and decodes the snapshot object.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context) (storage.Snapshot, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return storage.Snapshot{}, storage.ErrNotFound
		}
		return storage.Snapshot{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return storage.Decode(data)
}
