package gcsuploader

import (
	"context"

	"cloud.google.com/go/storage"
)

// Archiver keeps a copy of every screenshot sent for extraction.
type Archiver interface {
	// Archive stores the image and returns its gs:// URI.
	Archive(ctx context.Context, image []byte, mimeType string) (string, error)
}

// GCSArchiver is the concrete implementation of Archiver that writes to a
// Google Cloud Storage bucket.
type GCSArchiver struct {
	client *storage.Client
	bucket string
}

// NewGCSArchiver creates a storage client for bucket. It assumes Application
// Default Credentials are configured.
func NewGCSArchiver(ctx context.Context, bucket string) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GCSArchiver{client: client, bucket: bucket}, nil
}

// Archive delegates to UploadScreenshot with the shared client.
func (a *GCSArchiver) Archive(ctx context.Context, image []byte, mimeType string) (string, error) {
	return UploadScreenshot(ctx, a.client, a.bucket, image, mimeType)
}

// Close closes the storage client.
func (a *GCSArchiver) Close() error {
	return a.client.Close()
}
