// Package gcsuploader moves payment screenshots in and out of Cloud Storage.
package gcsuploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
	"image/heif": ".heif",
}

// ObjectName builds the object path for a screenshot taken at t.
// e.g. "screenshots/2025/01/02/<id>.png"
func ObjectName(t time.Time, id, mimeType string) string {
	ext, ok := extensions[strings.ToLower(mimeType)]
	if !ok {
		ext = ".bin"
	}
	return fmt.Sprintf("screenshots/%s/%s%s", t.UTC().Format("2006/01/02"), id, ext)
}

// UploadScreenshot writes image to bucket and returns its gs:// URI.
func UploadScreenshot(ctx context.Context, client *storage.Client, bucket string, image []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	objectName := ObjectName(time.Now(), uuid.NewString(), mimeType)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = mimeType

	if _, err := io.Copy(w, bytes.NewReader(image)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("UploadScreenshot: copy to GCS writer: %w", err)
	}

	// Close to finalize the upload
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("UploadScreenshot: finalize upload: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", bucket, objectName), nil
}

// ParseURI splits gs://bucket/path/to/object into bucket and object path.
func ParseURI(gcsURI string) (bucket, object string, err error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}
	parts := strings.SplitN(strings.TrimPrefix(gcsURI, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}
	return parts[0], parts[1], nil
}

// FetchScreenshot downloads an archived screenshot and reports its content type.
func FetchScreenshot(ctx context.Context, gcsURI string) ([]byte, string, error) {
	bucket, object, err := ParseURI(gcsURI)
	if err != nil {
		return nil, "", err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("FetchScreenshot: creating storage client: %w", err)
	}
	defer client.Close()

	rc, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("FetchScreenshot: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", fmt.Errorf("FetchScreenshot: reading bytes: %w", err)
	}

	return data, rc.Attrs.ContentType, nil
}

// FilenameFromURI returns the last path element of a gs:// URI.
// e.g., "gs://bucket/screenshots/2025/01/02/a.png" → "a.png"
func FilenameFromURI(uri string) string {
	_, object, err := ParseURI(uri)
	if err != nil {
		return path.Base(strings.TrimPrefix(uri, "gs://"))
	}
	return path.Base(object)
}
