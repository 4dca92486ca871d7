package gcs

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// ObjectStore provides the object operations the pipeline needs.
// This interface enables mocking and testing of storage functionality.
type ObjectStore interface {
	// Download returns the bytes of bucket/object.
	Download(ctx context.Context, bucket, object string) ([]byte, error)

	// Upload writes data to bucket/object.
	Upload(ctx context.Context, bucket, object string, data []byte, contentType string) error
}

// URI builds a gs:// URI.
func URI(bucket, object string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, object)
}

// ParseURI splits gs://bucket/path/to/object into bucket and object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// Filename extracts the file name from a GCS URI.
// e.g., "gs://bucket/raw/transactions_2025-09-07.csv" → "transactions_2025-09-07.csv"
func Filename(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}
