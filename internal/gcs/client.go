package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
)

// ErrObjectNotFound is returned when the requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Client is the Cloud Storage implementation of ObjectStore.
// It assumes Application Default Credentials are configured.
type Client struct {
	client *storage.Client
}

// NewClient creates a storage client.
func NewClient(ctx context.Context) (*Client, error) {
	c, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Client{client: c}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.client.Close()
}

// Download reads the whole object.
func (c *Client) Download(ctx context.Context, bucket, object string) ([]byte, error) {
	rc, err := c.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", URI(bucket, object), ErrObjectNotFound)
		}
		return nil, fmt.Errorf("open GCS object reader %s: %w", URI(bucket, object), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read GCS object %s: %w", URI(bucket, object), err)
	}
	return data, nil
}

// Upload writes data to the object, replacing it if present.
func (c *Client) Upload(ctx context.Context, bucket, object string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy data to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

var _ ObjectStore = (*Client)(nil)
