// Package source loads the raw transaction batch for a processing date
// from Cloud Storage or a local directory.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
	"github.com/dvloznov/bank-batch-pipeline/internal/gcs"
	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
)

// ErrBatchNotFound is returned when no file exists for the date.
var ErrBatchNotFound = errors.New("batch not found")

// ObjectName is the object path of the batch for a date:
// <prefix>/transactions_YYYY-MM-DD.<format>.
func ObjectName(prefix string, date civil.Date, format string) string {
	if format == "" {
		format = FormatCSV
	}
	name := fmt.Sprintf("transactions_%s.%s", date.String(), format)
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// GCSSource reads batches from a bucket.
type GCSSource struct {
	store  gcs.ObjectStore
	bucket string
	prefix string
	format string
}

// NewGCSSource creates a source over bucket/prefix.
func NewGCSSource(store gcs.ObjectStore, bucket, prefix, format string) *GCSSource {
	return &GCSSource{store: store, bucket: bucket, prefix: prefix, format: format}
}

// LoadBatch downloads and decodes the batch for date.
func (s *GCSSource) LoadBatch(ctx context.Context, date civil.Date) (*domain.Batch, error) {
	log := logger.FromContext(ctx)
	object := ObjectName(s.prefix, date, s.format)
	uri := gcs.URI(s.bucket, object)

	log.Info().Str("uri", uri).Msg("Downloading batch")
	data, err := s.store.Download(ctx, s.bucket, object)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotFound) {
			return nil, fmt.Errorf("%s: %w", uri, ErrBatchNotFound)
		}
		return nil, err
	}
	return buildBatch(date, uri, s.format, data)
}

// LocalSource reads batches from a directory tree.
type LocalSource struct {
	dir    string
	prefix string
	format string
}

// NewLocalSource creates a source over dir/prefix.
func NewLocalSource(dir, prefix, format string) *LocalSource {
	return &LocalSource{dir: dir, prefix: prefix, format: format}
}

// Path returns the file path of the batch for date.
func (s *LocalSource) Path(date civil.Date) string {
	return filepath.Join(s.dir, filepath.FromSlash(ObjectName(s.prefix, date, s.format)))
}

// LoadBatch reads and decodes the batch for date.
func (s *LocalSource) LoadBatch(ctx context.Context, date civil.Date) (*domain.Batch, error) {
	p := s.Path(date)
	log := logger.FromContext(ctx)
	log.Info().Str("path", p).Msg("Reading batch")

	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p, ErrBatchNotFound)
		}
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	return buildBatch(date, p, s.format, data)
}

func buildBatch(date civil.Date, origin, format string, data []byte) (*domain.Batch, error) {
	fields, records, err := Decode(format, bytes.NewReader(data))
	if err != nil {
		// A file that does not decode will not decode on the next attempt.
		return nil, &pipeline.StructuralError{Reason: fmt.Sprintf("decode %s: %v", origin, err)}
	}
	return &domain.Batch{
		ProcessingDate: date,
		Source:         origin,
		Fields:         fields,
		Records:        records,
	}, nil
}

var (
	_ pipeline.RecordSource = (*GCSSource)(nil)
	_ pipeline.RecordSource = (*LocalSource)(nil)
)
