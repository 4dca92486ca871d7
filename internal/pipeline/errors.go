package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
)

// ErrPartitionLocked is returned when another run holds the partition.
var ErrPartitionLocked = errors.New("partition is locked by another run")

// StructuralError is a whole-batch defect. It aborts the run and is never
// retried within the run.
type StructuralError struct {
	Missing []string
	Reason  string
}

func (e *StructuralError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("structural defect: missing required fields [%s]", strings.Join(e.Missing, ", "))
	}
	return "structural defect: " + e.Reason
}

// RecordDefect describes why a single record was dropped. It is counted,
// never propagated to the run.
type RecordDefect struct {
	Index  int
	Kind   domain.DefectKind
	Field  string
	Reason string
}

func (e *RecordDefect) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("record %d: %s (%s): %s", e.Index, e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("record %d: %s: %s", e.Index, e.Kind, e.Reason)
}

// SinkWriteError is a store failure that survived all in-run retries.
type SinkWriteError struct {
	Attempts int
	Err      error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("sink write failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

// SourceError is a failure to read the raw batch. The scheduler may retry it.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("read batch from %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// ConfigError is an invalid configuration value. It is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// StageError attaches the failing stage, and the record index when one is
// known, to a stage failure.
type StageError struct {
	Stage Stage
	Row   int
	Err   error
}

func (e *StageError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("%s failed at record %d: %v", strings.ToLower(string(e.Stage)), e.Row, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", strings.ToLower(string(e.Stage)), e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IsRetryable reports whether re-triggering the run may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var structural *StructuralError
	var cfg *ConfigError
	return !errors.As(err, &structural) && !errors.As(err, &cfg)
}

// ErrorPayload is the structured error handed to the scheduler.
type ErrorPayload struct {
	Kind      string   `json:"kind"`
	Stage     Stage    `json:"stage,omitempty"`
	Row       *int     `json:"row,omitempty"`
	Message   string   `json:"message"`
	Missing   []string `json:"missing_fields,omitempty"`
	Attempts  int      `json:"attempts,omitempty"`
	Retryable bool     `json:"retryable"`
}

// NewErrorPayload classifies err. It returns nil for a nil error.
func NewErrorPayload(err error) *ErrorPayload {
	if err == nil {
		return nil
	}
	p := &ErrorPayload{Kind: "internal", Message: err.Error(), Retryable: IsRetryable(err)}

	var stageErr *StageError
	if errors.As(err, &stageErr) {
		p.Stage = stageErr.Stage
		if stageErr.Row >= 0 {
			row := stageErr.Row
			p.Row = &row
		}
	}

	var structural *StructuralError
	var sinkErr *SinkWriteError
	var cfgErr *ConfigError
	var srcErr *SourceError
	switch {
	case errors.As(err, &structural):
		p.Kind = "structural"
		p.Missing = structural.Missing
	case errors.As(err, &sinkErr):
		p.Kind = "sink_write"
		p.Attempts = sinkErr.Attempts
	case errors.As(err, &cfgErr):
		p.Kind = "config"
	case errors.As(err, &srcErr):
		p.Kind = "source"
	case errors.Is(err, ErrPartitionLocked):
		p.Kind = "locked"
	}
	return p
}
