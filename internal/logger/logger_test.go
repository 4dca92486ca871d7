package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	log := New()
	assert.NotEqual(t, zerolog.Disabled, log.GetLevel())
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestNewWithOptions(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, NewWithOptions(Options{Level: "DEBUG"}).GetLevel())
	assert.Equal(t, zerolog.WarnLevel, NewWithOptions(Options{Level: "warn", JSON: true}).GetLevel())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"error":   zerolog.ErrorLevel,
		" Trace ": zerolog.TraceLevel,
		"loud":    zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("test message")

	assert.Contains(t, buf.String(), "test message")
}

func TestWithContext(t *testing.T) {
	ctx := WithContext(context.Background(), New())
	assert.NotNil(t, ctx.Value(LoggerKey))
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	log := FromContext(ctx)
	log.Info().Msg("test")

	assert.NotZero(t, buf.Len())
}

func TestFromContext_DefaultLogger(t *testing.T) {
	log := FromContext(context.Background())
	assert.NotEqual(t, zerolog.Disabled, log.GetLevel())
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := WithFields(NewWithWriter(buf), map[string]interface{}{
		"run_id":          "run-123",
		"processing_date": "2025-09-07",
	})
	log.Info().Msg("test message")

	out := buf.String()
	assert.Contains(t, out, `"run_id":"run-123"`)
	assert.Contains(t, out, `"processing_date":"2025-09-07"`)
}
