package samplegen

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
)

var day = civil.Date{Year: 2025, Month: 9, Day: 7}

func TestGenerate_Deterministic(t *testing.T) {
	opts := DefaultOptions()
	opts.Records = 200

	a := Generate(day, opts)
	b := Generate(day, opts)
	assert.Equal(t, a.Records, b.Records)

	c := Generate(day.AddDays(1), opts)
	assert.NotEqual(t, a.Records, c.Records)
}

func TestGenerate_Shape(t *testing.T) {
	opts := DefaultOptions()
	batch := Generate(day, opts)

	assert.Equal(t, day, batch.ProcessingDate)
	assert.Equal(t, Fields, batch.Fields)
	assert.Len(t, batch.Records, opts.Records+int(float64(opts.Records)*opts.DuplicateRate))

	for _, r := range batch.Records {
		assert.Contains(t, Banks, r[domain.FieldBankID])
		assert.Regexp(t, `^TXN\d{8}$`, r[domain.FieldTransactionID])
	}
}

func TestGenerate_NoDefects(t *testing.T) {
	batch := Generate(day, Options{Records: 300, Seed: 7})

	cleaner, err := pipeline.NewCleaner(pipeline.DefaultConfig())
	require.NoError(t, err)
	res := cleaner.Clean(batch)

	assert.Equal(t, 300, res.Valid())
	assert.Zero(t, res.Counts.Total())
}

func TestGenerate_InjectedDefectsAreCaught(t *testing.T) {
	batch := Generate(day, DefaultOptions())

	cleaner, err := pipeline.NewCleaner(pipeline.DefaultConfig())
	require.NoError(t, err)
	res := cleaner.Clean(batch)

	assert.Positive(t, res.Counts.Null)
	assert.Positive(t, res.Counts.InvalidAmount)
	assert.Positive(t, res.Counts.Duplicate)
	assert.Equal(t, len(batch.Records), res.Valid()+res.Counts.Total())
}
