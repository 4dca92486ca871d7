package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/bank-batch-pipeline/internal/config"
)

func TestDateRange(t *testing.T) {
	from := civil.Date{Year: 2024, Month: time.February, Day: 27}

	got := dateRange(from, from.AddDays(3))
	require.Len(t, got, 4)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.February, Day: 29}, got[2])
	assert.Equal(t, civil.Date{Year: 2024, Month: time.March, Day: 1}, got[3])

	assert.Len(t, dateRange(from, from), 1)
	assert.Empty(t, dateRange(from, from.AddDays(-1)))
}

func TestParseDate(t *testing.T) {
	d, err := parseDate("2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.March, Day: 15}, d)

	_, err = parseDate("03/15/2024")
	assert.Error(t, err)

	d, err = parseDate("")
	require.NoError(t, err)
	assert.Equal(t, civil.DateOf(time.Now().UTC()).AddDays(-1), d)
}

func TestDefaultTarget(t *testing.T) {
	date := civil.Date{Year: 2024, Month: time.March, Day: 15}

	local := config.SourceConfig{Kind: config.SourceLocal, Dir: "data", Prefix: "raw", Format: "csv"}
	assert.Equal(t, filepath.Join("data", "raw", "transactions_2024-03-15.csv"), defaultTarget(local, date))

	remote := config.SourceConfig{Kind: config.SourceGCS, Bucket: "landing", Prefix: "raw", Format: "ndjson"}
	assert.Equal(t, "gs://landing/raw/transactions_2024-03-15.ndjson", defaultTarget(remote, date))
}

func TestWriteTarget_Local(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "batch.csv")
	require.NoError(t, writeTarget(context.Background(), target, []byte("a,b\n"), "text/csv"))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))
}
