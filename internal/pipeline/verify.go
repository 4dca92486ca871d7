package pipeline

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
)

// DefaultMinAverageQuality is the average score below which a loaded
// partition is reported with a warning.
const DefaultMinAverageQuality = 80.0

// ErrNoAggregates is returned when a processing date has no loaded rows.
var ErrNoAggregates = errors.New("no aggregate rows loaded")

// VerifyResult is the post-load check of one processing date.
type VerifyResult struct {
	ProcessingDate civil.Date `json:"processing_date"`
	Rows           int        `json:"rows"`
	Banks          int        `json:"banks"`
	Transactions   int64      `json:"transactions"`
	AvgQuality     float64    `json:"avg_quality_score"`
	Anomalies      int        `json:"anomalies"`
	Warnings       []string   `json:"warnings,omitempty"`
}

// VerifyLoad checks what was persisted for date. It fails when no rows
// exist and warns when the average quality score is below minQuality.
func VerifyLoad(ctx context.Context, reader AggregateReader, date civil.Date, minQuality float64) (*VerifyResult, error) {
	rows, err := reader.ReadAggregates(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("read aggregates for %s: %w", date, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", date, ErrNoAggregates)
	}

	res := &VerifyResult{ProcessingDate: date, Rows: len(rows)}
	banks := make(map[string]struct{})
	var sum float64
	for _, row := range rows {
		banks[row.BankID] = struct{}{}
		res.Transactions += row.TransactionCount
		sum += row.DataQualityScore
	}
	res.Banks = len(banks)
	res.AvgQuality = round2(sum / float64(len(rows)))

	anomalies, err := reader.ReadAnomalies(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("read anomalies for %s: %w", date, err)
	}
	res.Anomalies = len(anomalies)

	if res.AvgQuality < minQuality {
		msg := fmt.Sprintf("average quality score %.2f below %.2f", res.AvgQuality, minQuality)
		res.Warnings = append(res.Warnings, msg)
		log := logger.FromContext(ctx)
		log.Warn().Str("processing_date", date.String()).Msg(msg)
	}
	return res, nil
}
