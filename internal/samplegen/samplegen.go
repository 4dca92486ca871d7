// Package samplegen produces synthetic daily transaction batches for local
// runs and demos.
package samplegen

import (
	"fmt"
	"math/rand"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
)

// Banks are the bank ids the generator draws from.
var Banks = []string{"BNK001", "BNK002", "BNK003", "BNK004", "BNK005", "BNK006", "BNK007"}

// Fields is the column order of generated batches.
var Fields = []string{
	domain.FieldTransactionID,
	domain.FieldBankID,
	domain.FieldCustomerID,
	domain.FieldTransactionType,
	domain.FieldAmount,
	domain.FieldTransactionDate,
}

// Options control size and defect injection. Rates are fractions of
// Records.
type Options struct {
	Records       int
	Seed          int64
	MeanAmount    float64
	NullRate      float64
	InvalidRate   float64
	DuplicateRate float64
}

// DefaultOptions mirrors a typical production day with a small share of
// bad rows.
func DefaultOptions() Options {
	return Options{
		Records:       2000,
		Seed:          42,
		MeanAmount:    500,
		NullRate:      0.02,
		InvalidRate:   0.005,
		DuplicateRate: 0.01,
	}
}

// Generate builds a batch for date. The same options and date always
// produce the same batch.
func Generate(date civil.Date, opts Options) *domain.Batch {
	if opts.MeanAmount <= 0 {
		opts.MeanAmount = 500
	}
	rng := rand.New(rand.NewSource(opts.Seed + int64(date.DaysSince(civil.Date{Year: 2000, Month: 1, Day: 1}))))
	midnight := date.In(time.UTC)

	records := make([]domain.RawRecord, 0, opts.Records)
	for i := 0; i < opts.Records; i++ {
		at := midnight.Add(time.Duration(rng.Int63n(int64(24 * time.Hour))))
		amount := decimal.NewFromFloat(rng.ExpFloat64() * opts.MeanAmount).Round(2)
		if amount.LessThanOrEqual(decimal.Zero) {
			amount = decimal.NewFromFloat(0.01)
		}
		records = append(records, domain.RawRecord{
			domain.FieldTransactionID:   fmt.Sprintf("TXN%08d", i),
			domain.FieldBankID:          Banks[rng.Intn(len(Banks))],
			domain.FieldCustomerID:      fmt.Sprintf("CUST%04d", 1000+rng.Intn(9000)),
			domain.FieldTransactionType: string(domain.KnownTransactionTypes[rng.Intn(len(domain.KnownTransactionTypes))]),
			domain.FieldAmount:          amount.StringFixed(2),
			domain.FieldTransactionDate: at.Format("2006-01-02T15:04:05"),
		})
	}

	n := len(records)
	if n > 0 {
		nulls := int(float64(n) * opts.NullRate)
		for k, idx := range rng.Perm(n)[:min(nulls, n)] {
			if k%2 == 0 {
				records[idx][domain.FieldAmount] = nil
			} else {
				records[idx][domain.FieldCustomerID] = ""
			}
		}

		invalid := int(float64(n) * opts.InvalidRate)
		for k, idx := range rng.Perm(n)[:min(invalid, n)] {
			if k%2 == 0 {
				records[idx][domain.FieldAmount] = "-" + fmt.Sprint(10+rng.Intn(990))
			} else {
				records[idx][domain.FieldAmount] = "2500000.00"
			}
		}

		dups := int(float64(n) * opts.DuplicateRate)
		for _, idx := range rng.Perm(n)[:min(dups, n)] {
			records = append(records, copyRecord(records[idx]))
		}
	}

	return &domain.Batch{
		ProcessingDate: date,
		Source:         "samplegen",
		Fields:         append([]string(nil), Fields...),
		Records:        records,
	}
}

func copyRecord(r domain.RawRecord) domain.RawRecord {
	out := make(domain.RawRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
