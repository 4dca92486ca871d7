package pipeline

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
)

// Aggregator rolls valid records up to one row per (bank, date).
type Aggregator struct {
	precision int32
}

// NewAggregator builds an aggregator from a validated config.
func NewAggregator(cfg Config) *Aggregator {
	return &Aggregator{precision: cfg.CurrencyPrecision}
}

type groupKey struct {
	bankID string
	date   civil.Date
}

// Aggregate groups valid records by (bank, date). Records flagged as
// invalid are left out. scores holds the quality score per bank id; a
// bank with no entry gets 0. Rows are sorted by bank then date.
func (g *Aggregator) Aggregate(records []domain.CleanedRecord, scores map[string]float64, runID string, processedAt time.Time) []domain.DailyBankAggregate {
	groups := make(map[groupKey][]domain.CleanedRecord)
	var keys []groupKey
	for _, rec := range records {
		if !rec.Valid {
			continue
		}
		k := groupKey{rec.BankID, rec.Date}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], rec)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].bankID != keys[j].bankID {
			return keys[i].bankID < keys[j].bankID
		}
		return keys[i].date.Before(keys[j].date)
	})

	out := make([]domain.DailyBankAggregate, 0, len(keys))
	for _, k := range keys {
		row := g.aggregateGroup(groups[k])
		row.BankID = k.bankID
		row.Date = k.date
		row.DataQualityScore = scores[k.bankID]
		row.RunID = runID
		row.ProcessedAt = processedAt
		out = append(out, row)
	}
	return out
}

func (g *Aggregator) aggregateGroup(recs []domain.CleanedRecord) domain.DailyBankAggregate {
	row := domain.DailyBankAggregate{TypeBreakdown: make(map[domain.TransactionType]int64)}
	amounts := make([]decimal.Decimal, len(recs))
	floats := make([]float64, len(recs))
	customers := make(map[string]struct{})
	txIDs := make(map[string]struct{})

	sum := decimal.Zero
	for i, rec := range recs {
		amounts[i] = rec.Amount
		floats[i] = rec.Amount.InexactFloat64()
		sum = sum.Add(rec.Amount)
		if i == 0 || rec.Amount.LessThan(row.MinTransactionValue) {
			row.MinTransactionValue = rec.Amount
		}
		if i == 0 || rec.Amount.GreaterThan(row.MaxTransactionValue) {
			row.MaxTransactionValue = rec.Amount
		}
		customers[rec.CustomerID] = struct{}{}
		txIDs[rec.TransactionID] = struct{}{}
		row.TypeBreakdown[rec.Type]++
	}

	n := decimal.NewFromInt(int64(len(recs)))
	row.TotalVolume = sum.Round(g.precision)
	row.TransactionCount = int64(len(recs))
	row.AvgTransactionValue = sum.Div(n).Round(g.precision)
	row.MedianTransactionValue = medianDecimal(amounts).Round(g.precision)
	row.StdTransactionValue = round2(sampleStd(floats))
	row.UniqueCustomers = int64(len(customers))
	row.UniqueTransactions = int64(len(txIDs))

	if row.UniqueCustomers > 0 {
		uc := decimal.NewFromInt(row.UniqueCustomers)
		row.AvgTransactionsPerCustomer = round2(float64(row.TransactionCount) / float64(row.UniqueCustomers))
		row.AvgValuePerCustomer = sum.Div(uc).Round(g.precision)
	}
	return row
}
