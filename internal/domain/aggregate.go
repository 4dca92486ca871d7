package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// DailyBankAggregate is the per (bank, date) roll-up of valid records.
// (BankID, Date) is the natural key used for upserts.
type DailyBankAggregate struct {
	BankID string     `json:"bank_id"`
	Date   civil.Date `json:"transaction_date"`

	TotalVolume            decimal.Decimal `json:"total_volume"`
	TransactionCount       int64           `json:"transaction_count"`
	AvgTransactionValue    decimal.Decimal `json:"avg_transaction_value"`
	MedianTransactionValue decimal.Decimal `json:"median_transaction_value"`
	StdTransactionValue    float64         `json:"std_transaction_value"`
	MinTransactionValue    decimal.Decimal `json:"min_transaction_value"`
	MaxTransactionValue    decimal.Decimal `json:"max_transaction_value"`

	UniqueCustomers    int64                     `json:"unique_customers"`
	UniqueTransactions int64                     `json:"unique_transactions"`
	TypeBreakdown      map[TransactionType]int64 `json:"transaction_type_breakdown"`

	AvgTransactionsPerCustomer float64         `json:"avg_transactions_per_customer"`
	AvgValuePerCustomer        decimal.Decimal `json:"avg_value_per_customer"`

	DataQualityScore float64   `json:"data_quality_score"`
	RunID            string    `json:"run_id"`
	ProcessedAt      time.Time `json:"processed_at"`
}

// DailyVolume is the slice of an aggregate row the statistical analyzer
// works on. It is used both for the current run and for history rows.
type DailyVolume struct {
	BankID           string
	Date             civil.Date
	TotalVolume      float64
	TransactionCount int64
}

// Volume returns the analyzer view of the aggregate.
func (a DailyBankAggregate) Volume() DailyVolume {
	return DailyVolume{
		BankID:           a.BankID,
		Date:             a.Date,
		TotalVolume:      a.TotalVolume.InexactFloat64(),
		TransactionCount: a.TransactionCount,
	}
}
