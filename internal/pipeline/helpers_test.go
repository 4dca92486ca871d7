package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
)

var testDate = civil.Date{Year: 2025, Month: time.September, Day: 7}

var allFields = []string{
	domain.FieldTransactionID,
	domain.FieldBankID,
	domain.FieldCustomerID,
	domain.FieldAmount,
	domain.FieldTransactionDate,
	domain.FieldTransactionType,
}

func raw(txID string, bank, customer, amount, date, txType any) domain.RawRecord {
	return domain.RawRecord{
		domain.FieldTransactionID:   txID,
		domain.FieldBankID:          bank,
		domain.FieldCustomerID:      customer,
		domain.FieldAmount:          amount,
		domain.FieldTransactionDate: date,
		domain.FieldTransactionType: txType,
	}
}

func newBatch(records ...domain.RawRecord) *domain.Batch {
	return &domain.Batch{ProcessingDate: testDate, Source: "test", Fields: allFields, Records: records}
}

// steadyBatch builds n distinct valid records for bank on testDate.
func steadyBatch(bank string, n int) *domain.Batch {
	records := make([]domain.RawRecord, n)
	for i := 0; i < n; i++ {
		records[i] = raw(
			fmt.Sprintf("%s-TXN%08d", bank, i), bank, fmt.Sprintf("CUST%04d", i%10),
			fmt.Sprintf("%d.00", 100+i), "2025-09-07", "PAYMENT")
	}
	return newBatch(records...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WriteRetry = RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	return cfg
}

func fixedClock() func() time.Time {
	t := time.Date(2025, time.September, 8, 2, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

// MockSink is a sink whose behaviour is set per test.
type MockSink struct {
	mu                 sync.Mutex
	WritePartitionFunc func(ctx context.Context, w PartitionWrite) error
	Calls              int
	Last               *PartitionWrite
}

func (m *MockSink) WritePartition(ctx context.Context, w PartitionWrite) error {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.WritePartitionFunc != nil {
		if err := m.WritePartitionFunc(ctx, w); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Last = &w
	m.mu.Unlock()
	return nil
}

// MockHistoryReader returns fixed history rows or an error.
type MockHistoryReader struct {
	Rows []domain.DailyVolume
	Err  error
}

func (m *MockHistoryReader) ReadHistory(ctx context.Context, banks []string, before civil.Date, days int) ([]domain.DailyVolume, error) {
	return m.Rows, m.Err
}

func history(bank string, values ...float64) []domain.DailyVolume {
	out := make([]domain.DailyVolume, len(values))
	for i, v := range values {
		out[i] = domain.DailyVolume{BankID: bank, Date: testDate.AddDays(-(i + 1)), TotalVolume: v, TransactionCount: 10}
	}
	return out
}
