package memory

import (
	"context"
	"sort"
	"sync"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
)

type aggregateKey struct {
	bankID string
	date   civil.Date
}

// Store is an in-memory implementation of pipeline.Store.
// It is safe for concurrent use. Data is lost on restart; it backs dry
// runs and tests.
type Store struct {
	mu         sync.RWMutex
	aggregates map[aggregateKey]domain.DailyBankAggregate
	anomalies  map[string]domain.Anomaly
	reports    []domain.QualityReport
	runs       []pipeline.RunResult
	writes     int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		aggregates: make(map[aggregateKey]domain.DailyBankAggregate),
		anomalies:  make(map[string]domain.Anomaly),
	}
}

// WritePartition upserts aggregates by (bank id, date), inserts anomalies
// whose id is not yet stored and appends the quality reports. The write
// is applied under one lock, so readers never see half of it.
func (s *Store) WritePartition(ctx context.Context, w pipeline.PartitionWrite) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range w.Aggregates {
		s.aggregates[aggregateKey{a.BankID, a.Date}] = copyAggregate(a)
	}
	for _, a := range w.Anomalies {
		if _, exists := s.anomalies[a.AnomalyID]; !exists {
			s.anomalies[a.AnomalyID] = a
		}
	}
	s.reports = append(s.reports, w.Reports...)
	s.writes++
	return nil
}

// ReadHistory returns daily volumes for banks dated in [before-days, before).
func (s *Store) ReadHistory(ctx context.Context, banks []string, before civil.Date, days int) ([]domain.DailyVolume, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(banks))
	for _, b := range banks {
		wanted[b] = struct{}{}
	}
	from := before.AddDays(-days)

	var out []domain.DailyVolume
	for k, a := range s.aggregates {
		if _, ok := wanted[k.bankID]; !ok {
			continue
		}
		if k.date.Before(from) || !k.date.Before(before) {
			continue
		}
		out = append(out, a.Volume())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BankID != out[j].BankID {
			return out[i].BankID < out[j].BankID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

// ReadAggregates returns the rows for date sorted by bank id.
func (s *Store) ReadAggregates(ctx context.Context, date civil.Date) ([]domain.DailyBankAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.DailyBankAggregate
	for k, a := range s.aggregates {
		if k.date == date {
			out = append(out, copyAggregate(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BankID < out[j].BankID })
	return out, nil
}

// ReadAnomalies returns the anomalies recorded for date.
func (s *Store) ReadAnomalies(ctx context.Context, date civil.Date) ([]domain.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Anomaly
	for _, a := range s.anomalies {
		if a.Date == date {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BankID != out[j].BankID {
			return out[i].BankID < out[j].BankID
		}
		return out[i].AnomalyID < out[j].AnomalyID
	})
	return out, nil
}

// Reports returns every quality report written so far.
func (s *Store) Reports() []domain.QualityReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.QualityReport, len(s.reports))
	copy(out, s.reports)
	return out
}

// Writes is the number of successful partition writes.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// RecordRun keeps a copy of a finished run.
func (s *Store) RecordRun(ctx context.Context, res *pipeline.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *res)
	return nil
}

// Runs returns the recorded runs, oldest first.
func (s *Store) Runs() []pipeline.RunResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.RunResult, len(s.runs))
	copy(out, s.runs)
	return out
}

// Seed stores aggregates directly, for example history rows in tests.
func (s *Store) Seed(rows ...domain.DailyBankAggregate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range rows {
		s.aggregates[aggregateKey{a.BankID, a.Date}] = copyAggregate(a)
	}
}

// Close implements pipeline.Store.
func (s *Store) Close() error { return nil }

func copyAggregate(a domain.DailyBankAggregate) domain.DailyBankAggregate {
	breakdown := make(map[domain.TransactionType]int64, len(a.TypeBreakdown))
	for k, v := range a.TypeBreakdown {
		breakdown[k] = v
	}
	a.TypeBreakdown = breakdown
	return a
}

var (
	_ pipeline.Store       = (*Store)(nil)
	_ pipeline.RunRecorder = (*Store)(nil)
)
