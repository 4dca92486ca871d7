package pipeline

import (
	"fmt"
	"math"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
)

// Analyzer flags z-score outliers per bank.
type Analyzer struct {
	thresholds ZThresholds
	minSamples int
}

// NewAnalyzer builds an analyzer from a validated config.
func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{thresholds: cfg.Thresholds, minSamples: cfg.MinSamples}
}

// ZScore is |observed - mean| / std, defined as 0 when std is 0.
func ZScore(observed, mean, std float64) float64 {
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return math.Abs(observed-mean) / std
}

// Classify maps a z-score to a severity. ok is false for normal values.
func (a *Analyzer) Classify(z float64) (sev domain.Severity, ok bool) {
	switch {
	case z > a.thresholds.Critical:
		return domain.SeverityCritical, true
	case z > a.thresholds.High:
		return domain.SeverityHigh, true
	case z > a.thresholds.Medium:
		return domain.SeverityMedium, true
	}
	return "", false
}

// AnalyzeDailyVolumes tests each bank's current volume against the
// bank's history rows dated before the current day. Banks with fewer than
// the minimum number of history rows are skipped.
func (a *Analyzer) AnalyzeDailyVolumes(current, history []domain.DailyVolume) []domain.Anomaly {
	byBank := make(map[string][]domain.DailyVolume)
	for _, h := range history {
		byBank[h.BankID] = append(byBank[h.BankID], h)
	}

	var out []domain.Anomaly
	for _, cur := range current {
		var window []float64
		for _, h := range byBank[cur.BankID] {
			if h.Date.Before(cur.Date) {
				window = append(window, h.TotalVolume)
			}
		}
		if len(window) < a.minSamples {
			continue
		}
		m, std := mean(window), sampleStd(window)
		z := ZScore(cur.TotalVolume, m, std)
		sev, ok := a.Classify(z)
		if !ok {
			continue
		}
		out = append(out, a.outlier(cur.Date, cur.BankID, "", domain.NoRecordIndex, domain.RuleDailyVolumeZ,
			cur.TotalVolume, m, std, z, sev,
			fmt.Sprintf("daily volume %.2f deviates from %d-day mean %.2f (z=%.2f)", cur.TotalVolume, len(window), m, z)))
	}
	return out
}

// AnalyzeTransactions tests each valid record's amount against the
// distribution of its bank's amounts within the batch.
func (a *Analyzer) AnalyzeTransactions(processingDate civil.Date, records []domain.CleanedRecord) []domain.Anomaly {
	byBank := make(map[string][]domain.CleanedRecord)
	var banks []string
	for _, rec := range records {
		if !rec.Valid {
			continue
		}
		if _, ok := byBank[rec.BankID]; !ok {
			banks = append(banks, rec.BankID)
		}
		byBank[rec.BankID] = append(byBank[rec.BankID], rec)
	}
	sort.Strings(banks)

	var out []domain.Anomaly
	for _, bank := range banks {
		recs := byBank[bank]
		if len(recs) < a.minSamples {
			continue
		}
		values := make([]float64, len(recs))
		for i, rec := range recs {
			values[i] = rec.Amount.InexactFloat64()
		}
		m, std := mean(values), sampleStd(values)
		for i, rec := range recs {
			z := ZScore(values[i], m, std)
			sev, ok := a.Classify(z)
			if !ok {
				continue
			}
			out = append(out, a.outlier(processingDate, bank, rec.TransactionID, rec.Index, domain.RuleTransactionAmtZ,
				values[i], m, std, z, sev,
				fmt.Sprintf("amount %.2f deviates from bank mean %.2f (z=%.2f)", values[i], m, z)))
		}
	}
	return out
}

func (a *Analyzer) outlier(date civil.Date, bank, txID string, idx int, rule string,
	observed, m, std, z float64, sev domain.Severity, desc string) domain.Anomaly {
	lo := round2(m - a.thresholds.Medium*std)
	hi := round2(m + a.thresholds.Medium*std)
	zr := round2(z)
	return domain.Anomaly{
		Date:          date,
		BankID:        bank,
		TransactionID: txID,
		RecordIndex:   idx,
		Class:         domain.ClassStatisticalOutlier,
		Severity:      sev,
		Rule:          rule,
		ObservedValue: round2(observed),
		ExpectedLow:   &lo,
		ExpectedHigh:  &hi,
		ZScore:        &zr,
		Description:   desc,
		Status:        domain.AnomalyOpen,
	}.WithID()
}

// CurrentVolumes sums valid records per bank for the processing date.
func CurrentVolumes(processingDate civil.Date, records []domain.CleanedRecord) []domain.DailyVolume {
	sums := make(map[string]decimal.Decimal)
	counts := make(map[string]int64)
	for _, rec := range records {
		if !rec.Valid || rec.Date != processingDate {
			continue
		}
		sums[rec.BankID] = sums[rec.BankID].Add(rec.Amount)
		counts[rec.BankID]++
	}
	out := make([]domain.DailyVolume, 0, len(sums))
	for bank, sum := range sums {
		out = append(out, domain.DailyVolume{
			BankID:           bank,
			Date:             processingDate,
			TotalVolume:      sum.InexactFloat64(),
			TransactionCount: counts[bank],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BankID < out[j].BankID })
	return out
}
