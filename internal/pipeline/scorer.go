package pipeline

import (
	"math"
	"sort"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
)

// Scorer turns record counts and anomalies into a 0-100 quality score.
type Scorer struct {
	penalty float64
	levels  LevelCutPoints
}

// NewScorer builds a scorer from a validated config.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{penalty: cfg.AnomalyPenalty, levels: cfg.Levels}
}

// Score is 100*valid/total minus the penalty for every MEDIUM or worse
// anomaly, clamped to [0, 100] and rounded to two decimals. An empty
// batch scores 0.
func (s *Scorer) Score(total, valid int, anomalies []domain.Anomaly) (score float64, penalized int) {
	for _, a := range anomalies {
		if a.Severity.Penalized() {
			penalized++
		}
	}
	if total <= 0 {
		return 0, penalized
	}
	score = 100*float64(valid)/float64(total) - s.penalty*float64(penalized)
	score = math.Max(0, math.Min(100, score))
	return round2(score), penalized
}

// Level maps a score to its quality level. Cut points are inclusive.
func (s *Scorer) Level(score float64) domain.QualityLevel {
	switch {
	case score >= s.levels.Excellent:
		return domain.LevelExcellent
	case score >= s.levels.Good:
		return domain.LevelGood
	case score >= s.levels.Acceptable:
		return domain.LevelAcceptable
	}
	return domain.LevelPoor
}

// Report builds the quality report for bankID, or for the whole batch
// when bankID is domain.AllBanks. Records whose bank id was null only
// count towards the batch-wide report.
func (s *Scorer) Report(date civil.Date, bankID string, clean CleanResult, anomalies []domain.Anomaly) domain.QualityReport {
	all := bankID == domain.AllBanks
	r := domain.QualityReport{ProcessingDate: date, BankID: bankID}

	for _, rec := range clean.Records {
		if all || rec.BankID == bankID {
			r.ValidRecords++
			if !rec.Valid {
				r.FlaggedRecords++
			}
		}
	}
	for _, rej := range clean.Rejected {
		if all || rej.BankID == bankID {
			r.Defects.Add(rej.Kind)
		}
	}
	r.TotalRecords = r.ValidRecords + r.Defects.Total()

	var scoped []domain.Anomaly
	for _, a := range anomalies {
		if all || a.BankID == bankID {
			scoped = append(scoped, a)
		}
	}
	r.AnomalyCount = len(scoped)
	r.Score, r.PenalizedAnomalies = s.Score(r.TotalRecords, r.ValidRecords, scoped)
	r.Level = s.Level(r.Score)
	return r
}

// BankReports builds one report per bank seen among survivors or
// attributable rejections, sorted by bank id.
func (s *Scorer) BankReports(date civil.Date, clean CleanResult, anomalies []domain.Anomaly) []domain.QualityReport {
	seen := make(map[string]struct{})
	for _, rec := range clean.Records {
		seen[rec.BankID] = struct{}{}
	}
	for _, rej := range clean.Rejected {
		if rej.BankID != "" {
			seen[rej.BankID] = struct{}{}
		}
	}
	banks := make([]string, 0, len(seen))
	for b := range seen {
		banks = append(banks, b)
	}
	sort.Strings(banks)

	out := make([]domain.QualityReport, 0, len(banks))
	for _, b := range banks {
		out = append(out, s.Report(date, b, clean, anomalies))
	}
	return out
}
