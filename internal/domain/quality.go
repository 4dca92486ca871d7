package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

// AllBanks is the bank id used for the batch-wide quality report.
const AllBanks = "ALL"

// QualityLevel is the coarse bucket derived from the quality score.
type QualityLevel string

const (
	LevelExcellent  QualityLevel = "EXCELLENT"
	LevelGood       QualityLevel = "GOOD"
	LevelAcceptable QualityLevel = "ACCEPTABLE"
	LevelPoor       QualityLevel = "POOR"
)

// RunStatus is the terminal status of a batch run.
type RunStatus string

const (
	StatusSuccess RunStatus = "SUCCESS"
	StatusPartial RunStatus = "PARTIAL"
	StatusFailed  RunStatus = "FAILED"
)

// DefectKind names the counter a dropped record is charged to.
type DefectKind string

const (
	DefectNull          DefectKind = "null"
	DefectInvalidType   DefectKind = "invalid_type"
	DefectInvalidAmount DefectKind = "invalid_amount"
	DefectFutureDated   DefectKind = "future_dated"
	DefectDuplicate     DefectKind = "duplicate"
)

// DefectCounts holds one counter per defect kind. Every dropped record is
// charged to exactly one counter.
type DefectCounts struct {
	Null          int `json:"null_records"`
	InvalidType   int `json:"invalid_type_records"`
	InvalidAmount int `json:"invalid_amount_records"`
	FutureDated   int `json:"future_dated_records"`
	Duplicate     int `json:"duplicate_records"`
}

// Add increments the counter for kind.
func (d *DefectCounts) Add(kind DefectKind) {
	switch kind {
	case DefectNull:
		d.Null++
	case DefectInvalidType:
		d.InvalidType++
	case DefectInvalidAmount:
		d.InvalidAmount++
	case DefectFutureDated:
		d.FutureDated++
	case DefectDuplicate:
		d.Duplicate++
	}
}

// Total is the number of dropped records.
func (d DefectCounts) Total() int {
	return d.Null + d.InvalidType + d.InvalidAmount + d.FutureDated + d.Duplicate
}

// QualityReport summarizes one run, either batch-wide (BankID == AllBanks)
// or for a single bank.
type QualityReport struct {
	RunID          string     `json:"run_id"`
	ProcessingDate civil.Date `json:"processing_date"`
	BankID         string     `json:"bank_id"`

	TotalRecords int          `json:"total_records"`
	ValidRecords int          `json:"valid_records"`
	Defects      DefectCounts `json:"defects"`
	// FlaggedRecords were kept but carry an unrepaired quality defect.
	FlaggedRecords     int `json:"flagged_records"`
	AnomalyCount       int `json:"anomaly_count"`
	PenalizedAnomalies int `json:"penalized_anomalies"`

	Score  float64      `json:"quality_score"`
	Level  QualityLevel `json:"quality_level"`
	Status RunStatus    `json:"status"`

	DurationSeconds float64   `json:"duration_seconds"`
	GeneratedAt     time.Time `json:"generated_at"`
}
