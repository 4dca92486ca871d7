package domain

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// Severity ranks how serious an anomaly is.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Penalized reports whether the severity lowers the quality score.
func (s Severity) Penalized() bool {
	return s == SeverityMedium || s == SeverityHigh || s == SeverityCritical
}

// AnomalyClass groups anomalies by the component that detected them.
type AnomalyClass string

const (
	ClassStatisticalOutlier    AnomalyClass = "statistical_outlier"
	ClassBusinessRuleViolation AnomalyClass = "business_rule_violation"
	ClassDataQualityIssue      AnomalyClass = "data_quality_issue"
)

// AnomalyStatus is the investigation state. The pipeline only creates
// OPEN anomalies.
type AnomalyStatus string

const (
	AnomalyOpen          AnomalyStatus = "OPEN"
	AnomalyInvestigating AnomalyStatus = "INVESTIGATING"
	AnomalyResolved      AnomalyStatus = "RESOLVED"
)

// Rule names attached to anomalies.
const (
	RuleAmountRange     = "amount_range"
	RuleFutureDate      = "future_date"
	RuleBankIDFormat    = "bank_id_format"
	RuleDailyVolumeZ    = "daily_volume_zscore"
	RuleTransactionAmtZ = "transaction_amount_zscore"
)

// NoRecordIndex marks anomalies raised on a daily aggregate rather than a record.
const NoRecordIndex = -1

const anomalyNamespaceSeed = "bank-batch-pipeline/anomaly"

var anomalyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte(anomalyNamespaceSeed))

// Anomaly is one detected deviation.
type Anomaly struct {
	AnomalyID     string       `json:"anomaly_id"`
	Date          civil.Date   `json:"anomaly_date"`
	BankID        string       `json:"bank_id"`
	TransactionID string       `json:"transaction_id,omitempty"`
	RecordIndex   int          `json:"record_index"`
	Class         AnomalyClass `json:"anomaly_type"`
	Severity      Severity     `json:"severity"`
	Rule          string       `json:"rule"`

	ObservedValue float64  `json:"observed_value"`
	ExpectedLow   *float64 `json:"expected_low,omitempty"`
	ExpectedHigh  *float64 `json:"expected_high,omitempty"`
	ZScore        *float64 `json:"z_score,omitempty"`

	Description string        `json:"description"`
	RunID       string        `json:"run_id,omitempty"`
	DetectedAt  time.Time     `json:"detected_at"`
	Status      AnomalyStatus `json:"status"`
}

// AnomalyID derives a stable identifier so that re-running a date with the
// same input yields the same ids and sinks can insert-if-absent.
func AnomalyID(date civil.Date, bankID, transactionID string, index int, class AnomalyClass, rule string) string {
	key := fmt.Sprintf("%s|%s|%s|%d|%s|%s", date, bankID, transactionID, index, class, rule)
	return uuid.NewSHA1(anomalyNamespace, []byte(key)).String()
}

// WithID fills in AnomalyID from the anomaly's identifying fields.
func (a Anomaly) WithID() Anomaly {
	a.AnomalyID = AnomalyID(a.Date, a.BankID, a.TransactionID, a.RecordIndex, a.Class, a.Rule)
	return a
}
