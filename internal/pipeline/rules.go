package pipeline

import (
	"fmt"
	"regexp"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
)

// RuleValidator applies record-local business rules. Every violated rule
// produces its own anomaly.
type RuleValidator struct {
	min, max  decimal.Decimal
	precision int32
	bankID    *regexp.Regexp
}

// NewRuleValidator builds a validator from a validated config.
func NewRuleValidator(cfg Config) (*RuleValidator, error) {
	re, err := regexp.Compile(cfg.BankIDPattern)
	if err != nil {
		return nil, &ConfigError{Field: "bank_id_pattern", Reason: err.Error()}
	}
	return &RuleValidator{min: cfg.MinAmount, max: cfg.MaxAmount, precision: cfg.CurrencyPrecision, bankID: re}, nil
}

// Validate checks every record against the amount bound, the processing
// date and the bank id pattern.
func (v *RuleValidator) Validate(processingDate civil.Date, records []domain.CleanedRecord) []domain.Anomaly {
	var out []domain.Anomaly
	for _, rec := range records {
		base := domain.Anomaly{
			Date:          processingDate,
			BankID:        rec.BankID,
			TransactionID: rec.TransactionID,
			RecordIndex:   rec.Index,
			Status:        domain.AnomalyOpen,
		}

		// Same bound as the cleaner: the amount at currency precision.
		if stored := rec.Amount.Round(v.precision); !stored.GreaterThan(v.min) || stored.GreaterThan(v.max) {
			a := base
			a.Class = domain.ClassBusinessRuleViolation
			a.Severity = domain.SeverityMedium
			a.Rule = domain.RuleAmountRange
			a.ObservedValue = rec.Amount.InexactFloat64()
			lo, hi := v.min.InexactFloat64(), v.max.InexactFloat64()
			a.ExpectedLow, a.ExpectedHigh = &lo, &hi
			a.Description = fmt.Sprintf("amount %s outside allowed range (%s, %s]", rec.Amount, v.min, v.max)
			out = append(out, a.WithID())
		}

		if rec.Date.After(processingDate) {
			a := base
			a.Class = domain.ClassBusinessRuleViolation
			a.Severity = domain.SeverityHigh
			a.Rule = domain.RuleFutureDate
			a.ObservedValue = float64(rec.Date.DaysSince(processingDate))
			zero := 0.0
			a.ExpectedHigh = &zero
			a.Description = fmt.Sprintf("transaction dated %s is after processing date %s", rec.Date, processingDate)
			out = append(out, a.WithID())
		}

		if !v.bankID.MatchString(rec.BankID) {
			a := base
			a.Class = domain.ClassDataQualityIssue
			a.Severity = domain.SeverityLow
			a.Rule = domain.RuleBankIDFormat
			a.Description = fmt.Sprintf("bank id %q does not match %s", rec.BankID, v.bankID)
			out = append(out, a.WithID())
		}
	}
	return out
}
