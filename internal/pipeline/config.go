package pipeline

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
)

// Granularity selects what the statistical analyzer tests.
type Granularity string

const (
	// GranularityDailyVolume compares each bank's total volume for the
	// processing date against its trailing history of daily volumes.
	GranularityDailyVolume Granularity = "daily_volume"
	// GranularityTransaction compares each transaction amount against the
	// distribution of the bank's amounts in the same batch.
	GranularityTransaction Granularity = "transaction"
)

// ZThresholds are the z-score cut points. A value strictly greater than
// a threshold reaches that severity.
type ZThresholds struct {
	Medium   float64
	High     float64
	Critical float64
}

// LevelCutPoints map a score to a quality level. A score greater than or
// equal to a cut point reaches that level.
type LevelCutPoints struct {
	Excellent  float64
	Good       float64
	Acceptable float64
}

// RetryConfig bounds sink write retries.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Config is fixed at run start and shared read-only by all stages.
type Config struct {
	// Amounts must satisfy MinAmount < amount <= MaxAmount.
	MinAmount         decimal.Decimal
	MaxAmount         decimal.Decimal
	CurrencyPrecision int32

	BankIDPattern  string
	RequiredFields []string

	Thresholds  ZThresholds
	MinSamples  int
	HistoryDays int
	Granularity Granularity

	AnomalyPenalty float64
	Levels         LevelCutPoints
	PartialFloor   float64

	WriteRetry RetryConfig
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MinAmount:         decimal.Zero,
		MaxAmount:         decimal.NewFromInt(1_000_000),
		CurrencyPrecision: 2,
		BankIDPattern:     `^[A-Z0-9]{6}$`,
		RequiredFields: []string{
			domain.FieldTransactionID,
			domain.FieldBankID,
			domain.FieldCustomerID,
			domain.FieldAmount,
			domain.FieldTransactionDate,
		},
		Thresholds:     ZThresholds{Medium: 2.0, High: 2.5, Critical: 3.0},
		MinSamples:     10,
		HistoryDays:    30,
		Granularity:    GranularityDailyVolume,
		AnomalyPenalty: 1.0,
		Levels:         LevelCutPoints{Excellent: 95, Good: 85, Acceptable: 75},
		PartialFloor:   50,
		WriteRetry: RetryConfig{
			MaxAttempts:     5,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
	}
}

// Validate checks the configuration before any record is touched.
func (c Config) Validate() error {
	if c.MinAmount.IsNegative() {
		return &ConfigError{Field: "min_amount", Reason: "must not be negative"}
	}
	if !c.MaxAmount.GreaterThan(c.MinAmount) {
		return &ConfigError{Field: "max_amount", Reason: fmt.Sprintf("must be greater than min_amount (%s)", c.MinAmount)}
	}
	if c.CurrencyPrecision < 0 || c.CurrencyPrecision > 8 {
		return &ConfigError{Field: "currency_precision", Reason: "must be between 0 and 8"}
	}
	if _, err := regexp.Compile(c.BankIDPattern); err != nil || c.BankIDPattern == "" {
		return &ConfigError{Field: "bank_id_pattern", Reason: fmt.Sprintf("invalid pattern %q", c.BankIDPattern)}
	}
	if len(c.RequiredFields) == 0 {
		return &ConfigError{Field: "required_fields", Reason: "must not be empty"}
	}
	t := c.Thresholds
	if !(t.Medium > 0 && t.Medium < t.High && t.High < t.Critical) {
		return &ConfigError{Field: "z_thresholds", Reason: fmt.Sprintf("need 0 < medium < high < critical, got %.2f/%.2f/%.2f", t.Medium, t.High, t.Critical)}
	}
	if c.MinSamples < 2 {
		return &ConfigError{Field: "min_samples", Reason: "must be at least 2"}
	}
	if c.HistoryDays < 1 {
		return &ConfigError{Field: "history_days", Reason: "must be positive"}
	}
	if c.Granularity != GranularityDailyVolume && c.Granularity != GranularityTransaction {
		return &ConfigError{Field: "granularity", Reason: fmt.Sprintf("unknown granularity %q", c.Granularity)}
	}
	if c.AnomalyPenalty < 0 {
		return &ConfigError{Field: "anomaly_penalty", Reason: "must not be negative"}
	}
	l := c.Levels
	if !(l.Acceptable >= 0 && l.Acceptable < l.Good && l.Good < l.Excellent && l.Excellent <= 100) {
		return &ConfigError{Field: "quality_levels", Reason: "need 0 <= acceptable < good < excellent <= 100"}
	}
	if c.PartialFloor < 0 || c.PartialFloor > 100 {
		return &ConfigError{Field: "partial_floor", Reason: "must be within [0, 100]"}
	}
	if c.WriteRetry.MaxAttempts < 1 {
		return &ConfigError{Field: "write_retry.max_attempts", Reason: "must be at least 1"}
	}
	if c.WriteRetry.InitialInterval <= 0 || c.WriteRetry.MaxInterval < c.WriteRetry.InitialInterval {
		return &ConfigError{Field: "write_retry.interval", Reason: "need 0 < initial <= max"}
	}
	return nil
}
