package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
)

// Repairs recorded on cleaned records.
const (
	RepairTrimmedIDs      = "trimmed_ids"
	RepairBankIDUpperCase = "bank_id_upper_cased"
	RepairUnknownType     = "transaction_type_unknown"
	RepairAmountRounded   = "amount_rounded"
)

var nullTokens = map[string]struct{}{
	"null": {}, "nan": {}, "none": {}, "nat": {}, "nil": {},
}

// Rejection is a dropped record. Parsed is set when the amount and date
// could be read, so business rules can still be applied to it.
type Rejection struct {
	RecordDefect
	BankID string
	Parsed *domain.CleanedRecord
}

// CleanResult is the output of the cleaner.
type CleanResult struct {
	Total    int
	Records  []domain.CleanedRecord
	Rejected []Rejection
	Counts   domain.DefectCounts
}

// Valid is the number of surviving records.
func (r CleanResult) Valid() int { return len(r.Records) }

// Flagged is the number of surviving records with an unrepaired defect.
func (r CleanResult) Flagged() int {
	n := 0
	for _, rec := range r.Records {
		if !rec.Valid {
			n++
		}
	}
	return n
}

// RuleCandidates returns survivors plus rejected records that parsed, in
// input order.
func (r CleanResult) RuleCandidates() []domain.CleanedRecord {
	out := make([]domain.CleanedRecord, 0, len(r.Records)+len(r.Rejected))
	out = append(out, r.Records...)
	for _, rej := range r.Rejected {
		if rej.Parsed != nil {
			out = append(out, *rej.Parsed)
		}
	}
	sortByIndex(out)
	return out
}

// Cleaner drops and repairs records. It holds no per-batch state.
type Cleaner struct {
	required  []string
	min, max  decimal.Decimal
	precision int32
	bankID    *regexp.Regexp
}

// NewCleaner builds a cleaner from a validated config.
func NewCleaner(cfg Config) (*Cleaner, error) {
	re, err := regexp.Compile(cfg.BankIDPattern)
	if err != nil {
		return nil, &ConfigError{Field: "bank_id_pattern", Reason: err.Error()}
	}
	return &Cleaner{
		required:  cfg.RequiredFields,
		min:       cfg.MinAmount,
		max:       cfg.MaxAmount,
		precision: cfg.CurrencyPrecision,
		bankID:    re,
	}, nil
}

type dupKey struct {
	bankID     string
	customerID string
	amount     string
	timestamp  int64
}

// Clean applies, per record and in order: null handling, type coercion,
// amount range, future date and duplicate detection. The first failing
// check decides the counter. The batch is not modified.
func (c *Cleaner) Clean(batch *domain.Batch) CleanResult {
	res := CleanResult{Total: len(batch.Records)}
	seenIDs := make(map[string]struct{}, len(batch.Records))
	seenTuples := make(map[dupKey]struct{}, len(batch.Records))

	reject := func(idx int, bankID string, kind domain.DefectKind, field, reason string, parsed *domain.CleanedRecord) {
		res.Counts.Add(kind)
		res.Rejected = append(res.Rejected, Rejection{
			RecordDefect: RecordDefect{Index: idx, Kind: kind, Field: field, Reason: reason},
			BankID:       bankID,
			Parsed:       parsed,
		})
	}

	for idx, raw := range batch.Records {
		bankHint := normalizeBankID(raw[domain.FieldBankID])

		if field, ok := c.firstNull(raw); ok {
			reject(idx, bankHint, domain.DefectNull, field, "missing mandatory value", nil)
			continue
		}

		rec, field, err := c.coerce(idx, raw)
		if err != nil {
			reject(idx, bankHint, domain.DefectInvalidType, field, err.Error(), nil)
			continue
		}

		// The range applies to the amount as it will be stored. Rules see
		// the amount as it was sent.
		rounded := rec.Amount.Round(c.precision)
		if !rounded.GreaterThan(c.min) || rounded.GreaterThan(c.max) {
			reason := fmt.Sprintf("amount %s outside (%s, %s]", rec.Amount, c.min, c.max)
			parsed := rec
			reject(idx, rec.BankID, domain.DefectInvalidAmount, domain.FieldAmount, reason, &parsed)
			continue
		}
		if !rounded.Equal(rec.Amount) {
			rec.Amount = rounded
			rec.Repairs = append(rec.Repairs, RepairAmountRounded)
		}

		if rec.Date.After(batch.ProcessingDate) {
			reason := fmt.Sprintf("date %s after processing date %s", rec.Date, batch.ProcessingDate)
			reject(idx, rec.BankID, domain.DefectFutureDated, domain.FieldTransactionDate, reason, &rec)
			continue
		}

		key := dupKey{rec.BankID, rec.CustomerID, rec.Amount.String(), rec.Timestamp.UnixNano()}
		if _, dup := seenIDs[rec.TransactionID]; dup {
			reject(idx, rec.BankID, domain.DefectDuplicate, domain.FieldTransactionID, "repeated transaction id "+rec.TransactionID, nil)
			continue
		}
		if _, dup := seenTuples[key]; dup {
			reject(idx, rec.BankID, domain.DefectDuplicate, "", "repeated bank/customer/amount/timestamp", nil)
			continue
		}
		seenIDs[rec.TransactionID] = struct{}{}
		seenTuples[key] = struct{}{}

		rec.Valid = c.bankID.MatchString(rec.BankID)
		res.Records = append(res.Records, rec)
	}
	return res
}

func (c *Cleaner) firstNull(raw domain.RawRecord) (string, bool) {
	for _, f := range c.required {
		if isNull(raw[f]) {
			return f, true
		}
	}
	return "", false
}

func (c *Cleaner) coerce(idx int, raw domain.RawRecord) (domain.CleanedRecord, string, error) {
	rec := domain.CleanedRecord{Index: idx}

	var trimmed bool
	ids := []struct {
		field string
		dst   *string
	}{
		{domain.FieldTransactionID, &rec.TransactionID},
		{domain.FieldBankID, &rec.BankID},
		{domain.FieldCustomerID, &rec.CustomerID},
	}
	for _, id := range ids {
		s, err := cast.ToStringE(raw[id.field])
		if err != nil {
			return rec, id.field, fmt.Errorf("not a string: %w", err)
		}
		t := strings.TrimSpace(s)
		if t != s {
			trimmed = true
		}
		*id.dst = t
	}
	if trimmed {
		rec.Repairs = append(rec.Repairs, RepairTrimmedIDs)
	}
	if upper := strings.ToUpper(rec.BankID); upper != rec.BankID {
		rec.BankID = upper
		rec.Repairs = append(rec.Repairs, RepairBankIDUpperCase)
	}

	amount, err := parseAmount(raw[domain.FieldAmount])
	if err != nil {
		return rec, domain.FieldAmount, err
	}
	rec.Amount = amount

	ts, err := parseTimestamp(raw[domain.FieldTransactionDate])
	if err != nil {
		return rec, domain.FieldTransactionDate, err
	}
	rec.Timestamp = ts
	rec.Date = civil.DateOf(ts)

	rec.Type = domain.TypeUnknown
	if v := raw[domain.FieldTransactionType]; !isNull(v) {
		if t, ok := domain.ParseTransactionType(cast.ToString(v)); ok {
			rec.Type = t
		}
	}
	if rec.Type == domain.TypeUnknown {
		rec.Repairs = append(rec.Repairs, RepairUnknownType)
	}
	return rec, "", nil
}

func isNull(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		if s == "" {
			return true
		}
		_, ok := nullTokens[s]
		return ok
	case float64:
		return math.IsNaN(t)
	case float32:
		return math.IsNaN(float64(t))
	}
	return false
}

func normalizeBankID(v any) string {
	if isNull(v) {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(cast.ToString(v)))
}

func parseAmount(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return decimal.Zero, fmt.Errorf("amount %q is not numeric", t)
		}
		return d, nil
	case json.Number:
		return decimal.NewFromString(t.String())
	case float64:
		if math.IsInf(t, 0) || math.IsNaN(t) {
			return decimal.Zero, fmt.Errorf("amount %v is not finite", t)
		}
		return decimal.NewFromFloat(t), nil
	case float32:
		return parseAmount(float64(t))
	case bool:
		return decimal.Zero, fmt.Errorf("amount %v is not numeric", t)
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount of type %T is not numeric", v)
	}
	return decimal.NewFromInt(n), nil
}

func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case civil.Date:
		return t.In(time.UTC), nil
	case string:
		s := strings.TrimSpace(t)
		if d, err := civil.ParseDate(s); err == nil {
			return d.In(time.UTC), nil
		}
		ts, err := cast.ToTimeInDefaultLocationE(s, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("date %q is not parseable", t)
		}
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("date of type %T is not parseable", v)
}

func sortByIndex(records []domain.CleanedRecord) {
	sort.SliceStable(records, func(i, j int) bool { return records[i].Index < records[j].Index })
}
