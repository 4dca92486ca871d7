package pipeline

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
)

func newTestCleaner(t *testing.T) *Cleaner {
	t.Helper()
	c, err := NewCleaner(DefaultConfig())
	require.NoError(t, err)
	return c
}

func TestCleaner_DefectClassification(t *testing.T) {
	tests := []struct {
		name     string
		record   domain.RawRecord
		wantKind domain.DefectKind
	}{
		{"nil amount", raw("T1", "BNK001", "C1", nil, "2025-09-07", "PAYMENT"), domain.DefectNull},
		{"blank customer", raw("T1", "BNK001", "   ", "10", "2025-09-07", "PAYMENT"), domain.DefectNull},
		{"null token bank", raw("T1", "NULL", "C1", "10", "2025-09-07", "PAYMENT"), domain.DefectNull},
		{"nan amount", raw("T1", "BNK001", "C1", math.NaN(), "2025-09-07", "PAYMENT"), domain.DefectNull},
		{"missing key", domain.RawRecord{domain.FieldTransactionID: "T1"}, domain.DefectNull},
		{"non numeric amount", raw("T1", "BNK001", "C1", "12abc", "2025-09-07", "PAYMENT"), domain.DefectInvalidType},
		{"boolean amount", raw("T1", "BNK001", "C1", true, "2025-09-07", "PAYMENT"), domain.DefectInvalidType},
		{"unparseable date", raw("T1", "BNK001", "C1", "10", "yesterday", "PAYMENT"), domain.DefectInvalidType},
		{"zero amount", raw("T1", "BNK001", "C1", "0", "2025-09-07", "PAYMENT"), domain.DefectInvalidAmount},
		{"negative amount", raw("T1", "BNK001", "C1", -5.0, "2025-09-07", "PAYMENT"), domain.DefectInvalidAmount},
		{"just over bound", raw("T1", "BNK001", "C1", "1000000.01", "2025-09-07", "PAYMENT"), domain.DefectInvalidAmount},
		{"future date", raw("T1", "BNK001", "C1", "10", "2025-09-08", "PAYMENT"), domain.DefectFutureDated},
	}

	c := newTestCleaner(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Clean(newBatch(tt.record))
			assert.Empty(t, res.Records)
			require.Len(t, res.Rejected, 1)
			assert.Equal(t, tt.wantKind, res.Rejected[0].Kind)
			assert.Equal(t, 1, res.Counts.Total())
		})
	}
}

func TestCleaner_AmountAtBoundIsValid(t *testing.T) {
	c := newTestCleaner(t)
	res := c.Clean(newBatch(
		raw("T1", "BNK001", "C1", "1000000", "2025-09-07", "PAYMENT"),
		raw("T2", "BNK001", "C1", 1000000.01, "2025-09-07", "PAYMENT"),
		raw("T3", "BNK001", "C1", "0.01", "2025-09-07", "PAYMENT"),
	))

	require.Len(t, res.Records, 2)
	assert.Equal(t, "T1", res.Records[0].TransactionID)
	assert.True(t, res.Records[0].Amount.Equal(decimal.NewFromInt(1_000_000)))
	assert.Equal(t, "T3", res.Records[1].TransactionID)
	assert.Equal(t, 1, res.Counts.InvalidAmount)
}

func TestCleaner_RangeCheckedAfterRounding(t *testing.T) {
	c := newTestCleaner(t)
	res := c.Clean(newBatch(
		raw("T1", "BNK001", "C1", "1000000.006", "2025-09-07", "PAYMENT"),
		raw("T2", "BNK001", "C2", "0.004", "2025-09-07", "PAYMENT"),
		raw("T3", "BNK001", "C3", "0.006", "2025-09-07", "PAYMENT"),
		raw("T4", "BNK001", "C4", "1000000.004", "2025-09-07", "PAYMENT"),
	))

	require.Len(t, res.Records, 2)
	assert.Equal(t, "T3", res.Records[0].TransactionID)
	assert.Equal(t, "0.01", res.Records[0].Amount.StringFixed(2))
	assert.Contains(t, res.Records[0].Repairs, RepairAmountRounded)
	assert.Equal(t, "T4", res.Records[1].TransactionID)
	assert.True(t, res.Records[1].Amount.Equal(decimal.NewFromInt(1_000_000)))
	for _, rec := range res.Records {
		assert.True(t, rec.Amount.IsPositive())
	}

	assert.Equal(t, 2, res.Counts.InvalidAmount)
	require.Len(t, res.Rejected, 2)
	require.NotNil(t, res.Rejected[0].Parsed)
	assert.Equal(t, "1000000.006", res.Rejected[0].Parsed.Amount.String())
	require.NotNil(t, res.Rejected[1].Parsed)
	assert.Equal(t, "0.004", res.Rejected[1].Parsed.Amount.String())

	v, err := NewRuleValidator(DefaultConfig())
	require.NoError(t, err)
	var outOfRange []string
	for _, a := range v.Validate(testDate, res.RuleCandidates()) {
		if a.Class == domain.ClassBusinessRuleViolation && a.Rule == domain.RuleAmountRange {
			outOfRange = append(outOfRange, a.TransactionID)
		}
	}
	assert.Equal(t, []string{"T1", "T2"}, outOfRange)
}

func TestCleaner_Duplicates(t *testing.T) {
	c := newTestCleaner(t)
	res := c.Clean(newBatch(
		raw("T1", "BNK001", "C1", "10.00", "2025-09-07", "PAYMENT"),
		raw("T1", "BNK001", "C2", "99.00", "2025-09-06", "DEPOSIT"),
		raw("T2", "BNK001", "C3", "20.00", "2025-09-07 10:00:00", "PAYMENT"),
		raw("T3", "BNK001", "C3", "20", "2025-09-07T10:00:00Z", "TRANSFER"),
		raw("T4", "BNK001", "C3", "20.00", "2025-09-07 11:00:00", "PAYMENT"),
	))

	ids := make([]string, 0, len(res.Records))
	for _, r := range res.Records {
		ids = append(ids, r.TransactionID)
	}
	assert.Equal(t, []string{"T1", "T2", "T4"}, ids)
	assert.Equal(t, 2, res.Counts.Duplicate)
	assert.Equal(t, 1, res.Rejected[0].Index)
	assert.Equal(t, 3, res.Rejected[1].Index)
}

func TestCleaner_Repairs(t *testing.T) {
	c := newTestCleaner(t)
	res := c.Clean(newBatch(
		raw(" T1 ", " bnk001 ", "C1", "10.129", "2025-09-07", nil),
		raw("T2", "BNK002", "C2", 15, "2025-09-07", "refund"),
		raw("T3", "BANK-1", "C3", "30.00", "2025-09-07", "deposit"),
	))
	require.Len(t, res.Records, 3)

	first := res.Records[0]
	assert.Equal(t, "T1", first.TransactionID)
	assert.Equal(t, "BNK001", first.BankID)
	assert.Equal(t, "10.13", first.Amount.StringFixed(2))
	assert.Equal(t, domain.TypeUnknown, first.Type)
	assert.True(t, first.Valid)
	assert.ElementsMatch(t, []string{RepairTrimmedIDs, RepairBankIDUpperCase, RepairUnknownType, RepairAmountRounded}, first.Repairs)

	assert.Equal(t, domain.TypeUnknown, res.Records[1].Type)
	assert.True(t, res.Records[1].Amount.Equal(decimal.NewFromInt(15)))

	flagged := res.Records[2]
	assert.False(t, flagged.Valid)
	assert.Equal(t, domain.TypeDeposit, flagged.Type)
	assert.Equal(t, 1, res.Flagged())
	assert.Equal(t, 0, res.Counts.Total())
}

func TestCleaner_AccountingAndImmutability(t *testing.T) {
	batch := newBatch(
		raw("T1", "BNK001", "C1", "10.00", "2025-09-07", "PAYMENT"),
		raw("T2", "BNK001", nil, "10.00", "2025-09-07", "PAYMENT"),
		raw("T3", "BNK001", "C2", "x", "2025-09-07", "PAYMENT"),
		raw("T4", "BNK001", "C3", "2000000", "2025-09-07", "PAYMENT"),
		raw("T5", "BNK001", "C4", "40.00", "2025-10-01", "PAYMENT"),
		raw("T1", "BNK001", "C5", "50.00", "2025-09-07", "PAYMENT"),
		raw("T6", "bnk002", "C6", " 60.5 ", "2025-09-06", "WITHDRAWAL"),
	)
	before := make([]domain.RawRecord, len(batch.Records))
	for i, r := range batch.Records {
		cp := domain.RawRecord{}
		for k, v := range r {
			cp[k] = v
		}
		before[i] = cp
	}

	res := newTestCleaner(t).Clean(batch)

	assert.Equal(t, before, batch.Records)
	assert.LessOrEqual(t, len(res.Records), len(batch.Records))
	assert.Equal(t, res.Total-res.Valid(), res.Counts.Total())
	assert.Equal(t, domain.DefectCounts{Null: 1, InvalidType: 1, InvalidAmount: 1, FutureDated: 1, Duplicate: 1}, res.Counts)

	require.Len(t, res.Records, 2)
	assert.Equal(t, 0, res.Records[0].Index)
	assert.Equal(t, 6, res.Records[1].Index)
	assert.Equal(t, "60.50", res.Records[1].Amount.StringFixed(2))

	candidates := res.RuleCandidates()
	indexes := make([]int, len(candidates))
	for i, c := range candidates {
		indexes[i] = c.Index
	}
	assert.Equal(t, []int{0, 3, 4, 6}, indexes)
}
