package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
)

func TestRuleValidator_Validate(t *testing.T) {
	v, err := NewRuleValidator(DefaultConfig())
	require.NoError(t, err)
	c := newTestCleaner(t)

	type want struct {
		class    domain.AnomalyClass
		severity domain.Severity
		rule     string
	}
	tests := []struct {
		name   string
		record domain.RawRecord
		want   []want
	}{
		{
			name:   "clean record",
			record: raw("T1", "BNK001", "C1", "10.00", "2025-09-07", "PAYMENT"),
		},
		{
			name:   "over bound",
			record: raw("T1", "BNK001", "C1", "2000000", "2025-09-07", "PAYMENT"),
			want:   []want{{domain.ClassBusinessRuleViolation, domain.SeverityMedium, domain.RuleAmountRange}},
		},
		{
			name:   "future dated",
			record: raw("T1", "BNK001", "C1", "10.00", "2025-09-09", "PAYMENT"),
			want:   []want{{domain.ClassBusinessRuleViolation, domain.SeverityHigh, domain.RuleFutureDate}},
		},
		{
			name:   "bad bank id",
			record: raw("T1", "BNK-01", "C1", "10.00", "2025-09-07", "PAYMENT"),
			want:   []want{{domain.ClassDataQualityIssue, domain.SeverityLow, domain.RuleBankIDFormat}},
		},
		{
			name:   "all rules at once",
			record: raw("T1", "BNK-01", "C1", "-3", "2025-12-01", "PAYMENT"),
			want: []want{
				{domain.ClassBusinessRuleViolation, domain.SeverityMedium, domain.RuleAmountRange},
				{domain.ClassBusinessRuleViolation, domain.SeverityHigh, domain.RuleFutureDate},
				{domain.ClassDataQualityIssue, domain.SeverityLow, domain.RuleBankIDFormat},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Clean(newBatch(tt.record))
			got := v.Validate(testDate, res.RuleCandidates())
			require.Len(t, got, len(tt.want))
			for i, w := range tt.want {
				assert.Equal(t, w.class, got[i].Class)
				assert.Equal(t, w.severity, got[i].Severity)
				assert.Equal(t, w.rule, got[i].Rule)
				assert.Equal(t, "T1", got[i].TransactionID)
				assert.Equal(t, testDate, got[i].Date)
				assert.Equal(t, domain.AnomalyOpen, got[i].Status)
			}
		})
	}
}

func TestRuleValidator_StableIDs(t *testing.T) {
	v, err := NewRuleValidator(DefaultConfig())
	require.NoError(t, err)
	res := newTestCleaner(t).Clean(newBatch(raw("T1", "BNK001", "C1", "2000000", "2025-09-07", "PAYMENT")))

	first := v.Validate(testDate, res.RuleCandidates())
	second := v.Validate(testDate, res.RuleCandidates())
	require.Len(t, first, 1)
	assert.Equal(t, first[0].AnomalyID, second[0].AnomalyID)
	assert.Equal(t, 2_000_000.0, first[0].ObservedValue)
	require.NotNil(t, first[0].ExpectedHigh)
	assert.Equal(t, 1_000_000.0, *first[0].ExpectedHigh)
}
