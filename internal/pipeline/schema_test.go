package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
)

func TestValidateSchema(t *testing.T) {
	required := DefaultConfig().RequiredFields
	record := raw("T1", "BNK001", "C1", "10.00", "2025-09-07", "PAYMENT")

	tests := []struct {
		name        string
		batch       *domain.Batch
		wantOK      bool
		wantMissing []string
	}{
		{
			name:   "all required fields present",
			batch:  newBatch(record),
			wantOK: true,
		},
		{
			name: "missing amount and bank id",
			batch: &domain.Batch{
				ProcessingDate: testDate,
				Fields:         []string{domain.FieldTransactionID, domain.FieldCustomerID, domain.FieldTransactionDate},
				Records:        []domain.RawRecord{record},
			},
			wantMissing: []string{domain.FieldBankID, domain.FieldAmount},
		},
		{
			name: "shape derived from record keys",
			batch: &domain.Batch{
				ProcessingDate: testDate,
				Records:        []domain.RawRecord{record},
			},
			wantOK: true,
		},
		{
			name: "transaction type is optional",
			batch: &domain.Batch{
				ProcessingDate: testDate,
				Fields:         required,
				Records:        []domain.RawRecord{record},
			},
			wantOK: true,
		},
		{
			name:  "empty batch",
			batch: newBatch(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateSchema(tt.batch, required)
			assert.Equal(t, tt.wantOK, res.OK)
			assert.Equal(t, tt.wantMissing, res.Missing)
			if tt.wantOK {
				assert.NoError(t, res.Err())
				return
			}
			var structural *StructuralError
			require.True(t, errors.As(res.Err(), &structural))
			assert.Equal(t, tt.wantMissing, structural.Missing)
			assert.False(t, IsRetryable(res.Err()))
		})
	}
}
