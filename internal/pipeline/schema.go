package pipeline

import (
	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
)

// SchemaResult is the outcome of checking a batch's shape.
type SchemaResult struct {
	OK      bool     `json:"ok"`
	Empty   bool     `json:"empty"`
	Missing []string `json:"missing,omitempty"`
}

// Err returns a *StructuralError for a failed result, nil otherwise.
func (r SchemaResult) Err() error {
	if r.OK {
		return nil
	}
	if len(r.Missing) > 0 {
		return &StructuralError{Missing: r.Missing}
	}
	return &StructuralError{Reason: "batch contains no records"}
}

// ValidateSchema checks that every required field is part of the batch
// shape. When the batch carries no explicit shape, the union of record
// keys is used instead. An empty batch fails.
func ValidateSchema(batch *domain.Batch, required []string) SchemaResult {
	if batch == nil || len(batch.Records) == 0 {
		return SchemaResult{Empty: true}
	}

	shape := make(map[string]struct{}, len(batch.Fields))
	for _, f := range batch.Fields {
		shape[f] = struct{}{}
	}
	if len(shape) == 0 {
		for _, rec := range batch.Records {
			for k := range rec {
				shape[k] = struct{}{}
			}
		}
	}

	var missing []string
	for _, f := range required {
		if _, ok := shape[f]; !ok {
			missing = append(missing, f)
		}
	}
	return SchemaResult{OK: len(missing) == 0, Missing: missing}
}
