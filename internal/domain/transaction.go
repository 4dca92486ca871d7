package domain

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Field names of a raw transaction record.
const (
	FieldTransactionID   = "transaction_id"
	FieldBankID          = "bank_id"
	FieldCustomerID      = "customer_id"
	FieldAmount          = "amount"
	FieldTransactionDate = "transaction_date"
	FieldTransactionType = "transaction_type"
)

// TransactionType is the enumerated category of a transaction.
type TransactionType string

const (
	TypeTransfer   TransactionType = "TRANSFER"
	TypeDeposit    TransactionType = "DEPOSIT"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
	TypePayment    TransactionType = "PAYMENT"
	TypeUnknown    TransactionType = "UNKNOWN"
)

// KnownTransactionTypes lists the types a source is expected to send.
var KnownTransactionTypes = []TransactionType{TypeTransfer, TypeDeposit, TypeWithdrawal, TypePayment}

// ParseTransactionType normalizes s and reports whether it names a known type.
func ParseTransactionType(s string) (TransactionType, bool) {
	t := TransactionType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range KnownTransactionTypes {
		if t == known {
			return t, true
		}
	}
	return TypeUnknown, false
}

// RawRecord is one record as delivered by the source, keyed by field name.
// It is never modified after the batch is loaded.
type RawRecord map[string]any

// Batch is the set of raw records for one processing date.
type Batch struct {
	ProcessingDate civil.Date
	// Source identifies where the batch was read from (gs:// URI or file path).
	Source string
	// Fields is the batch shape: the header of a CSV file or the union of
	// keys across JSON records.
	Fields  []string
	Records []RawRecord
}

// HasField reports whether name is part of the batch shape.
func (b *Batch) HasField(name string) bool {
	for _, f := range b.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// CleanedRecord is a raw record that passed null, type, range and
// duplicate checks.
type CleanedRecord struct {
	// Index is the position of the source record in the raw batch.
	Index         int             `json:"index"`
	TransactionID string          `json:"transaction_id"`
	BankID        string          `json:"bank_id"`
	CustomerID    string          `json:"customer_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Date          civil.Date      `json:"date"`
	Amount        decimal.Decimal `json:"amount"`
	Type          TransactionType `json:"transaction_type"`

	// Valid is false when the record carries a quality defect that could
	// not be repaired (bank id format). Such records are kept but not
	// aggregated.
	Valid bool `json:"valid"`

	// Repairs lists the automatic fixes applied while cleaning.
	Repairs []string `json:"repairs,omitempty"`
}
