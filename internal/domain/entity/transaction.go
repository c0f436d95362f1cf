package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a ledger entry against a budget line. Created PENDING and
// decided exactly once; REFUND and ADJUSTMENT entries act as credits once
// approved.
type Transaction struct {
	ID          int64           `json:"id"`
	LineID      int64           `json:"line_id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	VendorID    *int64          `json:"vendor_id,omitempty"`
	Status      string          `json:"status"`
	CreatedBy   string          `json:"created_by"`
	ApprovedBy  string          `json:"approved_by,omitempty"`
	Comment     string          `json:"comment,omitempty"`
	DecidedAt   *time.Time      `json:"decided_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// IsDecided returns true once the transaction reached a terminal status.
func (t *Transaction) IsDecided() bool {
	return t.Status != TxStatusPending
}

// IsDebit returns true for types that consume available balance.
func (t *Transaction) IsDebit() bool {
	return t.Type == TxTypeExpense || t.Type == TxTypeCommitment
}

// LineAggregates holds the transaction sums a ledger read derives balances
// from, all recomputed from the transaction set.
type LineAggregates struct {
	ApprovedExpense    decimal.Decimal // approved EXPENSE total
	ApprovedCommitment decimal.Decimal // approved COMMITMENT total
	ApprovedCredit     decimal.Decimal // approved REFUND + ADJUSTMENT total
	PendingReserved    decimal.Decimal // pending EXPENSE + COMMITMENT total
}

// Spent is the net approved spend: expenses less approved credits.
func (a LineAggregates) Spent() decimal.Decimal {
	return a.ApprovedExpense.Sub(a.ApprovedCredit)
}
