package entity

// Budget categories
const (
	CategoryPersonnel   = "PERSONNEL"
	CategoryEquipment   = "EQUIPMENT"
	CategoryMaterials   = "MATERIALS"
	CategoryContractors = "CONTRACTORS"
	CategoryServices    = "SERVICES"
	CategoryOverhead    = "OVERHEAD"
	CategoryContingency = "CONTINGENCY"
	CategoryOther       = "OTHER"
)

// BudgetCategories lists all valid budget line categories.
var BudgetCategories = []string{
	CategoryPersonnel,
	CategoryEquipment,
	CategoryMaterials,
	CategoryContractors,
	CategoryServices,
	CategoryOverhead,
	CategoryContingency,
	CategoryOther,
}

// IsValidCategory returns true if the category is a known budget category.
func IsValidCategory(category string) bool {
	for _, c := range BudgetCategories {
		if c == category {
			return true
		}
	}
	return false
}

// Budget line statuses
const (
	BudgetLineActive = "ACTIVE"
	BudgetLineClosed = "CLOSED"
)

// Transaction types
const (
	TxTypeExpense    = "EXPENSE"
	TxTypeCommitment = "COMMITMENT"
	TxTypeAdjustment = "ADJUSTMENT"
	TxTypeRefund     = "REFUND"
)

// IsValidTxType returns true if the type is a known transaction type.
func IsValidTxType(txType string) bool {
	switch txType {
	case TxTypeExpense, TxTypeCommitment, TxTypeAdjustment, TxTypeRefund:
		return true
	}
	return false
}

// Transaction statuses
const (
	TxStatusPending  = "PENDING"
	TxStatusApproved = "APPROVED"
	TxStatusRejected = "REJECTED"
)

// Approval decisions
const (
	DecisionApproved = "APPROVED"
	DecisionRejected = "REJECTED"
)

// Approval entity types
const (
	EntityTypeProject       = "PROJECT"
	EntityTypeBudget        = "BUDGET"
	EntityTypePurchaseOrder = "PURCHASE_ORDER"
	EntityTypeTransaction   = "TRANSACTION"
)

// IsValidEntityType returns true if the type can be gated by an approval request.
func IsValidEntityType(entityType string) bool {
	switch entityType {
	case EntityTypeProject, EntityTypeBudget, EntityTypePurchaseOrder, EntityTypeTransaction:
		return true
	}
	return false
}

// Alert severities, ordered by utilization band.
const (
	SeverityWarning  = "WARNING"  // utilization >= 75%
	SeverityHigh     = "HIGH"     // utilization >= 90%
	SeverityCritical = "CRITICAL" // utilization >= 100%
)

// RiskLevelLow is reported by the forecast engine for lines below every
// alert band.
const RiskLevelLow = "LOW"

// DefaultAlertThresholdPercent is applied when a budget line is created
// without an explicit threshold.
const DefaultAlertThresholdPercent = 90
