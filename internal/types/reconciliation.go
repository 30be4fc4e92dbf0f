package types

import "fmt"

// ReconciliationScope names which pair of sources a run compared.
type ReconciliationScope string

const (
	ReconciliationScopeEvents     ReconciliationScope = "events"
	ReconciliationScopePayments   ReconciliationScope = "payments"
	ReconciliationScopeAggregates ReconciliationScope = "aggregates"
)

func (s ReconciliationScope) Validate() error {
	switch s {
	case ReconciliationScopeEvents, ReconciliationScopePayments, ReconciliationScopeAggregates:
		return nil
	default:
		return fmt.Errorf("invalid reconciliation scope: %s", s)
	}
}

// ReconciliationStatus is the outcome of a run.
type ReconciliationStatus string

const (
	ReconciliationStatusClean        ReconciliationStatus = "clean"
	ReconciliationStatusDiscrepant   ReconciliationStatus = "discrepant"
	ReconciliationStatusUnreconciled ReconciliationStatus = "unreconciled"
	ReconciliationStatusFailed       ReconciliationStatus = "failed"
)
