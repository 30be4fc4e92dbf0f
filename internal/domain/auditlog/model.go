package auditlog

import (
	"github.com/meterline/meterline/internal/types"
)

// AuditLog is an append-only record of a state-changing action. Financial
// transitions write their audit row in the same transaction as the change.
type AuditLog struct {
	ID         string `db:"id" json:"id"`
	EntityType string `db:"entity_type" json:"entity_type"`
	EntityID   string `db:"entity_id" json:"entity_id"`

	// Actor is the admin user, system job or gateway that made the change
	Actor  string `db:"actor" json:"actor"`
	Action string `db:"action" json:"action"`

	// Before and After snapshot the mutated fields as JSON
	Before types.Metadata `db:"before" json:"before,omitempty"`
	After  types.Metadata `db:"after" json:"after,omitempty"`

	IP        *string `db:"ip" json:"ip,omitempty"`
	UserAgent *string `db:"user_agent" json:"user_agent,omitempty"`

	types.BaseModel
}

// New creates an audit row for an action on an entity
func New(entityType, entityID, actor, action string) *AuditLog {
	return &AuditLog{
		ID:         types.GenerateUUIDWithPrefix(types.UUID_PREFIX_AUDIT_LOG),
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      actor,
		Action:     action,
	}
}

// WithChange attaches before/after snapshots
func (a *AuditLog) WithChange(before, after types.Metadata) *AuditLog {
	a.Before = before
	a.After = after
	return a
}

// Common entity types and actions
const (
	EntityInvoice      = "invoice"
	EntityPayment      = "payment"
	EntityRefund       = "refund"
	EntityOrganisation = "organisation"
	EntityProject      = "project"
	EntityPricingRule  = "pricing_rule"
	EntityAlertRule    = "alert_rule"
	EntityEmail        = "email"

	ActionCreate   = "create"
	ActionUpdate   = "update"
	ActionDelete   = "delete"
	ActionGenerate = "generate"
	ActionFinalize = "finalize"
	ActionVoid     = "void"
	ActionSent     = "email.sent"
)
