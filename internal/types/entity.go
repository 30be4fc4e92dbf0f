package types

// EntityType tags idempotency rows and audit logs with the kind of entity
// they refer to.
type EntityType string

const (
	EntityTypeEvent        EntityType = "event"
	EntityTypeOrganisation EntityType = "organisation"
	EntityTypeProject      EntityType = "project"
	EntityTypeInvoice      EntityType = "invoice"
	EntityTypePayment      EntityType = "payment"
	EntityTypeRefund       EntityType = "refund"
	EntityTypeAlertRule    EntityType = "alert_rule"
	EntityTypeExchangeRate EntityType = "exchange_rate"
	EntityTypeUser         EntityType = "user"
)

// AuditAction names the mutation recorded in an audit log row.
type AuditAction string

const (
	AuditActionCreate        AuditAction = "create"
	AuditActionUpdate        AuditAction = "update"
	AuditActionDelete        AuditAction = "delete"
	AuditActionFinalize      AuditAction = "finalize"
	AuditActionVoid          AuditAction = "void"
	AuditActionStatusChange  AuditAction = "status_change"
	AuditActionKeyRotation   AuditAction = "key_rotation"
	AuditActionEmailSent     AuditAction = "email_sent"
	AuditActionPaymentRetry  AuditAction = "payment_retry"
	AuditActionRefundCreated AuditAction = "refund_created"
)
