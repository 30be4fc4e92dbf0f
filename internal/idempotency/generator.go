package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Scope represents the scope of idempotency. Keys are unique per scope so
// the same caller-supplied value cannot collide across operations.
type Scope string

const (
	// ScopeIngest covers caller-supplied event idempotency keys
	ScopeIngest Scope = "ingest"

	// ScopeInvoice covers period invoice generation per organisation
	ScopeInvoice Scope = "invoice"

	// ScopePayment covers payment order creation per invoice attempt
	ScopePayment Scope = "payment"

	// ScopeRefund covers refund issuance per payment
	ScopeRefund Scope = "refund"

	// ScopeWebhook covers gateway webhook event ids
	ScopeWebhook Scope = "webhook"
)

// Generator generates idempotency keys
type Generator struct{}

// NewGenerator creates a new idempotency key generator
func NewGenerator() *Generator {
	return &Generator{}
}

// GenerateKey generates an idempotency key from a scope and parameters
func (g *Generator) GenerateKey(scope Scope, params map[string]interface{}) string {
	// Sort params for consistent hashing
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(scope))
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(":%s=%v", k, params[k]))
	}

	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s-%s", scope, hex.EncodeToString(hash[:8])) // First 8 bytes for readability
}

// ValidateKey validates if an idempotency key matches expected parameters
func (g *Generator) ValidateKey(scope Scope, params map[string]interface{}, key string) bool {
	generated := g.GenerateKey(scope, params)
	return generated == key
}
