package types

import (
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/teris-io/shortid"
)

// GenerateUUID returns a k-sortable unique identifier
func GenerateUUID() string {
	return ulid.Make().String()
}

// GenerateUUIDWithPrefix returns a k-sortable unique identifier
// with a prefix ex inv_0ujsswThIGTUYm2K8FjOOfXtY1K
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return fmt.Sprintf("%s_%s", prefix, GenerateUUID())
}

var (
	sidGenerator *shortid.Shortid
	once         sync.Once
)

func initializeSID() {
	var err error
	sidGenerator, err = shortid.New(1, shortid.DefaultABC, 2342)
	if err != nil {
		panic("failed to initialize shortid generator: " + err.Error())
	}
}

// GenerateShortIDWithPrefix returns a short ID with a prefix.
// Total length is capped at 12 characters, e.g., `IN-XYZ12A8Q`.
func GenerateShortIDWithPrefix(prefix string) string {
	once.Do(initializeSID)

	id, err := sidGenerator.Generate()
	if err != nil {
		return ""
	}
	id = strings.ReplaceAll(id, "-", "")

	availableLen := 12 - len(prefix)
	if availableLen <= 0 {
		return ""
	}

	if len(id) > availableLen {
		id = id[:availableLen]
	}

	return strings.ToUpper(fmt.Sprintf("%s%s", prefix, id))
}

const (
	// Prefixes for all domains and entities

	UUID_PREFIX_EVENT             = "event"
	UUID_PREFIX_ORGANISATION      = "org"
	UUID_PREFIX_PROJECT           = "proj"
	UUID_PREFIX_AGGREGATE         = "agg"
	UUID_PREFIX_PRICING_RULE      = "rule"
	UUID_PREFIX_MINIMUM_CHARGE    = "minrule"
	UUID_PREFIX_BILLING_CONFIG    = "bcfg"
	UUID_PREFIX_INVOICE           = "inv"
	UUID_PREFIX_INVOICE_LINE_ITEM = "inv_line"
	UUID_PREFIX_PAYMENT           = "pay"
	UUID_PREFIX_REFUND            = "ref"
	UUID_PREFIX_EXCHANGE_RATE     = "fxr"
	UUID_PREFIX_ALERT_RULE        = "alert"
	UUID_PREFIX_ALERT_HISTORY     = "alerthist"
	UUID_PREFIX_AUDIT_LOG         = "audit"
	UUID_PREFIX_RECONCILIATION    = "recon"
	UUID_PREFIX_USER              = "user"
	UUID_PREFIX_REQUEST           = "req"
	UUID_PREFIX_WEBHOOK_EVENT     = "webhook"
	UUID_PREFIX_IDEMPOTENCY       = "idem"
	UUID_PREFIX_MIGRATION_RUN     = "migr"
)
