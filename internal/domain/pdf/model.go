package pdf

import (
	"encoding/json"
	"time"
)

// InvoiceData is the data model handed to the invoice template. Monetary
// fields arrive preformatted so the template never does arithmetic.
type InvoiceData struct {
	ID               string     `json:"id"`
	InvoiceNumber    string     `json:"invoice_number"`
	Status           string     `json:"status"`
	OrganisationName string     `json:"organisation_name"`
	Currency         string     `json:"currency"`
	PeriodStart      CustomTime `json:"period_start"`
	PeriodEnd        CustomTime `json:"period_end"`
	IssuedAt         CustomTime `json:"issued_at,omitempty"`
	DueDate          CustomTime `json:"due_date"`
	Subtotal         string     `json:"subtotal"`
	Tax              string     `json:"tax"`
	Total            string     `json:"total"`

	LineItems []LineItemData `json:"line_items"`
}

// LineItemData is one invoice line as rendered in the document
type LineItemData struct {
	LineNumber  int    `json:"line_number"`
	Description string `json:"description"`
	MetricName  string `json:"metric_name"`
	Unit        string `json:"unit"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Total       string `json:"total"`
}

// CustomTime renders as a plain date in templates and JSON
type CustomTime struct {
	time.Time
}

func (ct CustomTime) String() string {
	return ct.Format("02 Jan 2006")
}

func (ct CustomTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(ct.Format("2006-01-02"))
}
