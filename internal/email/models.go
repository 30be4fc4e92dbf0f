package email

// SendEmailRequest represents a request to send a plain text email
type SendEmailRequest struct {
	FromAddress string `json:"from_address" validate:"omitempty,email"`
	ToAddress   string `json:"to_address" validate:"required,email"`
	Subject     string `json:"subject" validate:"required"`
	Text        string `json:"text" validate:"required"`
}

// SendEmailResponse represents the response from sending an email
type SendEmailResponse struct {
	MessageID string
	Success   bool
	Error     string
}

// SendEmailWithTemplateRequest sends an HTML template with {{placeholder}}
// substitution. Templates live under assets/email-templates; the billing
// side effects (invoice sent, reminders, receipts) all go through this.
type SendEmailWithTemplateRequest struct {
	FromAddress  string                 `json:"from_address" validate:"omitempty,email"`
	ToAddress    string                 `json:"to_address" validate:"required,email"`
	Subject      string                 `json:"subject" validate:"required"`
	TemplatePath string                 `json:"template_path" validate:"required"`
	Data         map[string]interface{} `json:"data" validate:"omitempty"`
}

// SendEmailWithTemplateResponse represents the response from sending a templated email
type SendEmailWithTemplateResponse struct {
	MessageID string
	Success   bool
	Error     string
}
