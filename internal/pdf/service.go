package pdf

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/pdf"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/httpclient"
	"github.com/meterline/meterline/internal/logger"
)

const invoiceTemplate = "invoice.html"

// Generator renders invoice documents. The conversion engine is an external
// capability reached over HTTP; this package owns the HTML it converts.
type Generator interface {
	RenderInvoicePdf(ctx context.Context, data *pdf.InvoiceData) ([]byte, error)
}

type service struct {
	cfg    config.PDFConfig
	client httpclient.Client
	logger *logger.Logger
}

// NewGenerator creates a new PDF generator
func NewGenerator(cfg *config.Configuration, client httpclient.Client, logger *logger.Logger) Generator {
	return &service{
		cfg:    cfg.PDF,
		client: client,
		logger: logger,
	}
}

func (s *service) RenderInvoicePdf(ctx context.Context, data *pdf.InvoiceData) ([]byte, error) {
	if !s.cfg.Enabled || s.cfg.RenderURL == "" {
		return nil, ierr.NewError("pdf rendering is not configured").
			WithHint("Set pdf.enabled and pdf.render_url").
			Mark(ierr.ErrInvalidOperation)
	}

	html, err := s.renderHTML(data)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Send(ctx, &httpclient.Request{
		Method: http.MethodPost,
		URL:    s.cfg.RenderURL,
		Headers: map[string]string{
			"Content-Type": "text/html",
			"Accept":       "application/pdf",
		},
		Body: html,
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to render invoice pdf").
			WithReportableDetails(map[string]any{"invoice_id": data.ID}).
			Mark(ierr.ErrHTTPClient)
	}

	return resp.Body, nil
}

// renderHTML fills the invoice template with preformatted values
func (s *service) renderHTML(data *pdf.InvoiceData) ([]byte, error) {
	path := invoiceTemplate
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrSystem)
		}
		path = filepath.Join(cwd, "assets", "pdf-templates", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Invoice template is missing").
			Mark(ierr.ErrSystem)
	}

	tmpl, err := template.New(invoiceTemplate).Parse(string(raw))
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Invoice template does not parse").
			Mark(ierr.ErrSystem)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, ierr.WithError(err).
			WithHint(fmt.Sprintf("Failed to render invoice %s", data.InvoiceNumber)).
			Mark(ierr.ErrSystem)
	}
	return buf.Bytes(), nil
}
