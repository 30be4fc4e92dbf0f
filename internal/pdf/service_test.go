package pdf

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/pdf"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/httpclient"
	"github.com/meterline/meterline/internal/logger"
)

type captureClient struct {
	lastRequest *httpclient.Request
	response    *httpclient.Response
	err         error
}

func (c *captureClient) Send(_ context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	c.lastRequest = req
	if c.err != nil {
		return nil, c.err
	}
	return c.response, nil
}

func writeTestTemplate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	tmplDir := filepath.Join(dir, "assets", "pdf-templates")
	require.NoError(t, os.MkdirAll(tmplDir, 0o755))
	tmpl := `<html><body>{{.InvoiceNumber}} {{.OrganisationName}} total {{.Total}} {{.Currency}}{{range .LineItems}} line:{{.Description}}{{end}}</body></html>`
	require.NoError(t, os.WriteFile(filepath.Join(tmplDir, "invoice.html"), []byte(tmpl), 0o644))
	t.Chdir(dir)
}

func testInvoiceData() *pdf.InvoiceData {
	return &pdf.InvoiceData{
		ID:               "inv_123",
		InvoiceNumber:    "INV-202503-0001",
		Status:           "finalized",
		OrganisationName: "Acme",
		Currency:         "INR",
		PeriodStart:      pdf.CustomTime{Time: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		PeriodEnd:        pdf.CustomTime{Time: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)},
		Subtotal:         "1000.00",
		Tax:              "180.00",
		Total:            "1180.00",
		LineItems: []pdf.LineItemData{
			{LineNumber: 1, Description: "api_calls (call)", Quantity: "1000", UnitPrice: "1.00", Total: "1000.00"},
		},
	}
}

func TestRenderInvoicePdf(t *testing.T) {
	writeTestTemplate(t)

	client := &captureClient{
		response: &httpclient.Response{StatusCode: http.StatusOK, Body: []byte("%PDF-1.7 mock")},
	}
	gen := NewGenerator(&config.Configuration{
		PDF: config.PDFConfig{Enabled: true, RenderURL: "https://render.internal/pdf"},
	}, client, logger.L)

	out, err := gen.RenderInvoicePdf(context.Background(), testInvoiceData())
	assert.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7 mock"), out)

	require.NotNil(t, client.lastRequest)
	assert.Equal(t, http.MethodPost, client.lastRequest.Method)
	assert.Equal(t, "https://render.internal/pdf", client.lastRequest.URL)

	html := string(client.lastRequest.Body)
	assert.True(t, strings.Contains(html, "INV-202503-0001"))
	assert.True(t, strings.Contains(html, "Acme"))
	assert.True(t, strings.Contains(html, "line:api_calls (call)"))
}

func TestRenderInvoicePdfDisabled(t *testing.T) {
	gen := NewGenerator(&config.Configuration{}, &captureClient{}, logger.L)

	out, err := gen.RenderInvoicePdf(context.Background(), testInvoiceData())
	assert.Error(t, err)
	assert.True(t, ierr.IsInvalidOperation(err))
	assert.Nil(t, out)
}

func TestRenderInvoicePdfTransportError(t *testing.T) {
	writeTestTemplate(t)

	client := &captureClient{err: httpclient.NewError(http.StatusBadGateway, []byte("upstream down"))}
	gen := NewGenerator(&config.Configuration{
		PDF: config.PDFConfig{Enabled: true, RenderURL: "https://render.internal/pdf"},
	}, client, logger.L)

	out, err := gen.RenderInvoicePdf(context.Background(), testInvoiceData())
	assert.Error(t, err)
	assert.Nil(t, out)
}
