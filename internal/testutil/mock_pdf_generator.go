package testutil

import (
	"context"

	domain "github.com/meterline/meterline/internal/domain/pdf"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/pdf"
	"github.com/stretchr/testify/mock"
)

var _ pdf.Generator = (*MockPDFGenerator)(nil)

type MockPDFGenerator struct {
	logger *logger.Logger
	mock.Mock
}

// RenderInvoicePdf implements pdf.Generator.
func (m *MockPDFGenerator) RenderInvoicePdf(ctx context.Context, data *domain.InvoiceData) ([]byte, error) {
	args := m.Called(ctx, data)
	return args.Get(0).([]byte), args.Error(1)
}

func NewMockPDFGenerator(logger *logger.Logger) pdf.Generator {
	return &MockPDFGenerator{
		logger: logger,
	}
}
