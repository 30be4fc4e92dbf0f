package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/payment"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/security"
	razorpay "github.com/razorpay/razorpay-go"
)

// encPrefix marks a config value stored as AES-GCM ciphertext. The key
// utility at the repo root produces values in this form.
const encPrefix = "enc:"

// Client implements the payment.Gateway port over the Razorpay SDK.
type Client struct {
	sdk           *razorpay.Client
	webhookSecret string
	logger        *logger.Logger
}

// NewClient decrypts the configured credentials and builds the SDK client.
func NewClient(
	cfg *config.Configuration,
	encryptionService security.EncryptionService,
	logger *logger.Logger,
) (*Client, error) {
	keyID, err := resolveSecret(cfg.Payment.KeyID, encryptionService)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to decrypt gateway key id").
			Mark(ierr.ErrSystem)
	}
	keySecret, err := resolveSecret(cfg.Payment.KeySecret, encryptionService)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to decrypt gateway key secret").
			Mark(ierr.ErrSystem)
	}
	webhookSecret, err := resolveSecret(cfg.Payment.WebhookSecret, encryptionService)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to decrypt gateway webhook secret").
			Mark(ierr.ErrSystem)
	}

	if keyID == "" || keySecret == "" {
		return nil, ierr.NewError("missing razorpay credentials").
			WithHint("Configure payment.key_id and payment.key_secret").
			Mark(ierr.ErrValidation)
	}

	if webhookSecret == "" {
		// Razorpay signs webhooks with the webhook secret when one is set
		// on the dashboard; the API secret is the documented fallback.
		logger.Warnw("webhook secret not configured, falling back to API key secret")
		webhookSecret = keySecret
	}

	return &Client{
		sdk:           razorpay.NewClient(keyID, keySecret),
		webhookSecret: webhookSecret,
		logger:        logger,
	}, nil
}

// resolveSecret returns the plaintext of a config credential. Values carrying
// the enc: prefix are ciphertext; anything else is used as-is.
func resolveSecret(value string, enc security.EncryptionService) (string, error) {
	if !strings.HasPrefix(value, encPrefix) {
		return value, nil
	}
	return enc.Decrypt(strings.TrimPrefix(value, encPrefix))
}

func (c *Client) Name() string {
	return "razorpay"
}

// CreateOrder opens a gateway order for the given amount.
func (c *Client) CreateOrder(ctx context.Context, req *payment.GatewayOrderRequest) (*payment.GatewayOrder, error) {
	data := map[string]interface{}{
		"amount":   req.AmountMinor,
		"currency": req.Currency,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		data["notes"] = req.Notes
	}

	order, err := c.sdk.Order.Create(data, nil)
	if err != nil {
		c.logger.Errorw("failed to create razorpay order",
			"error", err,
			"receipt", req.Receipt,
			"amount_minor", req.AmountMinor,
			"currency", req.Currency)
		return nil, ierr.WithError(err).
			WithHint("Unable to create order with the payment gateway").
			WithReportableDetails(map[string]interface{}{
				"receipt": req.Receipt,
			}).
			Mark(ierr.ErrHTTPClient)
	}

	parsed := parseOrder(order)
	c.logger.Infow("created razorpay order",
		"gateway_order_id", parsed.ID,
		"receipt", parsed.Receipt,
		"amount_minor", parsed.AmountMinor)
	return parsed, nil
}

// FetchOrder retrieves an order from the gateway.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (*payment.GatewayOrder, error) {
	order, err := c.sdk.Order.Fetch(orderID, nil, nil)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Unable to fetch order from the payment gateway").
			WithReportableDetails(map[string]interface{}{
				"gateway_order_id": orderID,
			}).
			Mark(ierr.ErrHTTPClient)
	}
	return parseOrder(order), nil
}

// CreateRefund asks the gateway to return amountMinor against a captured
// payment. Settlement arrives later on the refund webhook.
func (c *Client) CreateRefund(ctx context.Context, gatewayPaymentID string, amountMinor int64, notes map[string]interface{}) (*payment.GatewayRefund, error) {
	data := map[string]interface{}{}
	if len(notes) > 0 {
		data["notes"] = notes
	}

	refund, err := c.sdk.Payment.Refund(gatewayPaymentID, int(amountMinor), data, nil)
	if err != nil {
		c.logger.Errorw("failed to create razorpay refund",
			"error", err,
			"gateway_payment_id", gatewayPaymentID,
			"amount_minor", amountMinor)
		return nil, ierr.WithError(err).
			WithHint("Unable to create refund with the payment gateway").
			WithReportableDetails(map[string]interface{}{
				"gateway_payment_id": gatewayPaymentID,
			}).
			Mark(ierr.ErrHTTPClient)
	}

	parsed := &payment.GatewayRefund{
		ID:          getString(refund, "id"),
		PaymentID:   getString(refund, "payment_id"),
		AmountMinor: getInt64(refund, "amount"),
		Status:      getString(refund, "status"),
	}
	c.logger.Infow("created razorpay refund",
		"gateway_refund_id", parsed.ID,
		"gateway_payment_id", parsed.PaymentID,
		"amount_minor", parsed.AmountMinor)
	return parsed, nil
}

// FetchPayments lists gateway payments created inside the window. Used by
// reconciliation to compare against durable payment rows.
func (c *Client) FetchPayments(ctx context.Context, from, to time.Time, limit int) ([]*payment.GatewayPaymentRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	resp, err := c.sdk.Payment.All(map[string]interface{}{
		"from":  from.Unix(),
		"to":    to.Unix(),
		"count": limit,
	}, nil)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Unable to list payments from the payment gateway").
			Mark(ierr.ErrHTTPClient)
	}

	items, _ := resp["items"].([]interface{})
	records := make([]*payment.GatewayPaymentRecord, 0, len(items))
	for _, item := range items {
		entity, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		records = append(records, &payment.GatewayPaymentRecord{
			ID:          getString(entity, "id"),
			OrderID:     getString(entity, "order_id"),
			Status:      getString(entity, "status"),
			AmountMinor: getInt64(entity, "amount"),
			Currency:    getString(entity, "currency"),
			Method:      getString(entity, "method"),
			CreatedAt:   time.Unix(getInt64(entity, "created_at"), 0).UTC(),
		})
	}

	return records, nil
}

// VerifyWebhookSignature checks the HMAC-SHA256 hex signature over the raw
// body. Constant-time compare; a mismatch must not leak where it diverged.
func (c *Client) VerifyWebhookSignature(payload []byte, signature string) error {
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ierr.NewError("webhook signature verification failed").
			WithHint("Invalid webhook signature").
			Mark(ierr.ErrSignatureVerification)
	}
	return nil
}

func parseOrder(order map[string]interface{}) *payment.GatewayOrder {
	return &payment.GatewayOrder{
		ID:          getString(order, "id"),
		AmountMinor: getInt64(order, "amount"),
		Currency:    getString(order, "currency"),
		Receipt:     getString(order, "receipt"),
		Status:      getString(order, "status"),
	}
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// getInt64 tolerates the JSON number types the SDK hands back.
func getInt64(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
