package notifier

import (
	"context"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"
	svix "github.com/svix/svix-webhooks/go"
	"github.com/svix/svix-webhooks/go/models"

	"github.com/meterline/meterline/internal/config"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventTypeAlertTriggered is the Svix event type for fired alert rules
const EventTypeAlertTriggered = "alert.triggered"

// WebhookChannel delivers alerts to organisation endpoints through Svix.
// Each organisation maps to one Svix application keyed by its ID; endpoint
// management happens on the Svix side.
type WebhookChannel struct {
	client  *svix.Svix
	enabled bool
	logger  *logger.Logger
}

func NewWebhookChannel(cfg *config.Configuration, logger *logger.Logger) (*WebhookChannel, error) {
	if !cfg.Notify.Svix.Enabled {
		return &WebhookChannel{enabled: false, logger: logger}, nil
	}

	serverURL, err := url.Parse(cfg.Notify.Svix.BaseURL)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Invalid svix base URL").
			Mark(ierr.ErrValidation)
	}

	client, err := svix.New(cfg.Notify.Svix.AuthToken, &svix.SvixOptions{
		ServerUrl: serverURL,
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to create svix client").
			Mark(ierr.ErrSystem)
	}

	return &WebhookChannel{
		client:  client,
		enabled: true,
		logger:  logger,
	}, nil
}

func (c *WebhookChannel) Name() types.AlertChannel {
	return types.AlertChannelWebhook
}

func (c *WebhookChannel) Send(ctx context.Context, n *Notification) error {
	if !c.enabled || c.client == nil {
		return nil
	}

	appID, err := c.getOrCreateApplication(ctx, n.OrganisationID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(n)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrSystem)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ierr.WithError(err).Mark(ierr.ErrSystem)
	}

	_, err = c.client.Message.Create(ctx, appID, models.MessageIn{
		EventType: EventTypeAlertTriggered,
		Payload:   payload,
	}, &svix.MessageCreateOptions{})
	if err != nil {
		// An organisation that never registered an endpoint has no
		// application; nothing to deliver to.
		if strings.Contains(err.Error(), "application not found") {
			return nil
		}
		return ierr.WithError(err).
			WithHint("Failed to deliver alert webhook").
			WithReportableDetails(map[string]any{
				"organisation_id": n.OrganisationID,
				"rule_id":         n.RuleID,
			}).
			Mark(ierr.ErrHTTPClient)
	}

	c.logger.Debugw("alert webhook delivered",
		"organisation_id", n.OrganisationID,
		"rule_id", n.RuleID)
	return nil
}

// getOrCreateApplication resolves the Svix application for an organisation,
// creating it on first use
func (c *WebhookChannel) getOrCreateApplication(ctx context.Context, organisationID string) (string, error) {
	if _, err := c.client.Application.Get(ctx, organisationID); err == nil {
		return organisationID, nil
	}

	app, err := c.client.Application.Create(ctx, models.ApplicationIn{
		Name: organisationID,
		Uid:  &organisationID,
	}, &svix.ApplicationCreateOptions{})
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("Failed to create svix application").
			WithReportableDetails(map[string]any{"organisation_id": organisationID}).
			Mark(ierr.ErrHTTPClient)
	}
	return app.Id, nil
}
