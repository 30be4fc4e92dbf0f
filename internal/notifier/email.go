package notifier

import (
	"context"
	"fmt"

	"github.com/meterline/meterline/internal/domain/user"
	"github.com/meterline/meterline/internal/email"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/types"
)

const alertTemplate = "alert_notification.html"

// EmailChannel mails fired alerts to every admin user of the organisation
type EmailChannel struct {
	email    *email.Email
	userRepo user.Repository
	logger   *logger.Logger
}

func NewEmailChannel(emailService *email.Email, userRepo user.Repository, logger *logger.Logger) *EmailChannel {
	return &EmailChannel{
		email:    emailService,
		userRepo: userRepo,
		logger:   logger,
	}
}

func (c *EmailChannel) Name() types.AlertChannel {
	return types.AlertChannelEmail
}

func (c *EmailChannel) Send(ctx context.Context, n *Notification) error {
	users, err := c.userRepo.ListByOrganisation(ctx, n.OrganisationID)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		// An organisation without admin users has nowhere to deliver;
		// that is not a channel failure.
		c.logger.Warnw("no users to notify for alert",
			"organisation_id", n.OrganisationID,
			"rule_id", n.RuleID)
		return nil
	}

	data := map[string]interface{}{
		"alert_title":       n.Title,
		"alert_message":     n.Message,
		"rule_name":         n.RuleName,
		"organisation_name": n.OrganisationName,
		"triggered_at":      n.TriggeredAt.UTC().Format("2006-01-02 15:04:05 UTC"),
	}

	// A disabled transport reports success=false with a nil error; only a
	// real send error counts against the channel.
	var failures int
	for _, u := range users {
		if _, err := c.email.SendEmailWithTemplate(ctx, email.SendEmailWithTemplateRequest{
			ToAddress:    u.Email,
			Subject:      fmt.Sprintf("Alert: %s", n.Title),
			TemplatePath: alertTemplate,
			Data:         data,
		}); err != nil {
			failures++
		}
	}
	if failures == len(users) {
		return ierr.NewError("alert email delivery failed for all recipients").
			WithReportableDetails(map[string]any{
				"organisation_id": n.OrganisationID,
				"recipients":      len(users),
			}).
			Mark(ierr.ErrHTTPClient)
	}
	return nil
}
