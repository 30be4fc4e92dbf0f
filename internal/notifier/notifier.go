package notifier

import (
	"context"
	"time"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/types"
)

// Notification is one alert delivery, channel-agnostic. The alert engine
// builds it once and the notifier fans it out to whichever channels the
// rule asked for.
type Notification struct {
	OrganisationID   string                 `json:"organisation_id"`
	OrganisationName string                 `json:"organisation_name"`
	RuleID           string                 `json:"rule_id"`
	RuleName         string                 `json:"rule_name"`
	Title            string                 `json:"title"`
	Message          string                 `json:"message"`
	TriggeredAt      time.Time              `json:"triggered_at"`
	Details          map[string]interface{} `json:"details,omitempty"`
}

// Channel delivers notifications over one transport
type Channel interface {
	Name() types.AlertChannel
	Send(ctx context.Context, n *Notification) error
}

// Notifier routes notifications to registered channels by name
type Notifier struct {
	channels map[types.AlertChannel]Channel
	logger   *logger.Logger
}

func New(logger *logger.Logger, channels ...Channel) *Notifier {
	byName := make(map[types.AlertChannel]Channel, len(channels))
	for _, ch := range channels {
		byName[ch.Name()] = ch
	}
	return &Notifier{
		channels: byName,
		logger:   logger,
	}
}

// Dispatch sends the notification to each named channel. Every channel is
// attempted even when an earlier one fails; the returned error lists the
// channels that did not deliver so the caller can mark the alert failed.
func (n *Notifier) Dispatch(ctx context.Context, channels []string, notification *Notification) error {
	var failed []string
	for _, name := range channels {
		ch, ok := n.channels[types.AlertChannel(name)]
		if !ok {
			n.logger.Warnw("skipping unknown notification channel",
				"channel", name,
				"rule_id", notification.RuleID)
			continue
		}
		if err := ch.Send(ctx, notification); err != nil {
			n.logger.Errorw("notification delivery failed",
				"channel", name,
				"rule_id", notification.RuleID,
				"organisation_id", notification.OrganisationID,
				"error", err)
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return ierr.NewError("notification delivery failed").
			WithHint("One or more notification channels did not deliver").
			WithReportableDetails(map[string]any{
				"rule_id":         notification.RuleID,
				"failed_channels": failed,
			}).
			Mark(ierr.ErrHTTPClient)
	}
	return nil
}
