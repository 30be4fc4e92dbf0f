package types

import (
	"fmt"
	"time"
)

// AlertType selects the detector an alert rule runs.
type AlertType string

const (
	AlertTypeUsageThreshold AlertType = "usage_threshold"
	AlertTypeUsageSpike     AlertType = "usage_spike"
	AlertTypeCostThreshold  AlertType = "cost_threshold"
	AlertTypeUnusualPattern AlertType = "unusual_pattern"
)

func (t AlertType) Validate() error {
	switch t {
	case AlertTypeUsageThreshold, AlertTypeUsageSpike, AlertTypeCostThreshold, AlertTypeUnusualPattern:
		return nil
	default:
		return fmt.Errorf("invalid alert type: %s", t)
	}
}

// AlertOperator compares an observed value against the rule threshold.
type AlertOperator string

const (
	AlertOperatorGT  AlertOperator = "gt"
	AlertOperatorGTE AlertOperator = "gte"
	AlertOperatorLT  AlertOperator = "lt"
	AlertOperatorLTE AlertOperator = "lte"
	AlertOperatorEQ  AlertOperator = "eq"
)

func (o AlertOperator) Validate() error {
	switch o {
	case AlertOperatorGT, AlertOperatorGTE, AlertOperatorLT, AlertOperatorLTE, AlertOperatorEQ:
		return nil
	default:
		return fmt.Errorf("invalid alert operator: %s", o)
	}
}

// AlertPeriod is the window a rule evaluates, ending at evaluation time.
type AlertPeriod string

const (
	AlertPeriodHour  AlertPeriod = "hour"
	AlertPeriodDay   AlertPeriod = "day"
	AlertPeriodWeek  AlertPeriod = "week"
	AlertPeriodMonth AlertPeriod = "month"
)

func (p AlertPeriod) Validate() error {
	switch p {
	case AlertPeriodHour, AlertPeriodDay, AlertPeriodWeek, AlertPeriodMonth:
		return nil
	default:
		return fmt.Errorf("invalid alert period: %s", p)
	}
}

// Duration returns the window length.
func (p AlertPeriod) Duration() time.Duration {
	switch p {
	case AlertPeriodHour:
		return time.Hour
	case AlertPeriodDay:
		return 24 * time.Hour
	case AlertPeriodWeek:
		return 7 * 24 * time.Hour
	case AlertPeriodMonth:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// AlertHistoryStatus tracks notification delivery for a fired alert.
type AlertHistoryStatus string

const (
	AlertHistoryStatusPending      AlertHistoryStatus = "pending"
	AlertHistoryStatusSent         AlertHistoryStatus = "sent"
	AlertHistoryStatusFailed       AlertHistoryStatus = "failed"
	AlertHistoryStatusAcknowledged AlertHistoryStatus = "acknowledged"
)

func (s AlertHistoryStatus) Validate() error {
	switch s {
	case AlertHistoryStatusPending, AlertHistoryStatusSent, AlertHistoryStatusFailed, AlertHistoryStatusAcknowledged:
		return nil
	default:
		return fmt.Errorf("invalid alert history status: %s", s)
	}
}

// AlertChannel is a notification destination.
type AlertChannel string

const (
	AlertChannelEmail   AlertChannel = "email"
	AlertChannelWebhook AlertChannel = "webhook"
)

func (c AlertChannel) Validate() error {
	switch c {
	case AlertChannelEmail, AlertChannelWebhook:
		return nil
	default:
		return fmt.Errorf("invalid alert channel: %s", c)
	}
}
