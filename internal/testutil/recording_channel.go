package testutil

import (
	"context"
	"sync"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/notifier"
	"github.com/meterline/meterline/internal/types"
)

var _ notifier.Channel = (*RecordingChannel)(nil)

// RecordingChannel is a notifier channel that captures notifications instead
// of delivering them. FailNext makes the next Send report a delivery failure
// so dispatch error paths can be exercised.
type RecordingChannel struct {
	mu       sync.Mutex
	name     types.AlertChannel
	sent     []*notifier.Notification
	FailNext bool
}

func NewRecordingChannel(name types.AlertChannel) *RecordingChannel {
	return &RecordingChannel{
		name: name,
		sent: make([]*notifier.Notification, 0),
	}
}

func (c *RecordingChannel) Name() types.AlertChannel {
	return c.name
}

func (c *RecordingChannel) Send(_ context.Context, n *notifier.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailNext {
		c.FailNext = false
		return ierr.NewError("channel delivery failed").
			WithHint("Simulated delivery failure").
			Mark(ierr.ErrHTTPClient)
	}
	c.sent = append(c.sent, n)
	return nil
}

// Sent returns a snapshot of the delivered notifications.
func (c *RecordingChannel) Sent() []*notifier.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*notifier.Notification, len(c.sent))
	copy(out, c.sent)
	return out
}

// Clear drops the recorded notifications between tests.
func (c *RecordingChannel) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = c.sent[:0]
	c.FailNext = false
}
