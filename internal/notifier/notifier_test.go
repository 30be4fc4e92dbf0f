package notifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/config"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/types"
)

type fakeChannel struct {
	name types.AlertChannel
	sent []*Notification
	err  error
}

func (f *fakeChannel) Name() types.AlertChannel { return f.name }

func (f *fakeChannel) Send(_ context.Context, n *Notification) error {
	f.sent = append(f.sent, n)
	return f.err
}

type NotifierSuite struct {
	suite.Suite
	email   *fakeChannel
	webhook *fakeChannel
	n       *Notifier
}

func TestNotifierSuite(t *testing.T) {
	suite.Run(t, new(NotifierSuite))
}

func (s *NotifierSuite) SetupTest() {
	log, err := logger.NewLogger(&config.Configuration{
		Logging: config.LoggingConfig{Level: types.LogLevelInfo},
	})
	s.Require().NoError(err)

	s.email = &fakeChannel{name: types.AlertChannelEmail}
	s.webhook = &fakeChannel{name: types.AlertChannelWebhook}
	s.n = New(log, s.email, s.webhook)
}

func (s *NotifierSuite) notification() *Notification {
	return &Notification{
		OrganisationID: "org_1",
		RuleID:         "rule_1",
		RuleName:       "usage_threshold",
		Title:          "Usage threshold exceeded",
		Message:        "api_calls reached 1500 against a threshold of 1000",
		TriggeredAt:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *NotifierSuite) TestDispatchRoutesToRequestedChannels() {
	err := s.n.Dispatch(context.Background(), []string{"email"}, s.notification())
	s.NoError(err)
	s.Len(s.email.sent, 1)
	s.Empty(s.webhook.sent)
}

func (s *NotifierSuite) TestDispatchFansOutToAllChannels() {
	err := s.n.Dispatch(context.Background(), []string{"email", "webhook"}, s.notification())
	s.NoError(err)
	s.Len(s.email.sent, 1)
	s.Len(s.webhook.sent, 1)
}

func (s *NotifierSuite) TestDispatchSkipsUnknownChannel() {
	err := s.n.Dispatch(context.Background(), []string{"pager"}, s.notification())
	s.NoError(err)
	s.Empty(s.email.sent)
}

func (s *NotifierSuite) TestDispatchAttemptsRemainingChannelsAfterFailure() {
	s.email.err = ierr.NewError("smtp down").Mark(ierr.ErrHTTPClient)

	err := s.n.Dispatch(context.Background(), []string{"email", "webhook"}, s.notification())
	s.Error(err)
	s.True(ierr.IsHTTPClient(err))
	// The webhook channel still got its delivery.
	s.Len(s.webhook.sent, 1)
}

func (s *NotifierSuite) TestDispatchWithNoChannelsIsNoOp() {
	err := s.n.Dispatch(context.Background(), nil, s.notification())
	s.NoError(err)
}
