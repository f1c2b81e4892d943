package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Slack posts nudges to a channel with a bot token.
type Slack struct {
	client    *slack.Client
	channelID string
	logger    *zap.Logger
}

var _ Notifier = (*Slack)(nil)

// NewSlack creates a Slack notifier. apiURL overrides the Web API base URL
// and is empty in production.
func NewSlack(botToken, channelID, apiURL string, logger *zap.Logger) *Slack {
	var opts []slack.Option
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &Slack{
		client:    slack.New(botToken, opts...),
		channelID: channelID,
		logger:    logger,
	}
}

func (s *Slack) Channel() string { return "slack" }

func (s *Slack) Notify(ctx context.Context, n *Notification) error {
	_, ts, err := s.client.PostMessageContext(ctx, s.channelID,
		slack.MsgOptionText(n.Text(), false),
		slack.MsgOptionUsername("Nudge"),
		slack.MsgOptionIconEmoji(":herb:"),
	)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	s.logger.Debug("slack nudge sent", zap.String("channel", s.channelID), zap.String("ts", ts))
	return nil
}

func (s *Slack) Close() error { return nil }
