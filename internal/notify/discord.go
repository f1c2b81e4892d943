package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Discord sends nudges to a text channel over the REST API. The gateway
// websocket is never opened since nothing is received.
type Discord struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

var _ Notifier = (*Discord)(nil)

// NewDiscord creates a Discord notifier for a bot token.
func NewDiscord(token, channelID string, logger *zap.Logger) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &Discord{session: session, channelID: channelID, logger: logger}, nil
}

func (d *Discord) Channel() string { return "discord" }

func (d *Discord) Notify(ctx context.Context, n *Notification) error {
	msg, err := d.session.ChannelMessageSend(d.channelID, n.Text(), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	d.logger.Debug("discord nudge sent", zap.String("channel", d.channelID), zap.String("message", msg.ID))
	return nil
}

func (d *Discord) Close() error { return nil }
