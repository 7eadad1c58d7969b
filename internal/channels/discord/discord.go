// Package discord implements the channels Client for Discord via the REST API.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Client delivers session prompts as Discord channel messages. Delivery is
// plain REST; no gateway connection is opened.
type Client struct {
	sess session
}

// Opts holds parameters for creating a Discord Client.
type Opts struct {
	BotToken string
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Client.
func New(opts Opts) (*Client, error) {
	if opts.Session != nil {
		return &Client{sess: opts.Session}, nil
	}
	if opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	s, err := discordgo.New("Bot " + opts.BotToken)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return &Client{sess: s}, nil
}

// SendMessage posts the message to the Discord channel.
func (c *Client) SendMessage(ctx context.Context, channelID, sessionID, message string) (map[string]interface{}, error) {
	msg, err := c.sess.ChannelMessageSend(channelID, message, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: send to %s: %w", channelID, err)
	}
	return map[string]interface{}{
		"platform":   "discord",
		"channel":    msg.ChannelID,
		"message_id": msg.ID,
		"session_id": sessionID,
	}, nil
}
