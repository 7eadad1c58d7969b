// Package slack implements the channels Client for Slack via the Web API.
package slack

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Client delivers session prompts as Slack messages.
type Client struct {
	api slackClient
}

// Opts holds parameters for creating a Slack Client.
type Opts struct {
	BotToken string // xoxb-... Slack bot token
	// For testing: inject a mock client instead of the real Slack API.
	API slackClient
}

// New creates a Slack Client.
func New(opts Opts) (*Client, error) {
	if opts.API != nil {
		return &Client{api: opts.API}, nil
	}
	if opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	return &Client{api: slackapi.New(opts.BotToken)}, nil
}

// SendMessage posts the message to the Slack channel. The session ID rides
// along in the message metadata footer so responders can correlate.
func (c *Client) SendMessage(ctx context.Context, channelID, sessionID, message string) (map[string]interface{}, error) {
	channel, ts, err := c.api.PostMessageContext(ctx, channelID,
		slackapi.MsgOptionText(message, false),
		slackapi.MsgOptionMetadata(slackapi.SlackMetadata{
			EventType:    "parley_session",
			EventPayload: map[string]interface{}{"session_id": sessionID},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("slack: post to %s: %w", channelID, err)
	}
	return map[string]interface{}{
		"platform":   "slack",
		"channel":    channel,
		"timestamp":  ts,
		"session_id": sessionID,
	}, nil
}
