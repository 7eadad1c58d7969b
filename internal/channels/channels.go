// Package channels delivers session prompts to external channels (a
// channels REST service, Slack, or Discord) behind a common interface.
package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is the interface that channel implementations must satisfy. Send
// is outbound-only: responses come back to the sessions service over its
// HTTP webhook, never through this interface.
type Client interface {
	// SendMessage delivers a message to a channel on behalf of a session.
	// The returned map is the platform's delivery detail, passed through
	// to the API caller.
	SendMessage(ctx context.Context, channelID, sessionID, message string) (map[string]interface{}, error)
}

// defaultTimeout bounds a single delivery request for the REST client.
const defaultTimeout = 10 * time.Second

// RESTClient posts messages to an external channels API.
type RESTClient struct {
	baseURL     string
	responseURL string
	httpc       *http.Client
}

// RESTClientOpts holds parameters for creating a RESTClient.
type RESTClientOpts struct {
	BaseURL     string // channels API base, e.g. http://channels:9000
	ResponseURL string // webhook URL the channel posts human responses to
	HTTPClient  *http.Client
}

// NewRESTClient creates a RESTClient.
func NewRESTClient(opts RESTClientOpts) (*RESTClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("channels: base URL is required")
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultTimeout}
	}
	return &RESTClient{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		responseURL: opts.ResponseURL,
		httpc:       httpc,
	}, nil
}

// SendMessage posts the message to the channels API, carrying the webhook
// URL the channel should deliver the human response to.
func (c *RESTClient) SendMessage(ctx context.Context, channelID, sessionID, message string) (map[string]interface{}, error) {
	payload := map[string]interface{}{
		"channel_id":   channelID,
		"session_id":   sessionID,
		"message":      message,
		"response_url": c.responseURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("channels: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/channel/message", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("channels: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("channels: send to %s: %w", channelID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("channels: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("channels: send to %s: status %d: %s", channelID, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var result map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("channels: decode response: %w", err)
		}
	}
	if result == nil {
		result = map[string]interface{}{}
	}
	return result, nil
}
