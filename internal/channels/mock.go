package channels

import (
	"context"
	"sync"
)

// SentMessage records one SendMessage call on the mock client.
type SentMessage struct {
	ChannelID string
	SessionID string
	Message   string
}

// MockClient is an in-memory Client for tests. It records every send and
// can be configured to fail.
type MockClient struct {
	mu      sync.Mutex
	sent    []SentMessage
	FailErr error                  // when set, SendMessage returns this error
	Result  map[string]interface{} // returned on success; defaults to {"delivered": true}
}

// NewMockClient creates a MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// SendMessage records the call and returns the configured result or error.
func (m *MockClient) SendMessage(ctx context.Context, channelID, sessionID, message string) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailErr != nil {
		return nil, m.FailErr
	}
	m.sent = append(m.sent, SentMessage{ChannelID: channelID, SessionID: sessionID, Message: message})
	result := m.Result
	if result == nil {
		result = map[string]interface{}{"delivered": true}
	}
	return result, nil
}

// Sent returns a copy of the recorded sends.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
