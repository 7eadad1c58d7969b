package discord

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
)

// mockSession records ChannelMessageSend calls.
type mockSession struct {
	channel string
	content string
	err     error
}

func (m *mockSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.channel = channelID
	m.content = content
	return &discordgo.Message{ID: "m-1", ChannelID: channelID}, nil
}

func TestNew_RequiresToken(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Fatal("expected error for missing bot token")
	}
}

func TestSendMessage(t *testing.T) {
	sess := &mockSession{}
	client, err := New(Opts{Session: sess})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := client.SendMessage(context.Background(), "987", "s-1", "please respond")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if sess.channel != "987" || sess.content != "please respond" {
		t.Errorf("sent = %q %q", sess.channel, sess.content)
	}
	if result["platform"] != "discord" || result["message_id"] != "m-1" {
		t.Errorf("result = %v", result)
	}
}

func TestSendMessage_APIError(t *testing.T) {
	client, err := New(Opts{Session: &mockSession{err: errors.New("missing access")}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := client.SendMessage(context.Background(), "987", "s-1", "hi"); err == nil {
		t.Fatal("expected error from the Discord API")
	}
}
