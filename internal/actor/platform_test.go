package actor

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestNoopPlatform_RecordsPosts(t *testing.T) {
	p := &NoopPlatform{}
	id, err := p.Post(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty post id")
	}
	if len(p.Posts) != 1 || p.Posts[0] != "hello world" {
		t.Fatalf("expected post recorded, got %+v", p.Posts)
	}
	if p.Name() != "noop" {
		t.Fatalf("expected name noop, got %q", p.Name())
	}
}

type fakeDiscordSession struct {
	sent []string
}

func (f *fakeDiscordSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.sent = append(f.sent, content)
	return &discordgo.Message{ID: "msg-1", ChannelID: channelID, Content: content}, nil
}

func TestDiscordPlatform_PostSendsToBoundChannel(t *testing.T) {
	session := &fakeDiscordSession{}
	p := newDiscordPlatformWithSession(session, "channel-1")

	id, err := p.Post(context.Background(), "launch post")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if id != "msg-1" {
		t.Fatalf("expected returned message id, got %q", id)
	}
	if len(session.sent) != 1 || session.sent[0] != "launch post" {
		t.Fatalf("expected content sent to session, got %+v", session.sent)
	}
	if p.Name() != "discord" {
		t.Fatalf("expected name discord, got %q", p.Name())
	}
}

func TestNewDiscordPlatform_RejectsMissingToken(t *testing.T) {
	if _, err := NewDiscordPlatform("", "channel-1"); err == nil {
		t.Fatal("expected missing token to fail construction")
	}
}
