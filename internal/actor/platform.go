package actor

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/veridianlabs/storycore/internal/classify"
)

// SocialPlatform is the contract a stock skill posts content through. A
// narrative producing text for one platform is agnostic to which platform
// actually receives it; platform-specific posting mechanics live entirely
// behind this interface.
type SocialPlatform interface {
	Post(ctx context.Context, content string) (postID string, err error)
	Name() string
}

// NoopPlatform records posts in memory instead of delivering them,
// matching this module's no-op implementation for tests and dry runs.
type NoopPlatform struct {
	Posts []string
}

// Post appends content to Posts and returns a deterministic synthetic ID.
func (p *NoopPlatform) Post(ctx context.Context, content string) (string, error) {
	p.Posts = append(p.Posts, content)
	return fmt.Sprintf("noop-%d", len(p.Posts)), nil
}

// Name identifies this platform as "noop".
func (p *NoopPlatform) Name() string { return "noop" }

// discordSession is the subset of *discordgo.Session this platform calls,
// narrowed to a mockable interface in the driver corpus' own style.
type discordSession interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordPlatform posts narrative output to a fixed Discord channel.
type DiscordPlatform struct {
	session   discordSession
	channelID string
}

// NewDiscordPlatform opens a bot session for token and binds it to channelID.
func NewDiscordPlatform(token, channelID string) (*DiscordPlatform, error) {
	if token == "" {
		return nil, classify.New(classify.KindConfiguration, "discord platform requires a bot token")
	}
	if channelID == "" {
		return nil, classify.New(classify.KindConfiguration, "discord platform requires a channel id")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, classify.Wrap(classify.KindConfiguration, "create discord session", err)
	}
	return &DiscordPlatform{session: session, channelID: channelID}, nil
}

// newDiscordPlatformWithSession is the test seam, injecting a fake session.
func newDiscordPlatformWithSession(session discordSession, channelID string) *DiscordPlatform {
	return &DiscordPlatform{session: session, channelID: channelID}
}

// Post sends content as a plain message to the bound channel.
func (d *DiscordPlatform) Post(ctx context.Context, content string) (string, error) {
	msg, err := d.session.ChannelMessageSend(d.channelID, content)
	if err != nil {
		return "", classify.Wrap(classify.KindToolExecutionFailed, "discord post failed", err)
	}
	return msg.ID, nil
}

// Name identifies this platform as "discord".
func (d *DiscordPlatform) Name() string { return "discord" }
