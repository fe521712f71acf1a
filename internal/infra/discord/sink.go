package discord

import (
	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"

	"github.com/ayu3b/beatbox/internal/app/notify"
)

// Embed colors per severity.
const (
	colorInfo    = 0x3498db
	colorSuccess = 0x2ecc71
	colorWarning = 0xf1c40f
	colorError   = 0xe74c3c
)

// EmbedSink posts notices to their target text channel as embeds. It
// satisfies notify.Sink.
type EmbedSink struct {
	session *discordgo.Session
}

// NewEmbedSink creates a sink bound to a gateway session.
func NewEmbedSink(session *discordgo.Session) *EmbedSink {
	return &EmbedSink{session: session}
}

// Send posts the notice. Notices without a target channel are dropped
// silently; the core emits them without knowing where we can post.
func (s *EmbedSink) Send(n notify.Notice) error {
	if n.ChannelID == "" {
		return nil
	}
	_, err := s.session.ChannelMessageSendEmbed(n.ChannelID, buildEmbed(n))
	return errors.Wrap(err, "sending notice embed")
}

// buildEmbed renders a semantic notice as a Discord embed.
func buildEmbed(n notify.Notice) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Body,
		Color:       severityColor(n.Severity),
	}
	for _, f := range n.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  f.Name,
			Value: f.Value,
		})
	}
	return embed
}

func severityColor(s notify.Severity) int {
	switch s {
	case notify.SeveritySuccess:
		return colorSuccess
	case notify.SeverityWarning:
		return colorWarning
	case notify.SeverityError:
		return colorError
	default:
		return colorInfo
	}
}
