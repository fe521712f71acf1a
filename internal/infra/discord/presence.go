package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"
	zlog "github.com/rs/zerolog/log"
)

// IsAlone reports whether the bot sits in a voice channel with no
// other users. It satisfies sweep.Presence. Unknown state counts as
// not alone so the sweep never disconnects on stale data.
func (b *Bot) IsAlone(guildID string) bool {
	vt, ok := b.voices.voice(guildID)
	if !ok || !vt.IsConnected() {
		return false
	}
	channelID := vt.ChannelID()
	if channelID == "" {
		return false
	}

	g, err := b.session.State.Guild(guildID)
	if err != nil {
		return false
	}
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		if b.session.State.User != nil && vs.UserID == b.session.State.User.ID {
			continue
		}
		return false
	}
	return true
}

// onVoiceStateUpdate maintains the alone timers. The actual disconnect
// happens later in the sweep, after the grace period and a re-check.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	if s.State.User != nil && e.UserID == s.State.User.ID {
		return
	}
	vt, ok := b.voices.voice(e.GuildID)
	if !ok || !vt.IsConnected() {
		return
	}

	if b.IsAlone(e.GuildID) {
		b.deps.Store.MarkAlone(e.GuildID)
		b.scheduleAloneCheck(e.GuildID)
		zlog.Debug().Str("guildID", e.GuildID).Msg("discord: alone in voice channel, timer started")
	} else {
		b.deps.Store.ClearAlone(e.GuildID)
	}
}

// scheduleAloneCheck waits out the grace period and disconnects if the
// bot is still alone. The periodic sweep enforces the same rule, this
// path just covers it faster; both re-check live state before acting.
func (b *Bot) scheduleAloneCheck(guildID string) {
	b.aloneMu.Lock()
	if b.alonePending[guildID] {
		b.aloneMu.Unlock()
		return
	}
	b.alonePending[guildID] = true
	b.aloneMu.Unlock()

	go func() {
		time.Sleep(b.deps.AloneGrace)

		b.aloneMu.Lock()
		delete(b.alonePending, guildID)
		b.aloneMu.Unlock()

		// The mark is cleared when someone joins or playback starts;
		// gone means nothing to do.
		if _, ok := b.deps.Store.AloneSince(guildID); !ok {
			return
		}
		if !b.IsAlone(guildID) {
			b.deps.Store.ClearAlone(guildID)
			return
		}
		if _, err := b.deps.Engine.Disconnect(guildID); err != nil {
			zlog.Debug().Err(err).Str("guildID", guildID).Msg("discord: alone disconnect failed")
		} else {
			zlog.Info().Str("guildID", guildID).Msg("discord: alone too long, disconnected")
		}
		b.deps.Store.ClearAlone(guildID)
	}()
}

// userVoiceChannel returns the voice channel a user currently occupies
// in the guild, or "".
func (b *Bot) userVoiceChannel(guildID, userID string) string {
	g, err := b.session.State.Guild(guildID)
	if err != nil {
		return ""
	}
	for _, vs := range g.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID
		}
	}
	return ""
}
