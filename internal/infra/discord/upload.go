package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	zlog "github.com/rs/zerolog/log"

	"github.com/ayu3b/beatbox/internal/app/admission"
	"github.com/ayu3b/beatbox/internal/app/notify"
	"github.com/ayu3b/beatbox/internal/domain/track"
)

// supportedFormats are the attachment extensions accepted for upload.
var supportedFormats = []string{".mp3", ".wav", ".ogg", ".m4a", ".flac", ".aac", ".mp4"}

func isSupportedAudio(filename string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range supportedFormats {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// onMessageCreate enqueues audio attachments when the bot is
// mentioned.
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	if !mentionsBot(m.Mentions, s.State.User) {
		return
	}

	gs := b.deps.Store.GetOrCreate(m.GuildID)
	gs.SetLastChannel(m.ChannelID)

	reply := func(n notify.Notice) {
		n.GuildID = m.GuildID
		n.ChannelID = m.ChannelID
		b.deps.Notices.Publish(n)
	}

	voiceChannel := b.userVoiceChannel(m.GuildID, m.Author.ID)
	if voiceChannel == "" {
		reply(notify.Notice{
			Title:    "Voice Channel Required",
			Body:     "You need to be in a voice channel to queue tracks.",
			Severity: notify.SeverityWarning,
		})
		return
	}

	if len(m.Attachments) == 0 {
		reply(notify.Notice{
			Title:    "No Files Attached",
			Body:     "Attach audio files when mentioning the bot.",
			Severity: notify.SeverityWarning,
		})
		return
	}

	var audio []*discordgo.MessageAttachment
	var total int64
	for _, att := range m.Attachments {
		if isSupportedAudio(att.Filename) {
			audio = append(audio, att)
			total += int64(att.Size)
		}
	}
	if len(audio) == 0 {
		reply(notify.Notice{
			Title:    "Invalid File Type",
			Body:     "Supported formats: " + strings.Join(supportedFormats, ", "),
			Severity: notify.SeverityError,
		})
		return
	}

	if !b.deps.Files.CanAdmit(gs.QueueBytes(), gs.QueueLen(), total) {
		reply(notify.Notice{
			Title:    "Queue Full",
			Body:     fmt.Sprintf("Queue limit reached, currently %.1fMB across %d tracks.", float64(gs.QueueBytes())/(1024*1024), gs.QueueLen()),
			Severity: notify.SeverityWarning,
		})
		return
	}

	var roles []string
	if m.Member != nil {
		roles = m.Member.Roles
	}
	req := admission.UploadRequest{
		GuildID:    m.GuildID,
		UploaderID: m.Author.ID,
		RoleIDs:    roles,
	}

	var added, skipped []string
	for _, att := range audio {
		t := track.New(att.URL, att.Filename, displayName(m), int64(att.Size))
		if res := b.deps.Chain.Execute(context.Background(), req, t); !res.Accepted {
			skipped = append(skipped, fmt.Sprintf("%s (%s)", att.Filename, res.Code))
			continue
		}
		gs.Enqueue(t)
		added = append(added, att.Filename)
	}
	zlog.Info().Str("guildID", m.GuildID).Int("added", len(added)).Int("skipped", len(skipped)).
		Msg("discord: attachment upload processed")

	reply(uploadSummary(gs.QueueBytes(), added, skipped))
	if len(added) == 0 {
		return
	}

	if vt, ok := b.voices.voice(m.GuildID); !ok || !vt.IsConnected() {
		if _, err := b.voices.Connect(m.GuildID, voiceChannel); err != nil {
			zlog.Error().Err(err).Str("guildID", m.GuildID).Msg("discord: voice connect failed")
			reply(notify.Notice{
				Title:    "Connection Failed",
				Body:     "Could not join your voice channel.",
				Severity: notify.SeverityError,
			})
			return
		}
	}

	// Kick the engine only when it is idle; a playing track keeps
	// playing and the new uploads wait their turn.
	if vt, ok := b.voices.voice(m.GuildID); ok && !vt.IsPlaying() && !vt.IsPaused() {
		if b.deps.Settings.Autoplay(m.GuildID) {
			b.deps.Engine.Advance(m.GuildID, false)
		}
	}
}

// uploadSummary builds the batch result notice.
func uploadSummary(queueBytes int64, added, skipped []string) notify.Notice {
	var lines []string
	if len(added) > 0 {
		lines = append(lines, fmt.Sprintf("Added %d tracks to the queue:", len(added)))
		for i, name := range added {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, name))
		}
	}
	if len(skipped) > 0 {
		lines = append(lines, fmt.Sprintf("Rejected %d tracks:", len(skipped)))
		for _, name := range skipped {
			lines = append(lines, "- "+name)
		}
	}

	severity := notify.SeveritySuccess
	if len(added) == 0 {
		severity = notify.SeverityWarning
	}
	return notify.Notice{
		Title:    "Upload Complete",
		Body:     strings.Join(lines, "\n"),
		Severity: severity,
		Fields: []notify.Field{
			{Name: "Queue size", Value: fmt.Sprintf("%.1fMB", float64(queueBytes)/(1024*1024))},
		},
	}
}

func mentionsBot(mentions []*discordgo.User, bot *discordgo.User) bool {
	if bot == nil {
		return false
	}
	for _, u := range mentions {
		if u.ID == bot.ID {
			return true
		}
	}
	return false
}

func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
