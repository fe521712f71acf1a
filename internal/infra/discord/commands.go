package discord

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/ayu3b/beatbox/internal/app/notify"
	"github.com/ayu3b/beatbox/internal/app/playback"
	"github.com/ayu3b/beatbox/internal/infra/settings"
)

var manageGuildPermission int64 = discordgo.PermissionManageServer

// commandDefinitions is the full slash-command surface. Registered via
// bulk overwrite on startup so removed commands disappear as well.
func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{Name: "play", Description: "Start playing the queued tracks"},
		{Name: "pause", Description: "Pause the current track"},
		{Name: "resume", Description: "Resume a paused track"},
		{Name: "skip", Description: "Skip to the next track in the queue"},
		{Name: "stop", Description: "Stop playback, keeping the queue"},
		{Name: "clear", Description: "Clear the queue, keeping the current track"},
		{Name: "disconnect", Description: "Disconnect and drop the queue"},
		{Name: "queue", Description: "Show the queued tracks"},
		{Name: "playing", Description: "Show the current track and position"},
		{
			Name:        "volume",
			Description: "Set the playback volume",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "percent",
					Description: "Volume percent (0-120)",
					Required:    true,
				},
			},
		},
		{
			Name:        "loop",
			Description: "Loop the current track",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "times",
					Description: "How many times to play the track; omit to toggle endless looping",
				},
			},
		},
		{
			Name:        "remove",
			Description: "Remove a track from the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "position",
					Description: "Queue position, starting at 1",
					Required:    true,
				},
			},
		},
		{
			Name:        "forward",
			Description: "Jump forward in the current track",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "seconds",
					Description: "Seconds to jump forward",
					Required:    true,
				},
			},
		},
		{
			Name:        "backward",
			Description: "Jump backward in the current track",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "seconds",
					Description: "Seconds to jump backward",
					Required:    true,
				},
			},
		},
		{
			Name:        "timestamp",
			Description: "Jump to an absolute position in the current track",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "hours",
					Description: "Hours part of the target position",
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "minutes",
					Description: "Minutes part of the target position",
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "seconds",
					Description: "Seconds part of the target position",
				},
			},
		},
		{
			Name:                     "autoplay",
			Description:              "Control whether tracks start automatically",
			DefaultMemberPermissions: &manageGuildPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "enabled",
					Description: "Play the next queued track without /play",
					Required:    true,
				},
			},
		},
		{
			Name:                     "autodisconnect",
			Description:              "Control whether the bot leaves when the queue empties",
			DefaultMemberPermissions: &manageGuildPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "enabled",
					Description: "Disconnect after the last track finishes",
					Required:    true,
				},
			},
		},
		{
			Name:                     "speed",
			Description:              "Set the playback speed for this server",
			DefaultMemberPermissions: &manageGuildPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionNumber,
					Name:        "multiplier",
					Description: "Speed multiplier (0.5-2.0)",
					Required:    true,
				},
			},
		},
		{
			Name:                     "blacklist",
			Description:              "Manage users barred from uploading",
			DefaultMemberPermissions: &manageGuildPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add",
					Description: "Bar a user from uploading",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "user",
							Description: "User to bar",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "Allow a barred user to upload again",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "user",
							Description: "User to allow",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "Show barred users",
				},
			},
		},
		{
			Name:                     "whitelist",
			Description:              "Manage roles allowed to upload",
			DefaultMemberPermissions: &manageGuildPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add",
					Description: "Allow a role to upload",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionRole,
							Name:        "role",
							Description: "Role to allow",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "Remove a role from the whitelist",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionRole,
							Name:        "role",
							Description: "Role to remove",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "Show whitelisted roles",
				},
			},
		},
		{Name: "help", Description: "Show how to use the bot"},
	}
}

func (b *Bot) registerCommands() error {
	_, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, "", commandDefinitions())
	return errors.Wrap(err, "registering slash commands")
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.GuildID == "" {
		b.respond(i, notify.Notice{
			Title:    "Server Only",
			Body:     "Commands only work inside a server.",
			Severity: notify.SeverityWarning,
		})
		return
	}

	data := i.ApplicationCommandData()
	b.deps.Store.GetOrCreate(i.GuildID).SetLastChannel(i.ChannelID)

	switch data.Name {
	case "play":
		b.handlePlay(i)
	case "pause":
		n, err := b.deps.Engine.Pause(i.GuildID)
		b.respondResult(i, n, err)
	case "resume":
		n, err := b.deps.Engine.Resume(i.GuildID)
		b.respondResult(i, n, err)
	case "skip":
		n, err := b.deps.Engine.Skip(i.GuildID)
		b.respondResult(i, n, err)
	case "stop":
		n, err := b.deps.Engine.Stop(i.GuildID)
		b.respondResult(i, n, err)
	case "clear":
		n, err := b.deps.Engine.Clear(i.GuildID)
		b.respondResult(i, n, err)
	case "disconnect":
		n, err := b.deps.Engine.Disconnect(i.GuildID)
		b.respondResult(i, n, err)
	case "queue":
		b.handleQueue(i)
	case "playing":
		b.handlePlaying(i)
	case "volume":
		n, err := b.deps.Engine.SetVolume(i.GuildID, int(intOption(data.Options, "percent", 0)))
		b.respondResult(i, n, err)
	case "loop":
		n, err := b.deps.Engine.Loop(i.GuildID, int(intOption(data.Options, "times", 0)))
		b.respondResult(i, n, err)
	case "remove":
		n, err := b.deps.Engine.Remove(i.GuildID, int(intOption(data.Options, "position", 0)))
		b.respondResult(i, n, err)
	case "forward":
		secs := intOption(data.Options, "seconds", 0)
		n, err := b.deps.Engine.Forward(i.GuildID, time.Duration(secs)*time.Second)
		b.respondResult(i, n, err)
	case "backward":
		secs := intOption(data.Options, "seconds", 0)
		n, err := b.deps.Engine.Backward(i.GuildID, time.Duration(secs)*time.Second)
		b.respondResult(i, n, err)
	case "timestamp":
		b.handleTimestamp(i, data)
	case "autoplay":
		b.handleAutoplay(i, data)
	case "autodisconnect":
		b.handleAutodisconnect(i, data)
	case "speed":
		b.handleSpeed(i, data)
	case "blacklist":
		b.handleBlacklist(i, data)
	case "whitelist":
		b.handleWhitelist(i, data)
	case "help":
		b.respond(i, helpNotice())
	default:
		zlog.Warn().Str("command", data.Name).Msg("discord: unknown slash command")
	}
}

// handlePlay force-starts playback from the queue. Uploads only kick
// the engine when autoplay is on, so this is the manual path.
func (b *Bot) handlePlay(i *discordgo.InteractionCreate) {
	guildID := i.GuildID
	state := b.deps.Store.GetOrCreate(guildID)

	if transport, ok := b.voices.Transport(guildID); ok && (transport.IsPlaying() || transport.IsPaused()) {
		b.respond(i, notify.Notice{
			Title:    "Already Playing",
			Body:     "A track is already playing. Use /skip or /stop first.",
			Severity: notify.SeverityWarning,
		})
		return
	}
	if state.QueueLen() == 0 && state.CurrentTrack() == nil {
		b.respond(i, notify.Notice{
			Title:    "Queue Empty",
			Body:     "Upload a track by mentioning me with an audio attachment.",
			Severity: notify.SeverityWarning,
		})
		return
	}

	if transport, ok := b.voices.Transport(guildID); !ok || !transport.IsConnected() {
		channelID := b.userVoiceChannel(guildID, interactionUserID(i))
		if channelID == "" {
			b.respond(i, notify.Notice{
				Title:    "Not In Voice",
				Body:     "Join a voice channel first.",
				Severity: notify.SeverityWarning,
			})
			return
		}
		if _, err := b.voices.Connect(guildID, channelID); err != nil {
			zlog.Error().Err(err).Str("guildID", guildID).Msg("discord: voice connect failed")
			b.respond(i, notify.Notice{
				Title:    "Connection Failed",
				Body:     "Could not join the voice channel.",
				Severity: notify.SeverityError,
			})
			return
		}
	}

	b.deps.Engine.Advance(guildID, true)
	b.respond(i, notify.Notice{
		Title:    "Starting Playback",
		Body:     "Spinning up the first track.",
		Severity: notify.SeveritySuccess,
	})
}

func (b *Bot) handleQueue(i *discordgo.InteractionCreate) {
	state := b.deps.Store.GetOrCreate(i.GuildID)
	queued := state.Queue()
	if len(queued) == 0 {
		b.respond(i, notify.Notice{
			Title:    "Queue Empty",
			Body:     "Nothing is queued.",
			Severity: notify.SeverityInfo,
		})
		return
	}

	var sb strings.Builder
	for n, t := range queued {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", n+1, t.Filename, t.Requester)
	}
	b.respond(i, notify.Notice{
		Title:    fmt.Sprintf("Queue (%d)", len(queued)),
		Body:     sb.String(),
		Severity: notify.SeverityInfo,
		Fields: []notify.Field{
			{Name: "Total size", Value: fmt.Sprintf("%.1f MB", float64(state.QueueBytes())/(1024*1024))},
		},
	})
}

func (b *Bot) handlePlaying(i *discordgo.InteractionCreate) {
	status, err := b.deps.Engine.Status(i.GuildID)
	if err != nil {
		b.respond(i, errorNotice(err))
		return
	}

	fields := []notify.Field{
		{Name: "Position", Value: fmt.Sprintf("%s / %s",
			playback.FormatClock(status.Position), playback.FormatClock(status.Track.Duration))},
		{Name: "Volume", Value: fmt.Sprintf("%d%%", status.Volume)},
	}
	if status.LoopEnabled {
		if status.LoopMax > 0 {
			fields = append(fields, notify.Field{Name: "Loop", Value: fmt.Sprintf("%d times", status.LoopMax)})
		} else {
			fields = append(fields, notify.Field{Name: "Loop", Value: "endless"})
		}
	}
	if status.QueueLen > 0 {
		fields = append(fields, notify.Field{Name: "Queued", Value: fmt.Sprintf("%d tracks", status.QueueLen)})
	}
	b.respond(i, notify.Notice{
		Title:    "Now Playing",
		Body:     status.Track.Filename,
		Severity: notify.SeverityInfo,
		Fields:   fields,
	})
}

func (b *Bot) handleTimestamp(i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	target := time.Duration(intOption(data.Options, "hours", 0))*time.Hour +
		time.Duration(intOption(data.Options, "minutes", 0))*time.Minute +
		time.Duration(intOption(data.Options, "seconds", 0))*time.Second
	n, err := b.deps.Engine.SeekTo(i.GuildID, target)
	b.respondResult(i, n, err)
}

func (b *Bot) handleAutoplay(i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	enabled := boolOption(data.Options, "enabled")
	if err := b.deps.Settings.SetAutoplay(i.GuildID, enabled); err != nil {
		b.respond(i, errorNotice(err))
		return
	}
	// A policy change restarts the idle clock.
	b.deps.Store.ClearAlone(i.GuildID)
	b.respond(i, notify.Notice{
		Title:    "Autoplay " + onOff(enabled),
		Body:     autoplayBody(enabled),
		Severity: notify.SeveritySuccess,
	})
}

func (b *Bot) handleAutodisconnect(i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	enabled := boolOption(data.Options, "enabled")
	if err := b.deps.Settings.SetAutodisconnect(i.GuildID, enabled); err != nil {
		b.respond(i, errorNotice(err))
		return
	}
	body := "I will stay in the voice channel after the queue empties."
	if enabled {
		body = "I will leave the voice channel once the queue empties."
	}
	b.respond(i, notify.Notice{
		Title:    "Autodisconnect " + onOff(enabled),
		Body:     body,
		Severity: notify.SeveritySuccess,
	})
}

func (b *Bot) handleSpeed(i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	speed := numberOption(data.Options, "multiplier", 1.0)
	if err := b.deps.Settings.SetPlaybackSpeed(i.GuildID, speed); err != nil {
		b.respond(i, errorNotice(err))
		return
	}
	b.respond(i, notify.Notice{
		Title:    "Playback Speed Set",
		Body:     fmt.Sprintf("Tracks now play at %.2fx. Takes effect on the next track or seek.", speed),
		Severity: notify.SeveritySuccess,
	})
}

func (b *Bot) handleBlacklist(i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	if len(data.Options) == 0 {
		return
	}
	sub := data.Options[0]
	switch sub.Name {
	case "add":
		user := sub.Options[0].UserValue(b.session)
		if err := b.deps.Settings.BlacklistUser(i.GuildID, user.ID); err != nil {
			b.respond(i, errorNotice(err))
			return
		}
		b.respond(i, notify.Notice{
			Title:    "User Blacklisted",
			Body:     fmt.Sprintf("%s can no longer upload tracks.", user.Username),
			Severity: notify.SeveritySuccess,
		})
	case "remove":
		user := sub.Options[0].UserValue(b.session)
		if err := b.deps.Settings.UnblacklistUser(i.GuildID, user.ID); err != nil {
			b.respond(i, errorNotice(err))
			return
		}
		b.respond(i, notify.Notice{
			Title:    "User Removed From Blacklist",
			Body:     fmt.Sprintf("%s can upload tracks again.", user.Username),
			Severity: notify.SeveritySuccess,
		})
	case "list":
		ids, err := b.deps.Settings.BlacklistedUsers(i.GuildID)
		if err != nil {
			b.respond(i, errorNotice(err))
			return
		}
		b.respond(i, idListNotice("Blacklisted Users", "Nobody is blacklisted.", mentionUsers(ids)))
	}
}

func (b *Bot) handleWhitelist(i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	if len(data.Options) == 0 {
		return
	}
	sub := data.Options[0]
	switch sub.Name {
	case "add":
		role := sub.Options[0].RoleValue(b.session, i.GuildID)
		if err := b.deps.Settings.WhitelistRole(i.GuildID, role.ID); err != nil {
			b.respond(i, errorNotice(err))
			return
		}
		b.respond(i, notify.Notice{
			Title:    "Role Whitelisted",
			Body:     fmt.Sprintf("Only whitelisted roles may upload now. Added %s.", role.Name),
			Severity: notify.SeveritySuccess,
		})
	case "remove":
		role := sub.Options[0].RoleValue(b.session, i.GuildID)
		if err := b.deps.Settings.UnwhitelistRole(i.GuildID, role.ID); err != nil {
			b.respond(i, errorNotice(err))
			return
		}
		b.respond(i, notify.Notice{
			Title:    "Role Removed From Whitelist",
			Body:     fmt.Sprintf("Removed %s. An empty whitelist lets everyone upload.", role.Name),
			Severity: notify.SeveritySuccess,
		})
	case "list":
		ids, err := b.deps.Settings.WhitelistedRoles(i.GuildID)
		if err != nil {
			b.respond(i, errorNotice(err))
			return
		}
		b.respond(i, idListNotice("Whitelisted Roles", "The whitelist is empty, everyone may upload.", mentionRoles(ids)))
	}
}

// respondResult is the common path for engine operations that return a
// ready-made notice.
func (b *Bot) respondResult(i *discordgo.InteractionCreate, n notify.Notice, err error) {
	if err != nil {
		b.respond(i, errorNotice(err))
		return
	}
	b.respond(i, n)
}

func (b *Bot) respond(i *discordgo.InteractionCreate, n notify.Notice) {
	err := b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{buildEmbed(n)},
		},
	})
	if err != nil {
		zlog.Warn().Err(err).Str("guildID", i.GuildID).Msg("discord: interaction respond failed")
	}
}

// errorNotice maps operation errors onto user-facing notices. Expected
// rejections become warnings, anything else an opaque error embed.
func errorNotice(err error) notify.Notice {
	switch {
	case errors.Is(err, playback.ErrNoTrack):
		return warning("No Track", "Nothing is playing right now.")
	case errors.Is(err, playback.ErrNotPlaying):
		return warning("Not Playing", "Nothing is playing right now.")
	case errors.Is(err, playback.ErrNotPaused):
		return warning("Not Paused", "Nothing is paused right now.")
	case errors.Is(err, playback.ErrNotConnected):
		return warning("Not Connected", "I am not in a voice channel.")
	case errors.Is(err, playback.ErrQueueEmpty):
		return warning("Queue Empty", "Nothing is queued.")
	case errors.Is(err, playback.ErrBadPosition):
		return warning("Bad Position", firstLine(err))
	case errors.Is(err, playback.ErrBadVolume):
		return warning("Bad Volume", "Volume must be between 0 and 120.")
	case errors.Is(err, playback.ErrBadSeek):
		return warning("Bad Seek", firstLine(err))
	case errors.Is(err, playback.ErrBadLoopCount):
		return warning("Bad Loop Count", "The loop count must be positive.")
	case errors.Is(err, settings.ErrBadSpeed):
		return warning("Bad Speed", "Speed must be between 0.5 and 2.0.")
	default:
		zlog.Error().Err(err).Msg("discord: command failed")
		return notify.Notice{
			Title:    "Command Failed",
			Body:     "Something went wrong, try again in a moment.",
			Severity: notify.SeverityError,
		}
	}
}

func warning(title, body string) notify.Notice {
	return notify.Notice{Title: title, Body: body, Severity: notify.SeverityWarning}
}

// firstLine keeps the human part of a wrapped error and drops the
// sentinel suffix appended by the errors package.
func firstLine(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, ": "); idx > 0 {
		msg = msg[:idx]
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}

func helpNotice() notify.Notice {
	return notify.Notice{
		Title:    "How To Use",
		Body:     "Mention me with an audio attachment to queue it, then use the commands below.",
		Severity: notify.SeverityInfo,
		Fields: []notify.Field{
			{Name: "Playback", Value: "/play /pause /resume /skip /stop /disconnect"},
			{Name: "Queue", Value: "/queue /playing /clear /remove"},
			{Name: "Position", Value: "/forward /backward /timestamp"},
			{Name: "Tuning", Value: "/volume /loop /speed"},
			{Name: "Admin", Value: "/autoplay /autodisconnect /blacklist /whitelist"},
			{Name: "Formats", Value: strings.Join(supportedFormats, ", ")},
		},
	}
}

func idListNotice(title, emptyBody string, entries []string) notify.Notice {
	if len(entries) == 0 {
		return notify.Notice{Title: title, Body: emptyBody, Severity: notify.SeverityInfo}
	}
	return notify.Notice{
		Title:    title,
		Body:     strings.Join(entries, "\n"),
		Severity: notify.SeverityInfo,
	}
}

func mentionUsers(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, "<@"+id+">")
	}
	return out
}

func mentionRoles(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, "<@&"+id+">")
	}
	return out
}

func onOff(enabled bool) string {
	if enabled {
		return "On"
	}
	return "Off"
}

func autoplayBody(enabled bool) string {
	if enabled {
		return "Queued tracks now start as soon as the previous one ends."
	}
	return "Queued tracks now wait for /play."
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func intOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string, fallback int64) int64 {
	for _, o := range opts {
		if o.Name == name {
			return o.IntValue()
		}
	}
	return fallback
}

func numberOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string, fallback float64) float64 {
	for _, o := range opts {
		if o.Name == name {
			return o.FloatValue()
		}
	}
	return fallback
}

func boolOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) bool {
	for _, o := range opts {
		if o.Name == name {
			return o.BoolValue()
		}
	}
	return false
}
