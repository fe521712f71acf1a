package discord

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/ayu3b/beatbox/internal/app/admission"
	"github.com/ayu3b/beatbox/internal/app/files"
	"github.com/ayu3b/beatbox/internal/app/notify"
	"github.com/ayu3b/beatbox/internal/app/playback"
	"github.com/ayu3b/beatbox/internal/domain/guild"
	"github.com/ayu3b/beatbox/internal/infra/settings"
)

// Deps carries the core collaborators the bot surface drives.
type Deps struct {
	Store    *guild.Store
	Files    *files.Manager
	Engine   *playback.Engine
	Settings *settings.Store
	Chain    *admission.Chain
	Notices  *notify.Manager

	// AloneGrace is how long the bot tolerates sitting alone in a
	// voice channel before the event-path waiter disconnects it.
	AloneGrace time.Duration
}

// Bot wires the gateway session to the playback core: message and
// interaction handlers in, notices out.
type Bot struct {
	session *discordgo.Session
	voices  *VoiceManager
	deps    Deps

	sinkID string

	aloneMu      sync.Mutex
	alonePending map[string]bool
}

// NewSession creates a gateway session with the intents the bot needs.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "creating gateway session")
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent
	return session, nil
}

// New attaches the bot's handlers to an existing session.
func New(session *discordgo.Session, voices *VoiceManager, deps Deps) *Bot {
	b := &Bot{
		session:      session,
		voices:       voices,
		deps:         deps,
		alonePending: make(map[string]bool),
	}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onVoiceStateUpdate)
	session.AddHandler(b.onInteraction)
	return b
}

// Open connects to the gateway, subscribes the notice sink and
// registers the slash commands.
func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return errors.Wrap(err, "opening gateway connection")
	}
	b.sinkID = b.deps.Notices.Subscribe(NewEmbedSink(b.session))
	if err := b.registerCommands(); err != nil {
		return err
	}
	return nil
}

// Close tears down voice connections and the gateway session.
func (b *Bot) Close() {
	if b.sinkID != "" {
		b.deps.Notices.Unsubscribe(b.sinkID)
	}
	b.voices.DisconnectAll()
	if err := b.session.Close(); err != nil {
		zlog.Warn().Err(err).Msg("discord: closing session")
	}
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	zlog.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).
		Msg("discord: gateway ready")
}
