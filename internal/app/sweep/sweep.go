// Package sweep runs the periodic housekeeping loop: kicking the bot
// out of voice channels it sits in alone, evicting guilds that went
// quiet, pruning rate-limit bookkeeping and reaping stale files. Each
// pass is isolated so one failure never starves the others.
package sweep

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/ayu3b/beatbox/internal/app/files"
	"github.com/ayu3b/beatbox/internal/app/notify"
	"github.com/ayu3b/beatbox/internal/app/playback"
	"github.com/ayu3b/beatbox/internal/domain/guild"
)

// Presence answers whether the bot is still alone in a guild's voice
// channel at sweep time. Alone timers are only advisory; this is the
// authoritative re-check before any disconnect.
type Presence interface {
	IsAlone(guildID string) bool
}

// Disconnector tears down a guild's playback and voice connection.
// Satisfied by the playback engine.
type Disconnector interface {
	Disconnect(guildID string) (notify.Notice, error)
}

// Config holds sweep intervals and thresholds.
type Config struct {
	Interval       time.Duration // Gap between sweep cycles
	AloneGrace     time.Duration // How long the bot may sit alone in voice
	IdleTTL        time.Duration // Inactivity after which a guild is evicted
	RateLimitTTL   time.Duration // Age after which rate-limit entries are dropped
	FailureBackoff time.Duration // Retry delay after a failed cycle
}

// Sweeper owns the housekeeping loop.
type Sweeper struct {
	config   Config
	store    *guild.Store
	files    *files.Manager
	engine   Disconnector
	presence Presence
}

// NewSweeper wires a sweeper to its collaborators.
func NewSweeper(config Config, store *guild.Store, fm *files.Manager, engine Disconnector, presence Presence) *Sweeper {
	return &Sweeper{
		config:   config,
		store:    store,
		files:    fm,
		engine:   engine,
		presence: presence,
	}
}

// Run executes sweep cycles until the context is cancelled. A cycle
// with a failed pass shortens the wait before the next one to
// FailureBackoff instead of the regular interval.
func (s *Sweeper) Run(ctx context.Context) {
	zlog.Info().Dur("interval", s.config.Interval).Msg("sweep: started")
	timer := time.NewTimer(s.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			zlog.Info().Msg("sweep: stopped")
			return
		case <-timer.C:
			timer.Reset(s.nextDelay(s.Sweep()))
		}
	}
}

func (s *Sweeper) nextDelay(ok bool) time.Duration {
	if !ok {
		return s.config.FailureBackoff
	}
	return s.config.Interval
}

// Sweep runs one full cycle. Returns false when any pass panicked.
func (s *Sweeper) Sweep() bool {
	ok := true
	ok = s.runPass("alone", s.alonePass) && ok
	ok = s.runPass("idle", s.idlePass) && ok
	ok = s.runPass("ratelimit", s.ratePass) && ok
	ok = s.runPass("reap", s.reapPass) && ok
	return ok
}

func (s *Sweeper) runPass(name string, pass func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Str("pass", name).Interface("panic", r).Msg("sweep: pass failed")
			ok = false
		}
	}()
	pass()
	return true
}

// alonePass disconnects guilds whose alone timer expired, after
// re-checking that the channel is in fact still empty.
func (s *Sweeper) alonePass() {
	for _, guildID := range s.store.AloneLongerThan(s.config.AloneGrace) {
		if !s.presence.IsAlone(guildID) {
			s.store.ClearAlone(guildID)
			continue
		}
		if _, err := s.engine.Disconnect(guildID); err != nil {
			zlog.Debug().Err(err).Str("guildID", guildID).Msg("sweep: alone disconnect skipped")
		} else {
			zlog.Info().Str("guildID", guildID).Msg("sweep: disconnected, alone in voice channel")
		}
		s.store.ClearAlone(guildID)
	}
}

// idlePass evicts guilds with no activity inside IdleTTL, dropping
// their voice connection and releasing whatever tracks and files
// they still hold.
func (s *Sweeper) idlePass() {
	for _, st := range s.store.All() {
		if time.Since(st.LastActivity()) < s.config.IdleTTL {
			continue
		}

		if _, err := s.engine.Disconnect(st.GuildID); err != nil && !errors.Is(err, playback.ErrNotConnected) {
			zlog.Debug().Err(err).Str("guildID", st.GuildID).Msg("sweep: idle disconnect skipped")
		}

		if cur := st.CurrentTrack(); cur != nil {
			s.files.MarkInactive(cur.Path)
			cur.Cleanup()
			st.SetCurrentTrack(nil)
		}
		released := 0
		for _, t := range st.ClearQueue() {
			s.files.MarkInactive(t.Path)
			t.Cleanup()
			released++
		}

		s.store.ClearAlone(st.GuildID)
		s.store.Evict(st.GuildID)
		zlog.Info().Str("guildID", st.GuildID).Int("released", released).Msg("sweep: evicted inactive guild")
	}
}

func (s *Sweeper) ratePass() {
	if pruned := s.store.PruneRateLimits(s.config.RateLimitTTL); pruned > 0 {
		zlog.Debug().Int("pruned", pruned).Msg("sweep: rate-limit entries pruned")
	}
}

func (s *Sweeper) reapPass() {
	s.files.Reap()
}
