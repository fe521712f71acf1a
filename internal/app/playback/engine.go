package playback

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/ayu3b/beatbox/internal/app/files"
	"github.com/ayu3b/beatbox/internal/app/notify"
	"github.com/ayu3b/beatbox/internal/domain/guild"
	"github.com/ayu3b/beatbox/internal/domain/track"
)

// Config holds engine tuning.
type Config struct {
	StreamRestartDelay time.Duration // Gap between stopping a stream and restarting it on seek
	DefaultBitrate     int           // kbps when the source declares no bitrate
	MaxBitrate         int           // kbps ceiling, also used for lossless sources
	MaxTrackDuration   time.Duration // Tracks probed longer than this are skipped; 0 disables
}

// Engine drives queue advancement and owns the current stream for each
// guild. Collaborators are injected so the core stays free of any
// chat-platform or codec dependency.
type Engine struct {
	config     Config
	store      *guild.Store
	files      *files.Manager
	fetcher    Fetcher
	transports TransportProvider
	builder    StreamBuilder
	settings   Settings
	notices    *notify.Manager

	mu      sync.Mutex
	streams map[string]Stream
	seekGen map[string]uint64

	requests chan advanceRequest
}

type advanceRequest struct {
	guildID string
	force   bool
}

// NewEngine wires the engine to its collaborators. Call Run to start
// the dispatch loop.
func NewEngine(config Config, store *guild.Store, fm *files.Manager, fetcher Fetcher,
	transports TransportProvider, builder StreamBuilder, settings Settings, notices *notify.Manager) *Engine {
	return &Engine{
		config:     config,
		store:      store,
		files:      fm,
		fetcher:    fetcher,
		transports: transports,
		builder:    builder,
		settings:   settings,
		notices:    notices,
		streams:    make(map[string]Stream),
		seekGen:    make(map[string]uint64),
		requests:   make(chan advanceRequest, 64),
	}
}

// Run consumes advance requests until the context is cancelled. Exactly
// one Run loop must be active per engine.
func (e *Engine) Run(ctx context.Context) {
	zlog.Info().Msg("playback: engine started")
	for {
		select {
		case <-ctx.Done():
			zlog.Info().Msg("playback: engine stopped")
			return
		case req := <-e.requests:
			e.advance(ctx, req.guildID, req.force)
		}
	}
}

// Advance asks the engine to evaluate the guild's queue on its dispatch
// goroutine. force starts the next track even when autoplay is off.
// Safe to call from any goroutine, including completion callbacks.
func (e *Engine) Advance(guildID string, force bool) {
	req := advanceRequest{guildID: guildID, force: force}
	select {
	case e.requests <- req:
	default:
		// Channel full. Block from a helper goroutine rather than lose
		// the request. Delivery order is not guaranteed past this
		// point; advance re-reads live guild state, so a reordered
		// request costs only an extra queue evaluation.
		go func() { e.requests <- req }()
	}
}

// advance is the play-next state machine. It runs only on the dispatch
// goroutine. Any panic is absorbed so one guild's failure cannot take
// the loop down.
func (e *Engine) advance(ctx context.Context, guildID string, force bool) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Str("guildID", guildID).Interface("panic", r).Msg("playback: advance aborted")
			e.releaseCurrent(e.store.GetOrCreate(guildID))
		}
	}()

	s := e.store.GetOrCreate(guildID)

	// A manual seek owns the stream right now; its completion callback
	// re-enters advance when appropriate.
	if s.IsSeeking() {
		return
	}

	// Loop handling runs before the finished track is released so a
	// looped track keeps its downloaded file and never re-fetches.
	requeued := false
	if cur := s.CurrentTrack(); cur != nil {
		if enabled, _, _ := s.Loop(); enabled {
			if reachedMax := s.IncrementLoopCount(); !reachedMax {
				cur.ResetClock()
				cur.SetPosition(0)
				s.RequeueFront(cur)
				s.SetCurrentTrack(nil)
				requeued = true
			}
		}
	}
	if !requeued {
		e.releaseCurrent(s)
	}

	if s.QueueLen() == 0 {
		e.autodisconnect(guildID)
		return
	}

	if !force && !e.settings.Autoplay(guildID) {
		zlog.Debug().Str("guildID", guildID).Msg("playback: autoplay disabled, queue retained")
		return
	}

	transport, ok := e.transports.Transport(guildID)
	if !ok || !transport.IsConnected() {
		zlog.Warn().Str("guildID", guildID).Msg("playback: queue has tracks but no voice connection")
		return
	}

	// A track that cannot be fetched or decoded is dropped and the next
	// one is tried, until one plays or the queue runs dry.
	for s.QueueLen() > 0 {
		cur := s.PopFront()
		if cur == nil {
			break
		}
		s.SetCurrentTrack(cur)

		if cur.Path == "" {
			if err := e.materialize(ctx, cur); err != nil {
				zlog.Error().Err(err).Str("guildID", guildID).Str("track", cur.Filename).
					Msg("playback: track unplayable, skipping")
				e.publishSkipNotice(s, cur)
				cur.Cleanup()
				s.SetCurrentTrack(nil)
				continue
			}
		}

		// Duration is only trustworthy after the download probed the
		// file, so the length ceiling is enforced here rather than at
		// admission time.
		if limit := e.config.MaxTrackDuration; limit > 0 && cur.Duration > limit {
			zlog.Warn().Str("guildID", guildID).Str("track", cur.Filename).
				Dur("duration", cur.Duration).Dur("limit", limit).
				Msg("playback: track over length ceiling, skipping")
			e.publishTooLongNotice(s, cur, limit)
			cur.Cleanup()
			s.SetCurrentTrack(nil)
			continue
		}

		e.files.MarkActive(cur.Path)
		s.Touch()

		// Opportunistic reap while the queue mutates anyway. Throttled
		// internally, failures never surface here.
		e.files.Reap()

		pos := cur.CurrentPosition()
		stream, err := e.builder.Build(e.streamRequest(s, guildID, cur, pos))
		if err != nil {
			zlog.Error().Err(err).Str("guildID", guildID).Str("track", cur.Filename).
				Msg("playback: stream build failed, skipping")
			e.publishSkipNotice(s, cur)
			e.files.MarkInactive(cur.Path)
			cur.Cleanup()
			s.SetCurrentTrack(nil)
			continue
		}

		onFinish := func(playErr error) {
			if playErr != nil {
				zlog.Error().Err(playErr).Str("guildID", guildID).Msg("playback: stream ended with error")
			}
			e.store.ClearAlone(guildID)
			if !s.IsSeeking() {
				e.Advance(guildID, false)
			}
		}
		if err := transport.Play(stream, onFinish); err != nil {
			zlog.Error().Err(err).Str("guildID", guildID).Str("track", cur.Filename).
				Msg("playback: transport rejected stream, skipping")
			stream.Close()
			e.publishSkipNotice(s, cur)
			e.files.MarkInactive(cur.Path)
			cur.Cleanup()
			s.SetCurrentTrack(nil)
			continue
		}

		e.setStream(guildID, stream)
		e.store.ClearAlone(guildID)
		cur.StartPlayback(pos)
		e.publishNowPlaying(s, cur)
		zlog.Info().Str("guildID", guildID).Str("track", cur.Filename).
			Dur("position", pos).Msg("playback: track started")
		return
	}

	// Every queued track failed; treat like a drained queue.
	e.autodisconnect(guildID)
}

// materialize verifies spool storage and lazily downloads the track.
func (e *Engine) materialize(ctx context.Context, t *track.Track) error {
	if err := e.files.EnsureWritable(); err != nil {
		return err
	}
	return e.fetcher.Fetch(ctx, t)
}

// releaseCurrent marks the active track's file reapable, deletes it and
// clears the reference. Safe when nothing is playing.
func (e *Engine) releaseCurrent(s *guild.State) {
	cur := s.CurrentTrack()
	if cur == nil {
		return
	}
	e.files.MarkInactive(cur.Path)
	cur.Cleanup()
	s.SetCurrentTrack(nil)
}

// autodisconnect leaves the voice channel when the guild opted in and a
// connection exists. Called only when the queue is empty.
func (e *Engine) autodisconnect(guildID string) {
	if !e.settings.Autodisconnect(guildID) {
		return
	}
	transport, ok := e.transports.Transport(guildID)
	if !ok || !transport.IsConnected() {
		return
	}
	if err := transport.Disconnect(); err != nil {
		zlog.Warn().Err(err).Str("guildID", guildID).Msg("playback: autodisconnect failed")
		return
	}
	e.clearStream(guildID)
	zlog.Info().Str("guildID", guildID).Msg("playback: queue empty, disconnected from voice")
}

func (e *Engine) streamRequest(s *guild.State, guildID string, t *track.Track, pos time.Duration) StreamRequest {
	return StreamRequest{
		Path:    t.Path,
		Offset:  pos,
		Bitrate: e.resolveBitrate(t),
		Speed:   e.settings.PlaybackSpeed(guildID),
		Volume:  s.Volume(),
	}
}

// resolveBitrate picks the output bitrate: the probed source bitrate
// clamped to the ceiling, the ceiling for lossless containers, or the
// default when nothing is known.
func (e *Engine) resolveBitrate(t *track.Track) int {
	if t.Bitrate > 0 {
		if t.Bitrate > e.config.MaxBitrate {
			return e.config.MaxBitrate
		}
		return t.Bitrate
	}
	switch strings.ToLower(filepath.Ext(t.Filename)) {
	case ".flac", ".wav":
		return e.config.MaxBitrate
	default:
		return e.config.DefaultBitrate
	}
}

func (e *Engine) setStream(guildID string, stream Stream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streams[guildID] = stream
}

func (e *Engine) clearStream(guildID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.streams, guildID)
}

func (e *Engine) currentStream(guildID string) (Stream, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	stream, ok := e.streams[guildID]
	return stream, ok
}

// bumpSeekGen invalidates callbacks from any in-flight seek restart for
// the guild and returns the new generation.
func (e *Engine) bumpSeekGen(guildID string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seekGen[guildID]++
	return e.seekGen[guildID]
}

func (e *Engine) currentSeekGen(guildID string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seekGen[guildID]
}

func (e *Engine) publishNowPlaying(s *guild.State, t *track.Track) {
	channelID := s.LastChannel()
	if channelID == "" {
		return
	}
	fields := []notify.Field{
		{Name: "Requested by", Value: t.Requester},
	}
	if next := s.PeekNext(); next != nil {
		fields = append(fields, notify.Field{Name: "Up next", Value: next.Filename})
	}
	e.notices.Publish(notify.Notice{
		GuildID:   s.GuildID,
		ChannelID: channelID,
		Title:     "Now Playing",
		Body:      fmt.Sprintf("**%s**", t.Filename),
		Severity:  notify.SeverityInfo,
		Fields:    fields,
	})
}

func (e *Engine) publishSkipNotice(s *guild.State, t *track.Track) {
	channelID := s.LastChannel()
	if channelID == "" {
		return
	}
	e.notices.Publish(notify.Notice{
		GuildID:   s.GuildID,
		ChannelID: channelID,
		Title:     "Track Skipped",
		Body:      fmt.Sprintf("Could not prepare **%s**, moving on", t.Filename),
		Severity:  notify.SeverityWarning,
	})
}

func (e *Engine) publishTooLongNotice(s *guild.State, t *track.Track, limit time.Duration) {
	channelID := s.LastChannel()
	if channelID == "" {
		return
	}
	e.notices.Publish(notify.Notice{
		GuildID:   s.GuildID,
		ChannelID: channelID,
		Title:     "Track Skipped",
		Body:      fmt.Sprintf("**%s** runs %s, over the %s limit", t.Filename, FormatClock(t.Duration), FormatClock(limit)),
		Severity:  notify.SeverityWarning,
	})
}
