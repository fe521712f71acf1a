package playback

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/ayu3b/beatbox/internal/app/notify"
	"github.com/ayu3b/beatbox/internal/domain/guild"
	"github.com/ayu3b/beatbox/internal/domain/track"
)

// Status is a point-in-time snapshot of a guild's playback.
type Status struct {
	Track       *track.Track
	Position    time.Duration
	Volume      int
	LoopEnabled bool
	LoopMax     int
	QueueLen    int
	QueueBytes  int64
}

// Status reports what is playing right now.
func (e *Engine) Status(guildID string) (Status, error) {
	s := e.store.GetOrCreate(guildID)
	cur := s.CurrentTrack()
	if cur == nil {
		return Status{}, ErrNoTrack
	}
	loopEnabled, _, loopMax := s.Loop()
	return Status{
		Track:       cur,
		Position:    cur.CurrentPosition(),
		Volume:      s.Volume(),
		LoopEnabled: loopEnabled,
		LoopMax:     loopMax,
		QueueLen:    s.QueueLen(),
		QueueBytes:  s.QueueBytes(),
	}, nil
}

// Pause freezes the current stream and the track's position clock.
func (e *Engine) Pause(guildID string) (notify.Notice, error) {
	s := e.store.GetOrCreate(guildID)
	transport, ok := e.transports.Transport(guildID)
	if !ok || !transport.IsPlaying() {
		return notify.Notice{}, ErrNotPlaying
	}

	if cur := s.CurrentTrack(); cur != nil {
		cur.PausePlayback()
	}
	transport.Pause()

	return notify.Notice{
		GuildID:  guildID,
		Title:    "Paused",
		Body:     fmt.Sprintf("Paused **%s**", e.currentName(s)),
		Severity: notify.SeverityInfo,
	}, nil
}

// Resume continues a paused stream and restarts the position clock.
func (e *Engine) Resume(guildID string) (notify.Notice, error) {
	s := e.store.GetOrCreate(guildID)
	transport, ok := e.transports.Transport(guildID)
	if !ok || !transport.IsPaused() {
		return notify.Notice{}, ErrNotPaused
	}

	if cur := s.CurrentTrack(); cur != nil {
		cur.ResumePlayback()
	}
	transport.Resume()

	return notify.Notice{
		GuildID:  guildID,
		Title:    "Resumed",
		Body:     fmt.Sprintf("Resumed **%s**", e.currentName(s)),
		Severity: notify.SeveritySuccess,
	}, nil
}

// Skip stops the current stream; the completion callback advances the
// queue. Looping still applies, which is how a looped track restarts.
func (e *Engine) Skip(guildID string) (notify.Notice, error) {
	s := e.store.GetOrCreate(guildID)
	transport, ok := e.transports.Transport(guildID)
	if !ok || !transport.IsPlaying() {
		return notify.Notice{}, ErrNotPlaying
	}

	skipped := e.currentName(s)
	transport.Stop()

	notice := notify.Notice{
		GuildID:  guildID,
		Title:    "Track Skipped",
		Body:     fmt.Sprintf("Skipped **%s**", skipped),
		Severity: notify.SeverityInfo,
	}
	if next := s.PeekNext(); next != nil {
		notice.Fields = append(notice.Fields, notify.Field{Name: "Up next", Value: next.Filename})
	} else {
		notice.Fields = append(notice.Fields, notify.Field{Name: "Up next", Value: "Queue is now empty"})
	}
	return notice, nil
}

// Stop halts playback and releases the current track. The queue is
// left untouched.
func (e *Engine) Stop(guildID string) (notify.Notice, error) {
	s := e.store.GetOrCreate(guildID)
	transport, ok := e.transports.Transport(guildID)
	if !ok || !transport.IsPlaying() {
		return notify.Notice{}, ErrNotPlaying
	}

	stopped := e.currentName(s)
	transport.Stop()
	e.releaseCurrent(s)
	e.clearStream(guildID)

	return notify.Notice{
		GuildID:  guildID,
		Title:    "Playback Stopped",
		Body:     fmt.Sprintf("Stopped playing **%s**", stopped),
		Severity: notify.SeverityInfo,
		Fields:   []notify.Field{{Name: "Queue", Value: "unchanged"}},
	}, nil
}

// Clear empties the queue and deletes the queued files. The current
// track keeps playing.
func (e *Engine) Clear(guildID string) (notify.Notice, error) {
	s := e.store.GetOrCreate(guildID)
	removed := s.ClearQueue()
	for _, t := range removed {
		e.files.MarkInactive(t.Path)
		t.Cleanup()
	}

	return notify.Notice{
		GuildID:  guildID,
		Title:    "Queue Cleared",
		Body:     fmt.Sprintf("Cleared %d tracks from the queue", len(removed)),
		Severity: notify.SeveritySuccess,
	}, nil
}

// Disconnect tears everything down for a guild: current track, queue,
// files, voice connection.
func (e *Engine) Disconnect(guildID string) (notify.Notice, error) {
	s := e.store.GetOrCreate(guildID)
	transport, ok := e.transports.Transport(guildID)
	if !ok || !transport.IsConnected() {
		return notify.Notice{}, ErrNotConnected
	}

	e.releaseCurrent(s)
	removed := s.ClearQueue()
	for _, t := range removed {
		e.files.MarkInactive(t.Path)
		t.Cleanup()
	}

	if err := transport.Disconnect(); err != nil {
		return notify.Notice{}, errors.Wrap(err, "disconnecting voice")
	}
	e.clearStream(guildID)
	e.store.ClearAlone(guildID)

	return notify.Notice{
		GuildID:  guildID,
		Title:    "Disconnected",
		Body:     "Left the voice channel and cleaned up",
		Severity: notify.SeverityInfo,
		Fields:   []notify.Field{{Name: "Queue", Value: fmt.Sprintf("%d tracks cleared", len(removed))}},
	}, nil
}

// Remove drops the track at the given 1-indexed queue position.
func (e *Engine) Remove(guildID string, position int) (notify.Notice, error) {
	s := e.store.GetOrCreate(guildID)
	n := s.QueueLen()
	if n == 0 {
		return notify.Notice{}, ErrQueueEmpty
	}

	removed := s.RemoveAt(position)
	if removed == nil {
		return notify.Notice{}, errors.Wrapf(ErrBadPosition, "valid range is 1-%d", n)
	}
	e.files.MarkInactive(removed.Path)
	removed.Cleanup()

	return notify.Notice{
		GuildID:  guildID,
		Title:    "Track Removed",
		Body:     fmt.Sprintf("Removed **%s** from position %d", removed.Filename, position),
		Severity: notify.SeveritySuccess,
		Fields:   []notify.Field{{Name: "Requested by", Value: removed.Requester}},
	}, nil
}

// SetVolume updates the guild volume and, when a stream is live,
// adjusts its gain immediately.
func (e *Engine) SetVolume(guildID string, volume int) (notify.Notice, error) {
	if volume < 0 || volume > 120 {
		return notify.Notice{}, errors.Wrap(ErrBadVolume, "volume must be between 0 and 120")
	}

	s := e.store.GetOrCreate(guildID)
	s.SetVolume(volume)
	if stream, ok := e.currentStream(guildID); ok {
		stream.SetGain(float64(volume) / 100)
	}

	return notify.Notice{
		GuildID:  guildID,
		Title:    "Volume Updated",
		Body:     fmt.Sprintf("Set volume to **%d%%**", volume),
		Severity: notify.SeverityInfo,
	}, nil
}

// Loop configures looping for the current track. times = 0 toggles
// infinite looping; times > 0 enables a fixed number of repeats.
func (e *Engine) Loop(guildID string, times int) (notify.Notice, error) {
	s := e.store.GetOrCreate(guildID)
	if s.CurrentTrack() == nil {
		return notify.Notice{}, ErrNoTrack
	}
	if times < 0 {
		return notify.Notice{}, ErrBadLoopCount
	}

	enabled, _, _ := s.Loop()
	if times == 0 {
		enabled = !enabled
	} else {
		enabled = true
	}
	s.SetLoop(enabled, times)

	notice := notify.Notice{
		GuildID:  guildID,
		Severity: notify.SeveritySuccess,
		Body:     fmt.Sprintf("**%s**", e.currentName(s)),
	}
	switch {
	case !enabled:
		notice.Title = "Loop Disabled"
	case times == 0:
		notice.Title = "Loop Enabled"
		notice.Fields = []notify.Field{{Name: "Mode", Value: "looping forever"}}
	default:
		notice.Title = "Loop Enabled"
		notice.Fields = []notify.Field{{Name: "Mode", Value: fmt.Sprintf("looping %d times", times)}}
	}
	return notice, nil
}

// Forward seeks ahead by delta, clamped to one second before the end.
func (e *Engine) Forward(guildID string, delta time.Duration) (notify.Notice, error) {
	if delta <= 0 {
		return notify.Notice{}, errors.Wrap(ErrBadSeek, "seek amount must be positive")
	}
	s := e.store.GetOrCreate(guildID)
	cur := s.CurrentTrack()
	if cur == nil {
		return notify.Notice{}, ErrNoTrack
	}

	target := cur.CurrentPosition() + delta
	if cur.Duration > time.Second && target > cur.Duration-time.Second {
		target = cur.Duration - time.Second
	}
	return e.seek(guildID, s, cur, target, "Skipped Forward")
}

// Backward seeks back by delta, clamped to the start of the track.
func (e *Engine) Backward(guildID string, delta time.Duration) (notify.Notice, error) {
	if delta <= 0 {
		return notify.Notice{}, errors.Wrap(ErrBadSeek, "seek amount must be positive")
	}
	s := e.store.GetOrCreate(guildID)
	cur := s.CurrentTrack()
	if cur == nil {
		return notify.Notice{}, ErrNoTrack
	}

	target := cur.CurrentPosition() - delta
	if target < 0 {
		target = 0
	}
	return e.seek(guildID, s, cur, target, "Skipped Backward")
}

// SeekTo jumps to an absolute position. Targets at or past the end are
// rejected without touching playback.
func (e *Engine) SeekTo(guildID string, target time.Duration) (notify.Notice, error) {
	if target < 0 {
		return notify.Notice{}, errors.Wrap(ErrBadSeek, "position must not be negative")
	}
	s := e.store.GetOrCreate(guildID)
	cur := s.CurrentTrack()
	if cur == nil {
		return notify.Notice{}, ErrNoTrack
	}
	if cur.Duration > 0 && target >= cur.Duration {
		return notify.Notice{}, errors.Wrapf(ErrBadSeek, "track is only %s long", FormatClock(cur.Duration))
	}
	return e.seek(guildID, s, cur, target, "Position Changed")
}

// seek validates the connection and restarts the stream at target.
func (e *Engine) seek(guildID string, s *guild.State, cur *track.Track, target time.Duration, title string) (notify.Notice, error) {
	transport, ok := e.transports.Transport(guildID)
	if !ok || !transport.IsConnected() {
		return notify.Notice{}, ErrNotConnected
	}

	if err := e.restartAt(guildID, s, transport, cur, target); err != nil {
		return notify.Notice{}, err
	}

	return notify.Notice{
		GuildID:  guildID,
		Title:    title,
		Body:     fmt.Sprintf("**%s**", cur.Filename),
		Severity: notify.SeverityInfo,
		Fields: []notify.Field{
			{Name: "Position", Value: fmt.Sprintf("%s / %s", FormatClock(target), FormatClock(cur.Duration))},
		},
	}, nil
}

// restartAt stops the live stream and starts a fresh one at pos. The
// seek guard stays set until the new stream finishes so the advance
// path never races a restart in progress.
func (e *Engine) restartAt(guildID string, s *guild.State, transport Transport, cur *track.Track, pos time.Duration) error {
	gen := e.bumpSeekGen(guildID)
	s.SetSeeking(true)
	cur.SetPosition(pos)

	if transport.IsPlaying() || transport.IsPaused() {
		transport.Stop()
	}

	// The old stream's teardown needs a moment before the connection
	// accepts a new one.
	time.Sleep(e.config.StreamRestartDelay)

	stream, err := e.builder.Build(e.streamRequest(s, guildID, cur, pos))
	if err != nil {
		s.SetSeeking(false)
		return errors.Wrap(err, "rebuilding stream")
	}

	onFinish := func(playErr error) {
		if playErr != nil {
			zlog.Error().Err(playErr).Str("guildID", guildID).Msg("playback: seeked stream ended with error")
		}
		// A newer restart owns the guard now.
		if e.currentSeekGen(guildID) != gen {
			return
		}
		s.SetSeeking(false)
		e.store.ClearAlone(guildID)
		e.Advance(guildID, false)
	}
	if err := transport.Play(stream, onFinish); err != nil {
		stream.Close()
		s.SetSeeking(false)
		return errors.Wrap(err, "restarting stream")
	}

	e.setStream(guildID, stream)
	cur.StartPlayback(pos)
	zlog.Info().Str("guildID", guildID).Str("track", cur.Filename).
		Dur("position", pos).Msg("playback: stream restarted")
	return nil
}

func (e *Engine) currentName(s *guild.State) string {
	if cur := s.CurrentTrack(); cur != nil {
		return cur.Filename
	}
	return "Unknown"
}

// FormatClock renders a duration as m:ss, or h:mm:ss past the hour.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	sec := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}
