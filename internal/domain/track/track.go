// Package track provides the audio track domain entity.
package track

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultVolume is the volume assigned to a track before a guild
// default is applied.
const DefaultVolume = 100

// Track represents one uploaded audio item, queued or playing.
// Position tracking is wall-clock based: the entity records when
// playback started and derives the current position from that anchor,
// since the decode process offers no progress feedback.
type Track struct {
	ID        string // Internal track ID
	URL       string // Source URL of the uploaded attachment
	Filename  string // Display filename
	Requester string // Display name of the uploader
	Size      int64  // Declared attachment size in bytes

	// Set once the file is materialized locally.
	Path     string        // Local file path, empty until downloaded
	Duration time.Duration // Decoded duration
	Bitrate  int           // Detected bitrate in kbps, 0 until probed

	Volume int // Playback volume percent (0-120)

	mu        sync.Mutex
	position  time.Duration // Authoritative position while not playing
	startedAt time.Time     // Playback clock anchor; zero means never started
	paused    bool
	pausedPos time.Duration // Frozen position while paused
}

// New creates a track for an accepted upload. The file itself is
// materialized lazily, see Path.
func New(url, filename, requester string, size int64) *Track {
	return &Track{
		ID:        uuid.New().String(),
		URL:       url,
		Filename:  filename,
		Requester: requester,
		Size:      size,
		Volume:    DefaultVolume,
	}
}

// StartPlayback records that a decode stream was started at the given
// position. The playback clock anchor is set to "now minus position" so
// CurrentPosition can be derived without querying the decoder. Must be
// called on every stream start or restart, including after seeks.
// A negative position means "start from the stored position".
func (t *Track) StartPlayback(position time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if position < 0 {
		position = t.position
	}
	t.position = position
	t.startedAt = time.Now().Add(-position)
	t.paused = false
}

// PausePlayback freezes the current position. No-op if playback never
// started or the track is already paused.
func (t *Track) PausePlayback() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.paused || t.startedAt.IsZero() {
		return
	}
	t.pausedPos = time.Since(t.startedAt)
	t.paused = true
}

// ResumePlayback re-anchors the playback clock at the frozen position.
// No-op unless the track is paused.
func (t *Track) ResumePlayback() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.paused {
		return
	}
	t.startedAt = time.Now().Add(-t.pausedPos)
	t.paused = false
}

// IsPaused reports whether the track is paused.
func (t *Track) IsPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// SetPosition overwrites the stored position. Used by seek operations
// before the decode stream is restarted.
func (t *Track) SetPosition(position time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.position = position
}

// CurrentPosition returns the playback position derived from the
// wall-clock anchor. Guaranteed to stay within [0, Duration].
func (t *Track) CurrentPosition() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentPositionLocked()
}

func (t *Track) currentPositionLocked() time.Duration {
	var pos time.Duration
	switch {
	case t.startedAt.IsZero():
		pos = t.position
	case t.paused:
		pos = t.pausedPos
	default:
		pos = time.Since(t.startedAt)
	}

	if pos < 0 {
		return 0
	}
	if t.Duration > 0 && pos > t.Duration {
		return t.Duration
	}
	return pos
}

// Remaining returns the time left until the end of the track.
func (t *Track) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	remaining := t.Duration - t.currentPositionLocked()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResetClock clears the playback clock state while keeping the local
// file. The stored position is preserved so a looped track resumes
// bookkeeping from a clean anchor on the next StartPlayback.
func (t *Track) ResetClock() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startedAt = time.Time{}
	t.paused = false
	t.pausedPos = 0
}
