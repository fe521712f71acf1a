// Package guild provides per-guild playback state and the keyed store
// that owns it. Each guild is fully isolated: queue, current track,
// loop policy and activity tracking never cross guild boundaries.
package guild

import (
	"sync"
	"time"

	"github.com/ayu3b/beatbox/internal/domain/track"
)

// State holds the mutable playback state for one guild.
type State struct {
	GuildID string

	mu           sync.Mutex
	queue        []*track.Track
	currentTrack *track.Track
	volume       int  // Guild default volume (0-120)
	seeking      bool // Set while a manual seek owns the stream
	loopEnabled  bool
	loopCount    int
	maxLoops     int // 0 means infinite
	lastActivity time.Time
	lastChannel  string // Last text channel used, for notices
}

func newState(guildID string, volume int) *State {
	return &State{
		GuildID:      guildID,
		volume:       volume,
		lastActivity: time.Now(),
	}
}

// Enqueue appends a track to the end of the queue.
func (s *State) Enqueue(t *track.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, t)
}

// RequeueFront puts a track back at the head of the queue. This is the
// loop re-insertion path and the only exception to FIFO ordering.
func (s *State) RequeueFront(t *track.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append([]*track.Track{t}, s.queue...)
}

// PopFront removes and returns the queue head, or nil if empty.
func (s *State) PopFront() *track.Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil
	}
	t := s.queue[0]
	s.queue = s.queue[1:]
	return t
}

// RemoveAt removes the track at the given 1-indexed queue position.
// Returns nil if the position is out of range.
func (s *State) RemoveAt(position int) *track.Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	if position < 1 || position > len(s.queue) {
		return nil
	}
	t := s.queue[position-1]
	s.queue = append(s.queue[:position-1], s.queue[position:]...)
	return t
}

// ClearQueue empties the queue and returns the removed tracks so the
// caller can release them.
func (s *State) ClearQueue() []*track.Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.queue
	s.queue = nil
	return removed
}

// Queue returns a copy of the queued tracks in play order.
func (s *State) Queue() []*track.Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*track.Track, len(s.queue))
	copy(result, s.queue)
	return result
}

// QueueLen returns the number of queued tracks.
func (s *State) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// QueueBytes returns the cumulative declared size of all queued tracks.
func (s *State) QueueBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, t := range s.queue {
		total += t.Size
	}
	return total
}

// PeekNext returns the queue head without removing it.
func (s *State) PeekNext() *track.Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil
	}
	return s.queue[0]
}

// CurrentTrack returns the active track, or nil.
func (s *State) CurrentTrack() *track.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTrack
}

// SetCurrentTrack assigns the active track. At most one track per guild
// may be active; the caller releases any previous one.
func (s *State) SetCurrentTrack(t *track.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTrack = t
}

// Volume returns the guild default volume.
func (s *State) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// SetVolume sets the guild default volume (0-120).
func (s *State) SetVolume(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
}

// IsSeeking reports whether a manual seek currently owns the stream.
func (s *State) IsSeeking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeking
}

// SetSeeking sets the seek guard consulted by the advance path.
func (s *State) SetSeeking(seeking bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeking = seeking
}

// Loop returns the loop policy: enabled flag, completed loop count and
// the configured maximum (0 = infinite).
func (s *State) Loop() (enabled bool, count, max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopEnabled, s.loopCount, s.maxLoops
}

// SetLoop enables or disables looping. max = 0 loops forever.
func (s *State) SetLoop(enabled bool, max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loopEnabled = enabled
	s.loopCount = 0
	s.maxLoops = max
}

// IncrementLoopCount bumps the completed loop counter and reports
// whether the configured maximum has been reached.
func (s *State) IncrementLoopCount() (reachedMax bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxLoops == 0 {
		return false
	}
	s.loopCount++
	if s.loopCount >= s.maxLoops {
		s.loopEnabled = false
		s.loopCount = 0
		s.maxLoops = 0
		return true
	}
	return false
}

// Touch refreshes the activity timestamp consulted by the idle sweep.
func (s *State) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// LastActivity returns the most recent activity timestamp.
func (s *State) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// LastChannel returns the last text channel used for this guild.
func (s *State) LastChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChannel
}

// SetLastChannel records the text channel to post notices to.
func (s *State) SetLastChannel(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastChannel = channelID
}
