package guild

import (
	"sync"
	"time"
)

// Store maps guild IDs to their playback state. It also owns the two
// auxiliary maps shared across guild operations: the alone timers and
// the rate-limit timestamps. All access goes through accessor methods
// so callers never share the underlying structures.
type Store struct {
	mu            sync.Mutex
	states        map[string]*State
	aloneSince    map[string]time.Time
	rateLimits    map[string]time.Time
	defaultVolume int
	rateCooldown  time.Duration
}

// NewStore creates an empty store. New guild states start at
// defaultVolume; rateCooldown is the minimum gap between rate-limited
// actions per guild.
func NewStore(defaultVolume int, rateCooldown time.Duration) *Store {
	return &Store{
		states:        make(map[string]*State),
		aloneSince:    make(map[string]time.Time),
		rateLimits:    make(map[string]time.Time),
		defaultVolume: defaultVolume,
		rateCooldown:  rateCooldown,
	}
}

// GetOrCreate returns the state for a guild, creating it on first
// access. The activity timestamp is refreshed as a side effect; this is
// the single touchpoint the idle sweep relies on.
func (st *Store) GetOrCreate(guildID string) *State {
	st.mu.Lock()
	s, ok := st.states[guildID]
	if !ok {
		s = newState(guildID, st.defaultVolume)
		st.states[guildID] = s
	}
	st.mu.Unlock()

	s.Touch()
	return s
}

// Peek returns the state for a guild without creating one or
// refreshing activity. Used by the sweep so inspection does not keep a
// guild alive.
func (st *Store) Peek(guildID string) (*State, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.states[guildID]
	return s, ok
}

// Evict removes a guild's state. Only the idle sweep calls this.
func (st *Store) Evict(guildID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.states, guildID)
}

// All returns a snapshot of every guild state.
func (st *Store) All() []*State {
	st.mu.Lock()
	defer st.mu.Unlock()

	result := make([]*State, 0, len(st.states))
	for _, s := range st.states {
		result = append(result, s)
	}
	return result
}

// MarkAlone records when the bot was first observed alone in a voice
// channel. A second call for the same guild keeps the original time.
func (st *Store) MarkAlone(guildID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.aloneSince[guildID]; !ok {
		st.aloneSince[guildID] = time.Now()
	}
}

// ClearAlone drops the alone timer for a guild.
func (st *Store) ClearAlone(guildID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.aloneSince, guildID)
}

// AloneSince returns when the bot was first observed alone, if ever.
func (st *Store) AloneSince(guildID string) (time.Time, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	t, ok := st.aloneSince[guildID]
	return t, ok
}

// AloneLongerThan returns the guilds whose alone timer is older than
// the given grace period.
func (st *Store) AloneLongerThan(grace time.Duration) []string {
	st.mu.Lock()
	defer st.mu.Unlock()

	cutoff := time.Now().Add(-grace)
	var expired []string
	for guildID, since := range st.aloneSince {
		if since.Before(cutoff) {
			expired = append(expired, guildID)
		}
	}
	return expired
}

// AllowAction checks the per-guild rate limit. It returns false when
// the previous action was within the cooldown window; otherwise the
// action is recorded and allowed.
func (st *Store) AllowAction(guildID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	if last, ok := st.rateLimits[guildID]; ok && now.Sub(last) < st.rateCooldown {
		return false
	}
	st.rateLimits[guildID] = now
	return true
}

// PruneRateLimits drops rate-limit entries older than maxAge.
func (st *Store) PruneRateLimits(maxAge time.Duration) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	pruned := 0
	for guildID, last := range st.rateLimits {
		if last.Before(cutoff) {
			delete(st.rateLimits, guildID)
			pruned++
		}
	}
	return pruned
}
