package guild

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ayu3b/beatbox/internal/domain/track"
)

func makeTrack(name string, size int64) *track.Track {
	return track.New("https://cdn.example.com/"+name, name, "uploader", size)
}

func TestState_QueueOrdering(t *testing.T) {
	s := newState("g1", 100)

	a := makeTrack("a.mp3", 1)
	b := makeTrack("b.mp3", 2)
	c := makeTrack("c.mp3", 3)

	s.Enqueue(a)
	s.Enqueue(b)
	s.RequeueFront(c)

	assert.Equal(t, 3, s.QueueLen())
	assert.Equal(t, int64(6), s.QueueBytes())
	assert.Same(t, c, s.PeekNext())

	assert.Same(t, c, s.PopFront())
	assert.Same(t, a, s.PopFront())
	assert.Same(t, b, s.PopFront())
	assert.Nil(t, s.PopFront())
}

func TestState_RemoveAt(t *testing.T) {
	tests := []struct {
		name     string
		position int
		removed  string // filename of removed track, empty = rejected
		left     int
	}{
		{name: "position zero rejected", position: 0, removed: "", left: 3},
		{name: "negative rejected", position: -1, removed: "", left: 3},
		{name: "past end rejected", position: 4, removed: "", left: 3},
		{name: "head removed", position: 1, removed: "a.mp3", left: 2},
		{name: "middle removed", position: 2, removed: "b.mp3", left: 2},
		{name: "tail removed", position: 3, removed: "c.mp3", left: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newState("g1", 100)
			s.Enqueue(makeTrack("a.mp3", 1))
			s.Enqueue(makeTrack("b.mp3", 1))
			s.Enqueue(makeTrack("c.mp3", 1))

			removed := s.RemoveAt(tt.position)
			if tt.removed == "" {
				assert.Nil(t, removed)
			} else {
				assert.Equal(t, tt.removed, removed.Filename)
			}
			assert.Equal(t, tt.left, s.QueueLen())
		})
	}
}

func TestState_Loop(t *testing.T) {
	s := newState("g1", 100)

	s.SetLoop(true, 3)
	enabled, count, max := s.Loop()
	assert.True(t, enabled)
	assert.Equal(t, 0, count)
	assert.Equal(t, 3, max)

	assert.False(t, s.IncrementLoopCount())
	assert.False(t, s.IncrementLoopCount())
	assert.True(t, s.IncrementLoopCount())

	// Reaching max disables looping and resets counters.
	enabled, count, max = s.Loop()
	assert.False(t, enabled)
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, max)
}

func TestState_InfiniteLoopNeverReachesMax(t *testing.T) {
	s := newState("g1", 100)
	s.SetLoop(true, 0)

	for i := 0; i < 10; i++ {
		assert.False(t, s.IncrementLoopCount())
	}
	enabled, _, _ := s.Loop()
	assert.True(t, enabled)
}

func TestStore_GetOrCreate(t *testing.T) {
	store := NewStore(100, 2*time.Second)

	s1 := store.GetOrCreate("g1")
	assert.Equal(t, "g1", s1.GuildID)
	assert.Equal(t, 100, s1.Volume())

	before := s1.LastActivity()
	time.Sleep(10 * time.Millisecond)

	s2 := store.GetOrCreate("g1")
	assert.Same(t, s1, s2)
	assert.True(t, s2.LastActivity().After(before), "access must refresh activity")

	_, ok := store.Peek("g2")
	assert.False(t, ok)
	assert.Len(t, store.All(), 1)
}

func TestStore_Evict(t *testing.T) {
	store := NewStore(100, 2*time.Second)
	store.GetOrCreate("g1")

	store.Evict("g1")
	_, ok := store.Peek("g1")
	assert.False(t, ok)
}

func TestStore_AloneTimers(t *testing.T) {
	store := NewStore(100, 2*time.Second)

	store.MarkAlone("g1")
	first, ok := store.AloneSince("g1")
	assert.True(t, ok)

	// Re-marking keeps the original observation time.
	time.Sleep(10 * time.Millisecond)
	store.MarkAlone("g1")
	again, _ := store.AloneSince("g1")
	assert.Equal(t, first, again)

	assert.Empty(t, store.AloneLongerThan(time.Minute))
	assert.Equal(t, []string{"g1"}, store.AloneLongerThan(0))

	store.ClearAlone("g1")
	_, ok = store.AloneSince("g1")
	assert.False(t, ok)
}

func TestStore_RateLimit(t *testing.T) {
	store := NewStore(100, 50*time.Millisecond)

	assert.True(t, store.AllowAction("g1"))
	assert.False(t, store.AllowAction("g1"), "second action inside cooldown rejected")
	assert.True(t, store.AllowAction("g2"), "guilds are independent")

	time.Sleep(60 * time.Millisecond)
	assert.True(t, store.AllowAction("g1"))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 2, store.PruneRateLimits(10*time.Millisecond))
}
