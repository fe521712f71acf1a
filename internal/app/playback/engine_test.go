package playback

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayu3b/beatbox/internal/app/files"
	"github.com/ayu3b/beatbox/internal/app/notify"
	"github.com/ayu3b/beatbox/internal/domain/guild"
	"github.com/ayu3b/beatbox/internal/domain/track"
)

type fakeStream struct {
	mu   sync.Mutex
	gain float64
}

func (f *fakeStream) Read(p []byte) (int, error) { return 0, io.EOF }

func (f *fakeStream) Close() error { return nil }

func (f *fakeStream) SetGain(g float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gain = g
}

func (f *fakeStream) Gain() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gain
}

type fakeTransport struct {
	mu          sync.Mutex
	connected   bool
	playing     bool
	paused      bool
	onFinish    func(error)
	playCalls   int
	disconnects int
	playErr     error
}

func (f *fakeTransport) Play(s Stream, onFinish func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.playing = true
	f.paused = false
	f.onFinish = onFinish
	f.playCalls++
	return nil
}

func (f *fakeTransport) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = false
	f.paused = true
}

func (f *fakeTransport) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = true
	f.paused = false
}

// Stop fires the completion callback synchronously, the way a voice
// connection delivers it when a stream is killed.
func (f *fakeTransport) Stop() {
	f.mu.Lock()
	cb := f.onFinish
	f.onFinish = nil
	f.playing = false
	f.paused = false
	f.mu.Unlock()
	if cb != nil {
		cb(nil)
	}
}

// finish simulates a stream running to its natural end.
func (f *fakeTransport) finish() {
	f.Stop()
}

func (f *fakeTransport) IsPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakeTransport) IsPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.playing = false
	f.paused = false
	f.disconnects++
	return nil
}

type fakeProvider struct {
	mu         sync.Mutex
	transports map[string]*fakeTransport
}

func (p *fakeProvider) Transport(guildID string) (Transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.transports[guildID]
	if !ok {
		return nil, false
	}
	return t, true
}

type fakeBuilder struct {
	mu       sync.Mutex
	requests []StreamRequest
	failPath string
}

func (b *fakeBuilder) Build(req StreamRequest) (Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	if b.failPath != "" && req.Path == b.failPath {
		return nil, errors.New("decode failed")
	}
	return &fakeStream{gain: float64(req.Volume) / 100}, nil
}

func (b *fakeBuilder) lastRequest() StreamRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[len(b.requests)-1]
}

type fakeFetcher struct {
	mu        sync.Mutex
	dir       string
	failURLs  map[string]bool
	durations map[string]time.Duration
	calls     int
}

func (f *fakeFetcher) Fetch(ctx context.Context, t *track.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failURLs[t.URL] {
		return errors.New("download failed")
	}
	path := filepath.Join(f.dir, t.Filename)
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		return err
	}
	t.Path = path
	t.Duration = 3 * time.Minute
	if d, ok := f.durations[t.URL]; ok {
		t.Duration = d
	}
	t.Bitrate = 128
	return nil
}

func (f *fakeFetcher) fetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSettings struct {
	mu             sync.Mutex
	autoplay       bool
	autodisconnect bool
	speed          float64
}

func (s *fakeSettings) Autoplay(string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoplay
}

func (s *fakeSettings) Autodisconnect(string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autodisconnect
}

func (s *fakeSettings) PlaybackSpeed(string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speed == 0 {
		return 1.0
	}
	return s.speed
}

type testRig struct {
	engine    *Engine
	store     *guild.Store
	transport *fakeTransport
	builder   *fakeBuilder
	fetcher   *fakeFetcher
	settings  *fakeSettings
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	dir := t.TempDir()

	store := guild.NewStore(100, 2*time.Second)
	fm := files.NewManager(files.Config{
		TempDir:       dir,
		MaxQueueBytes: 100 * 1024 * 1024,
		MaxTracks:     20,
		ReapInterval:  time.Hour,
		MaxFileAge:    time.Hour,
	})
	transport := &fakeTransport{connected: true}
	provider := &fakeProvider{transports: map[string]*fakeTransport{"g1": transport}}
	builder := &fakeBuilder{}
	fetcher := &fakeFetcher{dir: dir, failURLs: make(map[string]bool), durations: make(map[string]time.Duration)}
	settings := &fakeSettings{autoplay: true, autodisconnect: false}

	engine := NewEngine(Config{
		StreamRestartDelay: time.Millisecond,
		DefaultBitrate:     192,
		MaxBitrate:         320,
	}, store, fm, fetcher, provider, builder, settings, notify.NewManager())

	return &testRig{
		engine:    engine,
		store:     store,
		transport: transport,
		builder:   builder,
		fetcher:   fetcher,
		settings:  settings,
	}
}

// drain runs queued advance requests on the test goroutine so assertions
// stay deterministic without the dispatch loop.
func (r *testRig) drain() {
	for {
		select {
		case req := <-r.engine.requests:
			r.engine.advance(context.Background(), req.guildID, req.force)
		default:
			return
		}
	}
}

func (r *testRig) enqueue(t *testing.T, filename string) *track.Track {
	t.Helper()
	tr := track.New("https://cdn.example/"+filename, filename, "tester", 1024)
	r.store.GetOrCreate("g1").Enqueue(tr)
	return tr
}

func TestAdvancePlaysFirstTrack(t *testing.T) {
	rig := newTestRig(t)
	tr := rig.enqueue(t, "song.mp3")

	rig.engine.advance(context.Background(), "g1", true)

	s := rig.store.GetOrCreate("g1")
	assert.Same(t, tr, s.CurrentTrack())
	assert.Equal(t, 0, s.QueueLen())
	assert.True(t, rig.transport.IsPlaying())
	assert.Equal(t, 1, rig.fetcher.fetchCalls())
	assert.NotEmpty(t, tr.Path)
	assert.FileExists(t, tr.Path)
}

func TestAdvanceSeekGuardBlocks(t *testing.T) {
	rig := newTestRig(t)
	rig.enqueue(t, "song.mp3")
	rig.store.GetOrCreate("g1").SetSeeking(true)

	rig.engine.advance(context.Background(), "g1", true)

	assert.Equal(t, 0, rig.transport.playCalls)
	assert.Equal(t, 1, rig.store.GetOrCreate("g1").QueueLen())
}

func TestAdvanceAutoplayOffRetainsQueue(t *testing.T) {
	rig := newTestRig(t)
	rig.settings.autoplay = false
	rig.enqueue(t, "song.mp3")

	rig.engine.advance(context.Background(), "g1", false)
	assert.Equal(t, 0, rig.transport.playCalls)
	assert.Equal(t, 1, rig.store.GetOrCreate("g1").QueueLen())

	rig.engine.advance(context.Background(), "g1", true)
	assert.Equal(t, 1, rig.transport.playCalls)
}

func TestAdvanceEmptyQueueAutodisconnect(t *testing.T) {
	rig := newTestRig(t)
	rig.settings.autodisconnect = true

	rig.engine.advance(context.Background(), "g1", false)
	assert.Equal(t, 1, rig.transport.disconnects)

	// A second advance finds the connection already gone.
	rig.engine.advance(context.Background(), "g1", false)
	assert.Equal(t, 1, rig.transport.disconnects)
}

func TestAdvanceEmptyQueueWithoutAutodisconnect(t *testing.T) {
	rig := newTestRig(t)
	rig.settings.autodisconnect = false

	rig.engine.advance(context.Background(), "g1", false)

	assert.Equal(t, 0, rig.transport.disconnects)
	assert.True(t, rig.transport.IsConnected())
}

func TestAdvanceWithoutVoiceConnection(t *testing.T) {
	rig := newTestRig(t)
	rig.transport.connected = false
	rig.enqueue(t, "song.mp3")

	rig.engine.advance(context.Background(), "g1", true)

	s := rig.store.GetOrCreate("g1")
	assert.Nil(t, s.CurrentTrack())
	assert.Equal(t, 1, s.QueueLen())
	assert.Equal(t, 0, rig.fetcher.fetchCalls())
}

func TestAdvanceCascadingSkip(t *testing.T) {
	rig := newTestRig(t)
	rig.enqueue(t, "one.mp3")
	bad := rig.enqueue(t, "two.mp3")
	third := rig.enqueue(t, "three.mp3")
	rig.fetcher.failURLs[bad.URL] = true

	rig.engine.advance(context.Background(), "g1", true)
	require.Equal(t, "one.mp3", rig.store.GetOrCreate("g1").CurrentTrack().Filename)

	rig.transport.finish()
	rig.drain()

	s := rig.store.GetOrCreate("g1")
	require.NotNil(t, s.CurrentTrack())
	assert.Same(t, third, s.CurrentTrack())
	assert.Equal(t, 0, s.QueueLen())
	assert.Equal(t, 3, rig.fetcher.fetchCalls())
	assert.True(t, rig.transport.IsPlaying())
}

func TestAdvanceSkipsOverlongTrack(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.config.MaxTrackDuration = 10 * time.Minute

	long := rig.enqueue(t, "epic.flac")
	short := rig.enqueue(t, "song.mp3")
	rig.fetcher.durations[long.URL] = time.Hour

	rig.engine.advance(context.Background(), "g1", true)

	s := rig.store.GetOrCreate("g1")
	require.NotNil(t, s.CurrentTrack())
	assert.Same(t, short, s.CurrentTrack())
	assert.True(t, rig.transport.IsPlaying())
	// The rejected download is deleted, not left for the reaper.
	assert.Empty(t, long.Path)
	assert.NoFileExists(t, filepath.Join(rig.fetcher.dir, "epic.flac"))
}

func TestAdvanceLengthCeilingDisabledByDefault(t *testing.T) {
	rig := newTestRig(t)
	long := rig.enqueue(t, "epic.flac")
	rig.fetcher.durations[long.URL] = time.Hour

	rig.engine.advance(context.Background(), "g1", true)

	assert.Same(t, long, rig.store.GetOrCreate("g1").CurrentTrack())
	assert.True(t, rig.transport.IsPlaying())
}

func TestAdvanceAllTracksFailDisconnects(t *testing.T) {
	rig := newTestRig(t)
	rig.settings.autodisconnect = true
	a := rig.enqueue(t, "a.mp3")
	b := rig.enqueue(t, "b.mp3")
	rig.fetcher.failURLs[a.URL] = true
	rig.fetcher.failURLs[b.URL] = true

	rig.engine.advance(context.Background(), "g1", true)

	s := rig.store.GetOrCreate("g1")
	assert.Nil(t, s.CurrentTrack())
	assert.Equal(t, 0, s.QueueLen())
	assert.Equal(t, 1, rig.transport.disconnects)
}

func TestAdvanceLoopFixedCount(t *testing.T) {
	rig := newTestRig(t)
	tr := rig.enqueue(t, "loop.mp3")

	rig.engine.advance(context.Background(), "g1", true)
	s := rig.store.GetOrCreate("g1")
	require.Same(t, tr, s.CurrentTrack())
	s.SetLoop(true, 3)

	// Two natural completions re-queue the same track without another
	// download, the third exhausts the loop count.
	for i := 0; i < 2; i++ {
		rig.transport.finish()
		rig.drain()
		require.Same(t, tr, s.CurrentTrack(), "replay %d", i+1)
		require.FileExists(t, tr.Path)
	}
	assert.Equal(t, 3, rig.transport.playCalls)
	assert.Equal(t, 1, rig.fetcher.fetchCalls())

	rig.transport.finish()
	rig.drain()

	assert.Nil(t, s.CurrentTrack())
	enabled, count, max := s.Loop()
	assert.False(t, enabled)
	assert.Zero(t, count)
	assert.Zero(t, max)
	assert.Equal(t, 3, rig.transport.playCalls)
}

func TestAdvanceLoopInfinite(t *testing.T) {
	rig := newTestRig(t)
	tr := rig.enqueue(t, "forever.mp3")

	rig.engine.advance(context.Background(), "g1", true)
	s := rig.store.GetOrCreate("g1")
	s.SetLoop(true, 0)

	for i := 0; i < 5; i++ {
		rig.transport.finish()
		rig.drain()
		require.Same(t, tr, s.CurrentTrack())
	}
	enabled, _, _ := s.Loop()
	assert.True(t, enabled)
	assert.Equal(t, 6, rig.transport.playCalls)
	assert.Equal(t, 1, rig.fetcher.fetchCalls())
}

func TestAdvanceLoopRestartsFromZero(t *testing.T) {
	rig := newTestRig(t)
	tr := rig.enqueue(t, "loop.mp3")

	rig.engine.advance(context.Background(), "g1", true)
	s := rig.store.GetOrCreate("g1")
	s.SetLoop(true, 0)
	tr.SetPosition(90 * time.Second)

	rig.transport.finish()
	rig.drain()

	assert.Equal(t, time.Duration(0), rig.builder.lastRequest().Offset)
}

func TestAdvanceReleasesFinishedTrack(t *testing.T) {
	rig := newTestRig(t)
	tr := rig.enqueue(t, "song.mp3")

	rig.engine.advance(context.Background(), "g1", true)
	path := tr.Path
	require.FileExists(t, path)

	rig.transport.finish()
	rig.drain()

	assert.NoFileExists(t, path)
	assert.Empty(t, tr.Path)
	assert.Nil(t, rig.store.GetOrCreate("g1").CurrentTrack())
}

func TestAdvanceStreamBuildFailureSkips(t *testing.T) {
	rig := newTestRig(t)
	bad := rig.enqueue(t, "broken.mp3")
	good := rig.enqueue(t, "fine.mp3")
	rig.builder.failPath = filepath.Join(rig.fetcher.dir, "broken.mp3")

	rig.engine.advance(context.Background(), "g1", true)

	s := rig.store.GetOrCreate("g1")
	assert.Same(t, good, s.CurrentTrack())
	assert.Empty(t, bad.Path)
}

func TestResolveBitrate(t *testing.T) {
	rig := newTestRig(t)

	tests := []struct {
		name     string
		filename string
		bitrate  int
		want     int
	}{
		{"probed bitrate kept", "song.mp3", 256, 256},
		{"probed bitrate clamped", "song.mp3", 1411, 320},
		{"lossless flac", "song.flac", 0, 320},
		{"lossless wav uppercase", "SONG.WAV", 0, 320},
		{"unknown defaults", "song.mp3", 0, 192},
		{"unknown m4a defaults", "song.m4a", 0, 192},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := track.New("u", tt.filename, "r", 0)
			tr.Bitrate = tt.bitrate
			assert.Equal(t, tt.want, rig.engine.resolveBitrate(tr))
		})
	}
}

func TestAdvanceAppliesGuildVolumeAndSpeed(t *testing.T) {
	rig := newTestRig(t)
	rig.settings.speed = 1.5
	rig.enqueue(t, "song.mp3")
	rig.store.GetOrCreate("g1").SetVolume(80)

	rig.engine.advance(context.Background(), "g1", true)

	req := rig.builder.lastRequest()
	assert.Equal(t, 80, req.Volume)
	assert.InDelta(t, 1.5, req.Speed, 0.001)
	assert.Equal(t, 128, req.Bitrate)
}

func TestAdvanceRecoversFromPanic(t *testing.T) {
	rig := newTestRig(t)

	// A nil settings collaborator makes the autoplay check panic; the
	// dispatch path must absorb it.
	rig.engine.settings = nil
	rig.enqueue(t, "song.mp3")

	assert.NotPanics(t, func() {
		rig.engine.advance(context.Background(), "g1", false)
	})
}
