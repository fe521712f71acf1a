// Package playback implements the per-guild play-next state machine:
// queue advancement, loop and autoplay policy, seek and transport
// operations. All queue advancement for all guilds is serialized
// through a single dispatch goroutine; stream completion callbacks
// re-enter the engine only through that channel, never inline.
package playback

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ayu3b/beatbox/internal/domain/track"
)

// Errors
var (
	ErrNoTrack      = errors.New("no track playing")
	ErrNotPlaying   = errors.New("nothing is playing")
	ErrNotPaused    = errors.New("nothing is paused")
	ErrNotConnected = errors.New("not connected to a voice channel")
	ErrQueueEmpty   = errors.New("queue is empty")
	ErrBadPosition  = errors.New("queue position out of range")
	ErrBadVolume    = errors.New("volume out of range")
	ErrBadSeek      = errors.New("seek target out of range")
	ErrBadLoopCount = errors.New("loop count must be positive")
)

// Stream is a decoded audio stream ready to hand to a voice transport:
// s16le 48kHz stereo PCM with an adjustable software gain. Closing it
// releases the decoder.
type Stream interface {
	io.ReadCloser
	SetGain(gain float64)
	Gain() float64
}

// StreamRequest describes how to decode a downloaded file.
type StreamRequest struct {
	Path    string
	Offset  time.Duration
	Bitrate int     // Output bitrate in kbps
	Speed   float64 // Playback speed, 1.0 is normal
	Volume  int     // Initial gain in percent, 0-120
}

// StreamBuilder turns a downloaded file into a playable stream.
type StreamBuilder interface {
	Build(req StreamRequest) (Stream, error)
}

// Transport is a live voice connection for a single guild. Play hands
// a stream to the connection; onFinish fires exactly once when the
// stream ends, whether it ran to completion or was stopped.
type Transport interface {
	Play(stream Stream, onFinish func(error)) error
	Pause()
	Resume()
	Stop()
	IsPlaying() bool
	IsPaused() bool
	IsConnected() bool
	Disconnect() error
}

// TransportProvider resolves the active voice transport for a guild.
// The engine never initiates connections itself.
type TransportProvider interface {
	Transport(guildID string) (Transport, bool)
}

// Fetcher downloads a track's source file into the spool directory and
// fills in Path, Size, Duration and Bitrate.
type Fetcher interface {
	Fetch(ctx context.Context, t *track.Track) error
}

// Settings exposes the per-guild toggles the engine consults on every
// advance. Implementations return sensible defaults on lookup failure.
type Settings interface {
	Autoplay(guildID string) bool
	Autodisconnect(guildID string) bool
	PlaybackSpeed(guildID string) float64
}
