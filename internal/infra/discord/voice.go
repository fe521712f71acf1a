// Package discord adapts the bot core to the Discord gateway: voice
// transports that pump PCM into a voice connection as opus, the
// attachment upload handler, the slash-command surface, presence
// watching for the alone timers, and the notice sink.
package discord

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"layeh.com/gopus"

	"github.com/ayu3b/beatbox/internal/app/playback"
)

const (
	sampleRate = 48000
	channels   = 2
	frameSize  = 960 // 20ms at 48kHz
)

// ErrTransportBusy means Play was called while a stream is active.
var ErrTransportBusy = errors.New("a stream is already active")

// VoiceTransport drives one guild's voice connection. It satisfies
// playback.Transport.
type VoiceTransport struct {
	guildID string

	mu      sync.Mutex
	vc      *discordgo.VoiceConnection
	playing bool
	paused  bool
	stop    chan struct{}
}

// Play starts pumping the stream into the voice connection on its own
// goroutine. onFinish fires exactly once when the stream ends, whether
// it ran out or was stopped.
func (t *VoiceTransport) Play(stream playback.Stream, onFinish func(error)) error {
	t.mu.Lock()
	if t.vc == nil || !t.vc.Ready {
		t.mu.Unlock()
		return playback.ErrNotConnected
	}
	if t.playing || t.paused {
		t.mu.Unlock()
		return ErrTransportBusy
	}
	stop := make(chan struct{})
	t.stop = stop
	t.playing = true
	t.paused = false
	vc := t.vc
	t.mu.Unlock()

	go func() {
		err := t.pump(vc, stream, stop)
		stream.Close()

		t.mu.Lock()
		if t.stop == stop {
			t.playing = false
			t.paused = false
			t.stop = nil
		}
		t.mu.Unlock()

		if onFinish != nil {
			onFinish(err)
		}
	}()
	return nil
}

// pump reads 20ms PCM frames, encodes them to opus and ships them out.
// Returns nil on natural end of stream or stop, an error otherwise.
func (t *VoiceTransport) pump(vc *discordgo.VoiceConnection, stream playback.Stream, stop <-chan struct{}) error {
	encoder, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return errors.Wrap(err, "creating opus encoder")
	}

	if err := vc.Speaking(true); err != nil {
		zlog.Warn().Err(err).Str("guildID", t.guildID).Msg("discord: speaking(true) failed")
	}
	defer func() {
		if err := vc.Speaking(false); err != nil {
			zlog.Debug().Err(err).Str("guildID", t.guildID).Msg("discord: speaking(false) failed")
		}
	}()

	pcm := make([]byte, frameSize*channels*2)
	samples := make([]int16, frameSize*channels)
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		if t.IsPaused() {
			select {
			case <-stop:
				return nil
			case <-time.After(20 * time.Millisecond):
			}
			continue
		}

		if _, err := io.ReadFull(stream, pcm); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return errors.Wrap(err, "reading pcm")
		}
		for i := range samples {
			samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		}

		opus, err := encoder.Encode(samples, frameSize, len(pcm))
		if err != nil {
			return errors.Wrap(err, "encoding frame")
		}

		select {
		case vc.OpusSend <- opus:
		case <-stop:
			return nil
		case <-time.After(time.Second):
			return errors.New("voice send timed out")
		}
	}
}

// Pause suspends frame delivery without tearing the stream down.
func (t *VoiceTransport) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.playing {
		t.playing = false
		t.paused = true
	}
}

// Resume continues a paused stream.
func (t *VoiceTransport) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused {
		t.paused = false
		t.playing = true
	}
}

// Stop kills the active stream. The completion callback fires from the
// pump goroutine.
func (t *VoiceTransport) Stop() {
	t.mu.Lock()
	stop := t.stop
	t.stop = nil
	t.playing = false
	t.paused = false
	t.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (t *VoiceTransport) IsPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

func (t *VoiceTransport) IsPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

func (t *VoiceTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vc != nil && t.vc.Ready
}

// Disconnect stops any stream and leaves the voice channel.
func (t *VoiceTransport) Disconnect() error {
	t.Stop()

	t.mu.Lock()
	vc := t.vc
	t.vc = nil
	t.mu.Unlock()

	if vc == nil {
		return nil
	}
	return errors.Wrap(vc.Disconnect(), "leaving voice channel")
}

// ChannelID returns the voice channel the transport is connected to.
func (t *VoiceTransport) ChannelID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.vc == nil {
		return ""
	}
	return t.vc.ChannelID
}

// VoiceManager owns the per-guild transports. It satisfies
// playback.TransportProvider.
type VoiceManager struct {
	session *discordgo.Session

	mu         sync.Mutex
	transports map[string]*VoiceTransport
}

// NewVoiceManager creates a manager bound to a gateway session.
func NewVoiceManager(session *discordgo.Session) *VoiceManager {
	return &VoiceManager{
		session:    session,
		transports: make(map[string]*VoiceTransport),
	}
}

// Transport returns the guild's transport if one was ever connected.
func (m *VoiceManager) Transport(guildID string) (playback.Transport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transports[guildID]
	if !ok {
		return nil, false
	}
	return t, true
}

// voice returns the concrete transport for handlers that need channel
// information.
func (m *VoiceManager) voice(guildID string) (*VoiceTransport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transports[guildID]
	return t, ok
}

// Connect joins the given voice channel, reusing the guild's transport
// if it exists. Joining deafened; the bot never listens.
func (m *VoiceManager) Connect(guildID, channelID string) (*VoiceTransport, error) {
	vc, err := m.session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, errors.Wrap(err, "joining voice channel")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transports[guildID]
	if !ok {
		t = &VoiceTransport{guildID: guildID}
		m.transports[guildID] = t
	}
	t.mu.Lock()
	t.vc = vc
	t.mu.Unlock()
	return t, nil
}

// DisconnectAll tears down every connected transport, used on shutdown.
func (m *VoiceManager) DisconnectAll() {
	m.mu.Lock()
	transports := make([]*VoiceTransport, 0, len(m.transports))
	for _, t := range m.transports {
		transports = append(transports, t)
	}
	m.mu.Unlock()

	for _, t := range transports {
		if err := t.Disconnect(); err != nil {
			zlog.Debug().Err(err).Str("guildID", t.guildID).Msg("discord: shutdown disconnect failed")
		}
	}
}
