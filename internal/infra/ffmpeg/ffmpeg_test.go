package ffmpeg

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayu3b/beatbox/internal/app/playback"
)

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name     string
		req      playback.StreamRequest
		contains []string
		excludes []string
	}{
		{
			name: "basic decode",
			req:  playback.StreamRequest{Path: "/tmp/a.mp3", Bitrate: 192, Speed: 1.0},
			contains: []string{
				"-i /tmp/a.mp3", "-f s16le", "-ar 48000", "-ac 2", "-b:a 192k", "pipe:1",
			},
			excludes: []string{"-ss", "-filter:a"},
		},
		{
			name:     "with offset",
			req:      playback.StreamRequest{Path: "/tmp/a.mp3", Offset: 75500 * time.Millisecond, Bitrate: 320, Speed: 1.0},
			contains: []string{"-ss 75.500", "-b:a 320k"},
		},
		{
			name:     "with speed",
			req:      playback.StreamRequest{Path: "/tmp/a.mp3", Bitrate: 192, Speed: 1.5},
			contains: []string{"-filter:a atempo=1.5000"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			joined := strings.Join(buildArgs(tt.req), " ")
			for _, want := range tt.contains {
				assert.Contains(t, joined, want)
			}
			for _, not := range tt.excludes {
				assert.NotContains(t, joined, not)
			}
		})
	}
}

func TestAtempoChain(t *testing.T) {
	tests := []struct {
		speed float64
		want  string
	}{
		{1.0, ""},
		{0, ""},
		{-1, ""},
		{1.5, "atempo=1.5000"},
		{0.5, "atempo=0.5000"},
		{2.0, "atempo=2.0000"},
		{3.0, "atempo=2.0,atempo=1.5000"},
		{4.0, "atempo=2.0,atempo=2.0000"},
		{0.25, "atempo=0.5,atempo=0.5000"},
		{0.4, "atempo=0.5,atempo=0.8000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, atempoChain(tt.speed), "speed %v", tt.speed)
	}
}

func pcmBytes(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestApplyGain(t *testing.T) {
	buf := pcmBytes(1000, -1000, 0)
	applyGain(buf, 0.5)
	assert.Equal(t, pcmBytes(500, -500, 0), buf)
}

func TestApplyGainClips(t *testing.T) {
	buf := pcmBytes(30000, -30000)
	applyGain(buf, 1.2)
	assert.Equal(t, pcmBytes(32767, -32768), buf)
}

func TestStreamReadAppliesGain(t *testing.T) {
	src := io.NopCloser(bytes.NewReader(pcmBytes(2000, -2000)))
	s := newStream(nil, src, 0.5)

	out := make([]byte, 4)
	n, err := io.ReadFull(s, out)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	assert.Equal(t, pcmBytes(1000, -1000), out)
}

func TestStreamGainClamped(t *testing.T) {
	s := newStream(nil, io.NopCloser(bytes.NewReader(nil)), 5.0)
	assert.InDelta(t, 1.2, s.Gain(), 0.001)

	s.SetGain(-1)
	assert.Zero(t, s.Gain())
	s.SetGain(0.8)
	assert.InDelta(t, 0.8, s.Gain(), 0.001)
}

func TestStreamCloseIdempotent(t *testing.T) {
	s := newStream(nil, io.NopCloser(bytes.NewReader(nil)), 1.0)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
