// Package ffmpeg decodes downloaded audio files into the raw PCM the
// voice transport consumes, by shelling out to ffmpeg. Output is
// s16le, 48kHz, stereo on stdout; seeking and speed are handled with
// ffmpeg arguments, volume with a software gain stage on the decoded
// samples.
package ffmpeg

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/ayu3b/beatbox/internal/app/playback"
)

const (
	sampleRate = 48000
	channels   = 2
)

// Builder builds decode streams with a configurable ffmpeg binary.
type Builder struct {
	binary string
}

// NewBuilder returns a builder using the given ffmpeg binary, or plain
// "ffmpeg" from PATH when empty.
func NewBuilder(binary string) *Builder {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Builder{binary: binary}
}

// Build starts an ffmpeg process decoding the requested file and
// returns its PCM output as a stream.
func (b *Builder) Build(req playback.StreamRequest) (playback.Stream, error) {
	args := buildArgs(req)
	cmd := exec.Command(b.binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "creating ffmpeg stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "starting %s", b.binary)
	}

	zlog.Debug().Str("path", req.Path).Dur("offset", req.Offset).
		Int("bitrate", req.Bitrate).Float64("speed", req.Speed).Msg("ffmpeg: decode started")
	return newStream(cmd, stdout, float64(req.Volume)/100), nil
}

// buildArgs assembles the ffmpeg command line for a request.
func buildArgs(req playback.StreamRequest) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if req.Offset > 0 {
		args = append(args, "-ss", strconv.FormatFloat(req.Offset.Seconds(), 'f', 3, 64))
	}
	args = append(args,
		"-i", req.Path,
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-b:a", fmt.Sprintf("%dk", req.Bitrate),
	)
	if chain := atempoChain(req.Speed); chain != "" {
		args = append(args, "-filter:a", chain)
	}
	return append(args, "pipe:1")
}

// atempoChain renders the speed multiplier as chained atempo stages.
// A single atempo filter only accepts 0.5 to 2.0, so anything outside
// is decomposed into boundary stages plus a remainder.
func atempoChain(speed float64) string {
	if speed <= 0 || speed == 1.0 {
		return ""
	}

	var stages []string
	for speed > 2.0 {
		stages = append(stages, "atempo=2.0")
		speed /= 2.0
	}
	for speed < 0.5 {
		stages = append(stages, "atempo=0.5")
		speed *= 2.0
	}
	if speed != 1.0 || len(stages) == 0 {
		stages = append(stages, fmt.Sprintf("atempo=%.4f", speed))
	}
	return strings.Join(stages, ",")
}
