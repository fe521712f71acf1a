package ffmpeg

import (
	"encoding/binary"
	"io"
	"os/exec"
	"sync"
)

const maxGain = 1.2

// Stream wraps a running ffmpeg process. Reads pull decoded PCM from
// the process stdout with the current gain applied in place.
type Stream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	mu   sync.Mutex
	gain float64

	closeOnce sync.Once
	closeErr  error
}

func newStream(cmd *exec.Cmd, stdout io.ReadCloser, gain float64) *Stream {
	return &Stream{
		cmd:    cmd,
		stdout: stdout,
		gain:   clampGain(gain),
	}
}

// Read pulls decoded samples and scales them by the current gain.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if n > 0 {
		if g := s.Gain(); g != 1.0 {
			applyGain(p[:n], g)
		}
	}
	return n, err
}

// SetGain updates the output gain, clamped to 0.0 through 1.2.
func (s *Stream) SetGain(gain float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gain = clampGain(gain)
}

// Gain returns the current output gain.
func (s *Stream) Gain() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain
}

// Close kills the decoder process and releases the pipe. Idempotent.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd != nil && s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		s.closeErr = s.stdout.Close()
		if s.cmd != nil {
			_ = s.cmd.Wait()
		}
	})
	return s.closeErr
}

func clampGain(gain float64) float64 {
	if gain < 0 {
		return 0
	}
	if gain > maxGain {
		return maxGain
	}
	return gain
}

// applyGain scales interleaved s16le samples in place, clipping at the
// int16 range. A trailing odd byte is left untouched.
func applyGain(buf []byte, gain float64) {
	for i := 0; i+1 < len(buf); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(buf[i : i+2]))
		scaled := float64(sample) * gain
		switch {
		case scaled > 32767:
			scaled = 32767
		case scaled < -32768:
			scaled = -32768
		}
		binary.LittleEndian.PutUint16(buf[i:i+2], uint16(int16(scaled)))
	}
}
