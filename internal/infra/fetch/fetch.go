// Package fetch downloads uploaded attachments into the spool
// directory and probes duration and bitrate with ffprobe. Downloads
// are retried; a file that cannot be probed is treated as unplayable
// and removed.
package fetch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/ayu3b/beatbox/internal/domain/track"
)

// Errors
var (
	ErrDownload = errors.New("download failed")
	ErrMetadata = errors.New("metadata probe failed")
)

// Config holds downloader settings.
type Config struct {
	Dir         string        // Spool directory for downloaded files
	Retries     int           // Download attempts per track
	HTTPTimeout time.Duration // Per-request timeout
	ProbeBinary string        // ffprobe binary, "ffprobe" when empty
}

// Downloader fetches track sources over HTTP.
type Downloader struct {
	config Config
	client *http.Client
	probe  func(ctx context.Context, path string) (probeResult, error)
}

// NewDownloader creates a downloader with sane defaults filled in.
func NewDownloader(config Config) *Downloader {
	if config.Retries <= 0 {
		config.Retries = 3
	}
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = 30 * time.Second
	}
	if config.ProbeBinary == "" {
		config.ProbeBinary = "ffprobe"
	}
	d := &Downloader{
		config: config,
		client: &http.Client{Timeout: config.HTTPTimeout},
	}
	d.probe = d.ffprobe
	return d
}

// Fetch downloads the track's source into the spool directory and
// fills in Path, Size, Duration and Bitrate.
func (d *Downloader) Fetch(ctx context.Context, t *track.Track) error {
	dest := filepath.Join(d.config.Dir, t.ID+"_"+SanitizeFilename(t.Filename))

	var lastErr error
	for attempt := 1; attempt <= d.config.Retries; attempt++ {
		lastErr = d.download(ctx, t.URL, dest)
		if lastErr == nil {
			break
		}
		zlog.Warn().Err(lastErr).Str("track", t.Filename).
			Int("attempt", attempt).Msg("fetch: download attempt failed")
		if attempt < d.config.Retries {
			select {
			case <-ctx.Done():
				return errors.Wrapf(ErrDownload, "%s: %v", t.Filename, ctx.Err())
			case <-time.After(time.Second):
			}
		}
	}
	if lastErr != nil {
		return errors.Wrapf(ErrDownload, "%s: %v", t.Filename, lastErr)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return errors.Wrapf(ErrDownload, "%s: %v", t.Filename, err)
	}

	meta, err := d.probe(ctx, dest)
	if err != nil {
		_ = os.Remove(dest)
		return errors.Wrapf(ErrMetadata, "%s: %v", t.Filename, err)
	}

	t.Path = dest
	t.Size = info.Size()
	t.Duration = meta.duration
	t.Bitrate = meta.bitrateKbps
	zlog.Info().Str("track", t.Filename).Int64("bytes", t.Size).
		Dur("duration", t.Duration).Int("bitrate", t.Bitrate).Msg("fetch: track downloaded")
	return nil
}

// download writes one attempt to dest, removing the partial file on
// any failure.
func (d *Downloader) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("unexpected status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		_ = os.Remove(dest)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dest)
		return err
	}
	return nil
}

type probeResult struct {
	duration    time.Duration
	bitrateKbps int
}

// ffprobe shells out for the container-level format block.
func (d *Downloader) ffprobe(ctx context.Context, path string) (probeResult, error) {
	cmd := exec.CommandContext(ctx, d.config.ProbeBinary,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return probeResult{}, errors.Wrap(err, "running ffprobe")
	}
	return parseProbeOutput(out)
}

// parseProbeOutput extracts duration and bitrate from ffprobe JSON.
// Duration is required; bitrate defaults to zero when absent.
func parseProbeOutput(out []byte) (probeResult, error) {
	var payload struct {
		Format struct {
			Duration string `json:"duration"`
			BitRate  string `json:"bit_rate"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return probeResult{}, errors.Wrap(err, "parsing ffprobe output")
	}

	seconds, err := strconv.ParseFloat(payload.Format.Duration, 64)
	if err != nil || seconds <= 0 {
		return probeResult{}, errors.Newf("no usable duration in probe output: %q", payload.Format.Duration)
	}
	result := probeResult{duration: time.Duration(seconds * float64(time.Second))}

	if payload.Format.BitRate != "" {
		if bps, err := strconv.Atoi(payload.Format.BitRate); err == nil && bps > 0 {
			result.bitrateKbps = bps / 1000
		}
	}
	return result, nil
}

// SanitizeFilename strips everything but letters, digits, dots,
// underscores, hyphens and spaces from an attachment name.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-' || r == ' ':
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" || out == strings.Repeat(".", len(out)) {
		return "track"
	}
	return out
}
