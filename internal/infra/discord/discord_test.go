package discord

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayu3b/beatbox/internal/app/notify"
	"github.com/ayu3b/beatbox/internal/app/playback"
	"github.com/ayu3b/beatbox/internal/infra/settings"
)

func TestIsSupportedAudio(t *testing.T) {
	tests := []struct {
		filename string
		want     bool
	}{
		{"song.mp3", true},
		{"SONG.MP3", true},
		{"clip.flac", true},
		{"video.mp4", true},
		{"voice.ogg", true},
		{"document.pdf", false},
		{"archive.zip", false},
		{"mp3", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, isSupportedAudio(tt.filename))
		})
	}
}

func TestUploadSummary(t *testing.T) {
	t.Run("all added", func(t *testing.T) {
		n := uploadSummary(2*1024*1024, []string{"a.mp3", "b.mp3"}, nil)
		assert.Equal(t, notify.SeveritySuccess, n.Severity)
		assert.Contains(t, n.Body, "Added 2 tracks")
		assert.Contains(t, n.Body, "1. a.mp3")
		require.Len(t, n.Fields, 1)
		assert.Equal(t, "2.0MB", n.Fields[0].Value)
	})

	t.Run("nothing added is a warning", func(t *testing.T) {
		n := uploadSummary(0, nil, []string{"a.mp3 (rate_limited)"})
		assert.Equal(t, notify.SeverityWarning, n.Severity)
		assert.Contains(t, n.Body, "Rejected 1 tracks")
	})
}

func TestBuildEmbed(t *testing.T) {
	embed := buildEmbed(notify.Notice{
		Title:    "Now Playing",
		Body:     "track.mp3",
		Severity: notify.SeveritySuccess,
		Fields:   []notify.Field{{Name: "Up next", Value: "other.mp3"}},
	})
	assert.Equal(t, "Now Playing", embed.Title)
	assert.Equal(t, "track.mp3", embed.Description)
	assert.Equal(t, colorSuccess, embed.Color)
	require.Len(t, embed.Fields, 1)
	assert.Equal(t, "Up next", embed.Fields[0].Name)
}

func TestSeverityColor(t *testing.T) {
	assert.Equal(t, colorInfo, severityColor(notify.SeverityInfo))
	assert.Equal(t, colorSuccess, severityColor(notify.SeveritySuccess))
	assert.Equal(t, colorWarning, severityColor(notify.SeverityWarning))
	assert.Equal(t, colorError, severityColor(notify.SeverityError))
}

func TestErrorNotice(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantTitle string
		wantSev   notify.Severity
	}{
		{"no track", playback.ErrNoTrack, "No Track", notify.SeverityWarning},
		{"not connected", playback.ErrNotConnected, "Not Connected", notify.SeverityWarning},
		{"wrapped queue empty", errors.Wrap(playback.ErrQueueEmpty, "remove"), "Queue Empty", notify.SeverityWarning},
		{"bad speed", settings.ErrBadSpeed, "Bad Speed", notify.SeverityWarning},
		{"unexpected", errors.New("disk on fire"), "Command Failed", notify.SeverityError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := errorNotice(tt.err)
			assert.Equal(t, tt.wantTitle, n.Title)
			assert.Equal(t, tt.wantSev, n.Severity)
		})
	}
}

func TestFirstLine(t *testing.T) {
	err := errors.Wrapf(playback.ErrBadPosition, "valid range is 1-5")
	assert.Equal(t, "Valid range is 1-5.", firstLine(err))
}

func TestCommandDefinitionsAreWellFormed(t *testing.T) {
	defs := commandDefinitions()
	require.NotEmpty(t, defs)

	seen := make(map[string]bool)
	for _, cmd := range defs {
		assert.False(t, seen[cmd.Name], "duplicate command %s", cmd.Name)
		seen[cmd.Name] = true
		assert.NotEmpty(t, cmd.Description, "command %s has no description", cmd.Name)
	}
	for _, name := range []string{"play", "skip", "queue", "timestamp", "blacklist"} {
		assert.True(t, seen[name], "missing command %s", name)
	}
}
