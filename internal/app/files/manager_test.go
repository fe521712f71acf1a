package files

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(Config{
		TempDir:       t.TempDir(),
		MaxQueueBytes: 100,
		MaxTracks:     3,
		ReapInterval:  0,
		MaxFileAge:    time.Hour,
	})
}

func TestManager_CanAdmit(t *testing.T) {
	tests := []struct {
		name       string
		queueBytes int64
		queueLen   int
		incoming   int64
		expected   bool
	}{
		{name: "well under limits", queueBytes: 10, queueLen: 1, incoming: 10, expected: true},
		{name: "exactly at byte limit", queueBytes: 60, queueLen: 1, incoming: 40, expected: true},
		{name: "one byte over limit", queueBytes: 60, queueLen: 1, incoming: 41, expected: false},
		{name: "track count full", queueBytes: 0, queueLen: 3, incoming: 1, expected: false},
		{name: "empty queue large file", queueBytes: 0, queueLen: 0, incoming: 100, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testManager(t)
			assert.Equal(t, tt.expected, m.CanAdmit(tt.queueBytes, tt.queueLen, tt.incoming))
		})
	}
}

func TestManager_ActiveSet(t *testing.T) {
	m := testManager(t)

	m.MarkActive("/tmp/a.mp3")
	assert.True(t, m.IsActive("/tmp/a.mp3"))

	// Idempotent both ways.
	m.MarkActive("/tmp/a.mp3")
	m.MarkInactive("/tmp/a.mp3")
	assert.False(t, m.IsActive("/tmp/a.mp3"))
	m.MarkInactive("/tmp/a.mp3")

	// Empty paths are ignored.
	m.MarkActive("")
	assert.False(t, m.IsActive(""))
}

func writeAged(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	old := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, old, old))
	return path
}

func TestManager_ReapSkipsActiveFiles(t *testing.T) {
	m := NewManager(Config{
		TempDir:      t.TempDir(),
		ReapInterval: 0,
		MaxFileAge:   time.Minute,
	})

	stale := writeAged(t, m.TempDir(), "stale.mp3", time.Hour)
	inUse := writeAged(t, m.TempDir(), "inuse.mp3", time.Hour)
	fresh := writeAged(t, m.TempDir(), "fresh.mp3", time.Second)

	m.MarkActive(inUse)

	removed, failed := m.Reap()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, failed)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, inUse, "active files are never reaped regardless of age")
	assert.FileExists(t, fresh)
}

func TestManager_ReapThrottled(t *testing.T) {
	m := NewManager(Config{
		TempDir:      t.TempDir(),
		ReapInterval: time.Hour,
		MaxFileAge:   time.Minute,
	})

	stale := writeAged(t, m.TempDir(), "stale.mp3", time.Hour)

	removed, _ := m.Reap()
	assert.Equal(t, 1, removed)

	// Second run inside the interval is a no-op even with new stale files.
	writeAged(t, m.TempDir(), "stale2.mp3", time.Hour)
	removed, _ = m.Reap()
	assert.Equal(t, 0, removed)
	assert.NoFileExists(t, stale)
}

func TestManager_FlushIgnoresAgeAndThrottle(t *testing.T) {
	m := NewManager(Config{
		TempDir:      t.TempDir(),
		ReapInterval: time.Hour,
		MaxFileAge:   time.Hour,
	})

	// Consume the reap throttle so a plain Reap would be a no-op.
	m.Reap()

	fresh := writeAged(t, m.TempDir(), "fresh.mp3", time.Second)
	inUse := writeAged(t, m.TempDir(), "inuse.mp3", time.Second)
	m.MarkActive(inUse)

	removed, failed := m.Flush()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, failed)

	assert.NoFileExists(t, fresh)
	assert.NoFileExists(t, inUse, "flush drops active files too")
	assert.False(t, m.IsActive(inUse))
}

func TestManager_EnsureWritable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "tracks")
	m := NewManager(Config{TempDir: dir})

	require.NoError(t, m.EnsureWritable())
	assert.DirExists(t, dir)

	// A path blocked by a regular file cannot be used.
	blocked := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))
	m2 := NewManager(Config{TempDir: filepath.Join(blocked, "sub")})
	err := m2.EnsureWritable()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorageUnavailable))
}
