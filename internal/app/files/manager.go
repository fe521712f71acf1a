// Package files enforces queue admission limits and owns the lifecycle
// of downloaded temp files: which are in active use, and when stale
// ones get reaped.
package files

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// ErrStorageUnavailable means the temp directory cannot be created or
// written to. Nothing downstream can function without it, so this is
// the one error the manager propagates.
var ErrStorageUnavailable = errors.New("temp storage unavailable")

// Config holds the manager's limits.
type Config struct {
	TempDir       string        // Directory for downloaded files
	MaxQueueBytes int64         // Cumulative queue size limit
	MaxTracks     int           // Queue length limit per guild
	ReapInterval  time.Duration // Minimum gap between reap passes
	MaxFileAge    time.Duration // Age after which an inactive file is deleted
}

// Manager tracks active files and reaps stale ones.
type Manager struct {
	config Config

	mu       sync.Mutex
	active   map[string]struct{}
	lastReap time.Time
}

// NewManager creates a manager for the configured temp directory.
func NewManager(config Config) *Manager {
	return &Manager{
		config: config,
		active: make(map[string]struct{}),
	}
}

// TempDir returns the configured temp directory.
func (m *Manager) TempDir() string {
	return m.config.TempDir
}

// CanAdmit reports whether a track of the given size may join a queue
// that already holds queueBytes across queueLen tracks. Landing exactly
// on the byte limit is allowed. Pure predicate, no mutation.
func (m *Manager) CanAdmit(queueBytes int64, queueLen int, incoming int64) bool {
	if queueBytes+incoming > m.config.MaxQueueBytes {
		zlog.Warn().Msgf("files: queue size limit reached: %dMB", m.config.MaxQueueBytes/(1024*1024))
		return false
	}
	if queueLen >= m.config.MaxTracks {
		zlog.Warn().Msgf("files: maximum track count reached: %d", m.config.MaxTracks)
		return false
	}
	return true
}

// MarkActive records a file as in use so the reaper leaves it alone.
// Idempotent; empty paths are ignored.
func (m *Manager) MarkActive(path string) {
	if path == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[path] = struct{}{}
}

// MarkInactive releases a file for reaping. Idempotent.
func (m *Manager) MarkInactive(path string) {
	if path == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, path)
}

// IsActive reports whether a path is currently marked in use.
func (m *Manager) IsActive(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[path]
	return ok
}

// Reap deletes files in the temp directory older than MaxFileAge,
// skipping anything in the active set. Self-throttled: runs at most
// once per ReapInterval. Per-file failures are counted, never raised.
func (m *Manager) Reap() (removed, failed int) {
	m.mu.Lock()
	if time.Since(m.lastReap) < m.config.ReapInterval {
		m.mu.Unlock()
		return 0, 0
	}
	m.lastReap = time.Now()
	m.mu.Unlock()

	entries, err := os.ReadDir(m.config.TempDir)
	if err != nil {
		zlog.Error().Msgf("files: reading temp dir %s: %v", m.config.TempDir, err)
		return 0, 0
	}

	cutoff := time.Now().Add(-m.config.MaxFileAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(m.config.TempDir, entry.Name())
		if m.IsActive(path) {
			zlog.Debug().Msgf("files: skipping in-use file: %s", entry.Name())
			continue
		}
		info, err := entry.Info()
		if err != nil {
			failed++
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			zlog.Error().Msgf("files: removing %s: %v", entry.Name(), err)
			failed++
			continue
		}
		removed++
	}

	if removed > 0 || failed > 0 {
		zlog.Info().Msgf("files: reap completed: %d removed, %d errors", removed, failed)
	}
	return removed, failed
}

// Flush deletes every file in the temp directory, ignoring age, the
// reap throttle and the active set. Shutdown only: spooled downloads
// never survive a restart, so nothing is worth keeping.
func (m *Manager) Flush() (removed, failed int) {
	m.mu.Lock()
	m.active = make(map[string]struct{})
	m.mu.Unlock()

	entries, err := os.ReadDir(m.config.TempDir)
	if err != nil {
		zlog.Error().Msgf("files: reading temp dir %s: %v", m.config.TempDir, err)
		return 0, 0
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(m.config.TempDir, entry.Name())); err != nil {
			zlog.Error().Msgf("files: removing %s: %v", entry.Name(), err)
			failed++
			continue
		}
		removed++
	}

	zlog.Info().Msgf("files: flush completed: %d removed, %d errors", removed, failed)
	return removed, failed
}

// EnsureWritable creates the temp directory if needed and verifies it
// accepts writes via a probe file.
func (m *Manager) EnsureWritable() error {
	if err := os.MkdirAll(m.config.TempDir, 0o755); err != nil {
		return errors.Wrapf(ErrStorageUnavailable, "creating temp dir: %v", err)
	}

	probe := filepath.Join(m.config.TempDir, ".write_probe")
	if err := os.WriteFile(probe, []byte("probe"), 0o644); err != nil {
		return errors.Wrapf(ErrStorageUnavailable, "write probe: %v", err)
	}
	_ = os.Remove(probe)
	return nil
}
