package track

import (
	"os"
	"time"
)

// Cleanup deletes the materialized file if present and resets all
// playback state. Idempotent; a missing file is not an error.
func (t *Track) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Path != "" {
		// Best effort: the reaper handles anything left behind.
		_ = os.Remove(t.Path)
		t.Path = ""
	}
	t.position = 0
	t.startedAt = time.Time{}
	t.paused = false
	t.pausedPos = 0
}
