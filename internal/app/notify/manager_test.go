package notify

import (
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

type captureSink struct {
	mu      sync.Mutex
	notices []Notice
	err     error
}

func (c *captureSink) Send(n Notice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, n)
	return c.err
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.notices)
}

func TestManager_PublishReachesAllSinks(t *testing.T) {
	m := NewManager()
	a := &captureSink{}
	b := &captureSink{}

	m.Subscribe(a)
	id := m.Subscribe(b)
	assert.Equal(t, 2, m.SubscriberCount())

	m.Publish(Notice{GuildID: "g1", Title: "Now Playing", Severity: SeverityInfo})
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())

	m.Unsubscribe(id)
	m.Publish(Notice{GuildID: "g1", Title: "Paused", Severity: SeveritySuccess})
	assert.Equal(t, 2, a.count())
	assert.Equal(t, 1, b.count())
}

func TestManager_SinkErrorDoesNotBlockOthers(t *testing.T) {
	m := NewManager()
	failing := &captureSink{err: errors.New("send failed")}
	ok := &captureSink{}

	m.Subscribe(failing)
	m.Subscribe(ok)

	m.Publish(Notice{Title: "Error", Severity: SeverityError})
	assert.Equal(t, 1, ok.count())
}

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		expected string
	}{
		{SeverityInfo, "info"},
		{SeveritySuccess, "success"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.severity.String())
	}
}
