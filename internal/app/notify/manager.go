package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// Sink receives published notices. Implementations typically render
// them as chat embeds; tests capture them directly.
type Sink interface {
	Send(Notice) error
}

// subscription pairs a sink with its ID.
type subscription struct {
	id   string
	sink Sink
}

// Manager fans published notices out to all subscribed sinks.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
}

// NewManager creates an empty notice manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a sink and returns its subscription ID.
func (m *Manager) Subscribe(sink Sink) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{id: id, sink: sink}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// SubscriberCount returns the number of attached sinks.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Publish delivers a notice to every sink. Each send runs in its own
// goroutine with a timeout so one slow presentation layer cannot stall
// the playback core.
func (m *Manager) Publish(notice Notice) {
	m.mu.RLock()
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.sink.Send(notice)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Msgf("notify: sink %s dropped notice %q: %v", s.id, notice.Title, err)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("notify: sink %s timed out on notice %q", s.id, notice.Title)
			}
		}(sub)
	}
	wg.Wait()
}

// Close drops all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
