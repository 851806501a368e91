// Package notify fans user-facing notifications out to subscribers.
// Every terminal failure produces exactly one notification here; the
// full technical detail stays in the logs.
package notify

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Daxiongmao87/nextcloud-filepicker/internal/metrics"
)

const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Notification is one human-readable message for the UI host.
type Notification struct {
	Level     string `json:"level"`
	Category  string `json:"category,omitempty"`
	Message   string `json:"message"`
	Path      string `json:"path,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster manages subscribers and publishes notifications.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Notification]struct{}
}

// NewBroadcaster creates a new notification broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Notification]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Notification {
	ch := make(chan Notification, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Notification) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	close(ch)
	b.mu.Unlock()
}

// Publish sends a notification to all subscribers. Non-blocking:
// drops for slow consumers.
func (b *Broadcaster) Publish(n Notification) {
	if n.Timestamp == 0 {
		n.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- n:
		default:
			// Drop for slow consumer
		}
	}
	metrics.NotificationsPublished.WithLabelValues(n.Level).Inc()
}

// Info publishes an informational notification.
func (b *Broadcaster) Info(message, path string) {
	b.Publish(Notification{Level: LevelInfo, Message: message, Path: path})
}

// Warn publishes a warning notification.
func (b *Broadcaster) Warn(message, path string) {
	b.Publish(Notification{Level: LevelWarn, Message: message, Path: path})
}

// Error publishes an error notification tagged with a failure
// category.
func (b *Broadcaster) Error(category, message, path string) {
	b.Publish(Notification{Level: LevelError, Category: category, Message: message, Path: path})
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Marshal serializes a notification to JSON.
func Marshal(n Notification) ([]byte, error) {
	return json.Marshal(n)
}
