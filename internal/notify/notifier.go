// Package notify provides an in-process pub/sub bus for commit visibility.
// Sessions poll or block on their own coordinator; the bus is for everything
// else in the process (cache invalidation, UI refresh, maintenance daemons)
// that wants to hear about commits without holding a session open.
package notify

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// EventType says what happened to a database file.
type EventType int

const (
	// CommitApplied fires after a write transaction becomes durable.
	CommitApplied EventType = iota

	// SchemaChanged fires after a schema update is stamped.
	SchemaChanged

	// HistoryTrimmed fires after old changesets are reclaimed.
	HistoryTrimmed
)

// Event is one notification about a database file.
type Event struct {
	Type          EventType
	Path          string
	Version       uint64
	SchemaVersion uint64
	Timestamp     int64
}

// Default is the process-wide bus the session layer publishes to.
var Default = NewNotifier(64)

// Subscriber is one registered listener. Events arrive on Ch; the channel
// is closed by Unsubscribe.
type Subscriber struct {
	ID      string
	Filters []string
	Ch      chan Event
}

// Notifier fans events out to subscribers. Delivery is best-effort: a
// subscriber that stops draining its channel loses events, never blocks
// publishers.
type Notifier struct {
	subscribers *xsync.MapOf[string, *Subscriber]
	bufferSize  int
}

// NewNotifier creates a bus whose subscriber channels buffer bufferSize
// events.
func NewNotifier(bufferSize int) *Notifier {
	return &Notifier{
		subscribers: xsync.NewMapOf[string, *Subscriber](),
		bufferSize:  bufferSize,
	}
}

// Publish delivers ev to every subscriber whose filter matches, filling in
// the timestamp if unset. Full subscriber channels are skipped.
func (n *Notifier) Publish(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixNano()
	}
	n.subscribers.Range(func(_ string, sub *Subscriber) bool {
		if !matches(sub.Filters, ev.Path) {
			return true
		}
		select {
		case sub.Ch <- ev:
		default:
		}
		return true
	})
}

// Subscribe registers a listener under the given id. Filters are path
// prefixes; no filters means every event.
func (n *Notifier) Subscribe(id string, filters []string) *Subscriber {
	sub := &Subscriber{
		ID:      id,
		Filters: filters,
		Ch:      make(chan Event, n.bufferSize),
	}
	n.subscribers.Store(id, sub)
	return sub
}

// SubscribeAutoID registers a listener under a generated id and returns its
// channel directly.
func (n *Notifier) SubscribeAutoID(filters ...string) chan Event {
	return n.Subscribe("sub-"+uuid.NewString(), filters).Ch
}

// Unsubscribe removes a listener and closes its channel.
func (n *Notifier) Unsubscribe(id string) {
	if sub, ok := n.subscribers.LoadAndDelete(id); ok {
		close(sub.Ch)
	}
}

func matches(filters []string, path string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if strings.HasPrefix(path, f) {
			return true
		}
	}
	return false
}
