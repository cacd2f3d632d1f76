// eventlog.go — Append-only captured-event list with URL deduplication.
// One log per browser session. Three capture layers write concurrently;
// identity is the URL alone, so redundant layers are safe: the first
// observation wins and later layers only contribute their source metadata
// implicitly through capture order.
//
// Thread-safe: all access guarded by mu. A monotonic counter supports
// cursor-based reads so wait loops can drain "everything since last tick"
// without copying the whole log.
package capture

import (
	"sync"

	"github.com/tagwatch/tagwatch/internal/types"
)

// EventLog is the per-session captured NetworkEvent list.
type EventLog struct {
	mu sync.RWMutex

	events []types.NetworkEvent
	byURL  map[string]bool // dedup guard: URL → already captured

	totalAdded int64 // monotonic, counts accepted (non-duplicate) events
}

// NewEventLog returns an empty log.
func NewEventLog() *EventLog {
	return &EventLog{byURL: make(map[string]bool)}
}

// Append adds ev unless an event with the same URL is already present.
// Returns true when the event was accepted.
func (l *EventLog) Append(ev types.NetworkEvent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.URL != "" && l.byURL[ev.URL] {
		return false
	}
	if ev.URL != "" {
		l.byURL[ev.URL] = true
	}
	l.events = append(l.events, ev)
	l.totalAdded++
	return true
}

// AppendAll adds each event in order, returning how many were accepted.
func (l *EventLog) AppendAll(events []types.NetworkEvent) int {
	accepted := 0
	for _, ev := range events {
		if l.Append(ev) {
			accepted++
		}
	}
	return accepted
}

// Snapshot returns a copy of the log in capture order.
func (l *EventLog) Snapshot() []types.NetworkEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.NetworkEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of captured events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Since returns events appended after position, plus the new position.
// Position is the totalAdded counter from a previous call (0 for all).
func (l *EventLog) Since(position int64) ([]types.NetworkEvent, int64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if position < 0 {
		position = 0
	}
	if position > int64(len(l.events)) {
		position = int64(len(l.events))
	}
	out := make([]types.NetworkEvent, len(l.events)-int(position))
	copy(out, l.events[position:])
	return out, l.totalAdded
}
