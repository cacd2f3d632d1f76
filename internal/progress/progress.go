// Package progress fans run lifecycle and progress events out to
// subscribers. Consumers (dashboard bridge, log sink) are external
// collaborators; the core only guarantees delivery is non-blocking —
// a slow subscriber drops events rather than stalling a worker.
package progress

import (
	"sync"
	"time"
)

// EventType tags a broadcast event.
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventLog          EventType = "log"
	EventProgress     EventType = "progress"
	EventRunCompleted EventType = "run_completed"
	EventRunCancelled EventType = "run_cancelled"
	EventRunFailed    EventType = "run_failed"
)

// Snapshot is the progress payload.
type Snapshot struct {
	Phase             int     `json:"phase"`
	ProcessedInPhase1 int     `json:"processed_in_phase1"`
	CompletedInPhase1 int     `json:"completed_in_phase1"`
	Phase2Queued      int     `json:"phase2_queued"`
	Phase2Completed   int     `json:"phase2_completed"`
	Phase2ElapsedMs   int64   `json:"phase2_elapsed_ms"`
	ActiveWorkers     int     `json:"active_workers"`
	CurrentProperty   string  `json:"current_property,omitempty"`
	Percent           float64 `json:"percent"`
}

// Event is one broadcast message.
type Event struct {
	Type     EventType `json:"type"`
	RunID    string    `json:"run_id"`
	Message  string    `json:"message,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	At       time.Time `json:"at"`
}

// subscriberBuffer bounds each subscriber channel.
const subscriberBuffer = 64

// Broadcaster fans events out to subscribers.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a consumer. The returned cancel removes the
// subscription and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking. Events to full
// subscribers are dropped.
func (b *Broadcaster) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
