package download

import (
	"context"
	"sync"
	"time"

	"github.com/myplayer/myplayer-go/internal/library"
)

// NotifierStats counts what the notifier has delivered
type NotifierStats struct {
	Started   int `json:"started"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Dropped   int `json:"dropped"`
}

// Notifier delivers worker events to a single consumer channel.
// Progress is best effort; completions and pauses wait for room.
type Notifier struct {
	events chan Event
	mu     sync.Mutex
	stats  NotifierStats
	closed bool
}

// NewNotifier creates a notifier with the given channel buffer
func NewNotifier(buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 256
	}
	return &Notifier{events: make(chan Event, buffer)}
}

// Events returns the consumer side of the channel
func (n *Notifier) Events() <-chan Event {
	return n.events
}

// NotifyStarted emits a 0% progress event, dropping it if the consumer is behind
func (n *Notifier) NotifyStarted(song library.Song) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.stats.Started++

	select {
	case n.events <- Progress{Title: song.Title, Percent: 0, Category: song.Category}:
	default:
		// Consumer is behind, drop
		n.stats.Dropped++
	}
}

// NotifyCompleted emits a completion. It blocks until the consumer has room
// or ctx is done.
func (n *Notifier) NotifyCompleted(ctx context.Context, ev FileReady) bool {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return false
	}
	if ev.OK {
		n.stats.Succeeded++
	} else {
		n.stats.Failed++
	}
	n.mu.Unlock()

	return n.send(ctx, ev)
}

// NotifyPaused emits a queue-paused event
func (n *Notifier) NotifyPaused(ctx context.Context, reason string, until time.Time) bool {
	return n.send(ctx, QueuePaused{Reason: reason, Until: until})
}

func (n *Notifier) send(ctx context.Context, ev Event) bool {
	select {
	case n.events <- ev:
		return true
	case <-ctx.Done():
		n.mu.Lock()
		n.stats.Dropped++
		n.mu.Unlock()
		return false
	}
}

// GetStats returns a copy of the delivery counters
func (n *Notifier) GetStats() NotifierStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Close closes the event channel. Callers must ensure no sends are in progress.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		close(n.events)
	}
}
