package watcher

import (
	"context"
	"sort"
	"time"
)

// Debouncer collapses bursts of events into one batch per quiet period.
// Within a batch the last event for a path wins and batches are sorted by
// path.
type Debouncer struct {
	delay  time.Duration
	events chan ChangeEvent
	output chan []ChangeEvent
}

// NewDebouncer creates a debouncer emitting batches after delay of quiet.
func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Debouncer{
		delay:  delay,
		events: make(chan ChangeEvent, 256),
		output: make(chan []ChangeEvent, 8),
	}
}

// Add queues an event. Events are dropped when the queue is full.
func (d *Debouncer) Add(event ChangeEvent) {
	select {
	case d.events <- event:
	default:
	}
}

// Output delivers debounced batches.
func (d *Debouncer) Output() <-chan []ChangeEvent {
	return d.output
}

// Start runs the debouncer until ctx is done. Pending events are dropped
// on cancellation.
func (d *Debouncer) Start(ctx context.Context) {
	pending := make(map[string]ChangeEvent)
	timer := time.NewTimer(d.delay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.events:
			pending[event.Path] = event
			timer.Reset(d.delay)
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]ChangeEvent, 0, len(pending))
			for _, event := range pending {
				batch = append(batch, event)
			}
			sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
			clear(pending)

			select {
			case d.output <- batch:
			case <-ctx.Done():
				return
			}
		}
	}
}
