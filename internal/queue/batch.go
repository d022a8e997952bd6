// Package queue holds the in-process, volatile session queues: the inbound
// debounce queue that groups message ids into timed batches and the outbound
// dispatch queue that releases replies one per session per tick.
package queue

import "time"

// TimedBatch accumulates item ids for one session with a rolling deadline.
// The deadline counts from the first item of the batch, not from the previous drain.
// Owned by the inbound queue; guarded by the owning shard's lock.
type TimedBatch struct {
	items      []string
	deadline   time.Time
	lastActive time.Time
}

func newTimedBatch(now time.Time) *TimedBatch {
	return &TimedBatch{deadline: now, lastActive: now}
}

// append adds an item and pushes the deadline out by delay.
// An empty batch whose deadline already passed is re-based to now first.
func (b *TimedBatch) append(item string, delay time.Duration, now time.Time) {
	if len(b.items) == 0 && b.deadline.Before(now) {
		b.deadline = now
	}
	b.items = append(b.items, item)
	b.deadline = b.deadline.Add(delay)
	b.lastActive = now
}

// expired reports whether the batch may be drained
func (b *TimedBatch) expired(now time.Time) bool {
	return len(b.items) > 0 && now.After(b.deadline)
}

// Deadline returns the current drain deadline
func (b *TimedBatch) Deadline() time.Time {
	return b.deadline
}

// Len returns the number of accumulated items
func (b *TimedBatch) Len() int {
	return len(b.items)
}
