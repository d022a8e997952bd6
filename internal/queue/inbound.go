package queue

import (
	"sync"
	"time"
)

// Batch is a drained set of item ids for one session
type Batch struct {
	SessionKey string
	Items      []string
	Deadline   time.Time
}

// ClaimFunc decides whether an expired batch may be drained now.
// It runs under the session's shard lock and must not call back into the queue.
type ClaimFunc func(sessionKey string) bool

// Inbound is the session-keyed debounce queue.
// Same-key operations are linearized by the key's shard lock; keys on
// different shards never contend.
type Inbound struct {
	shards []*inboundShard
	now    func() time.Time
}

type inboundShard struct {
	mu      sync.Mutex
	batches map[string]*TimedBatch
}

// NewInbound creates an empty inbound queue
func NewInbound(opts ...Option) *Inbound {
	o := buildOptions(opts)
	q := &Inbound{
		shards: make([]*inboundShard, o.shards),
		now:    o.now,
	}
	for i := range q.shards {
		q.shards[i] = &inboundShard{batches: make(map[string]*TimedBatch)}
	}
	return q
}

func (q *Inbound) shard(sessionKey string) *inboundShard {
	return q.shards[shardIndex(sessionKey, len(q.shards))]
}

// Enqueue appends itemID to the session's current batch and extends its
// deadline by delay, creating the batch first if needed
func (q *Inbound) Enqueue(sessionKey, itemID string, delay time.Duration) {
	now := q.now()
	s := q.shard(sessionKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[sessionKey]
	if !ok {
		b = newTimedBatch(now)
		s.batches[sessionKey] = b
	}
	b.append(itemID, delay, now)
}

// Drain swaps out every expired, non-empty batch that claim accepts and
// returns them. Each swapped batch is replaced by a fresh empty one whose
// deadline is now, so a concurrent Enqueue lands in the new batch.
// A nil claim accepts every expired batch.
func (q *Inbound) Drain(claim ClaimFunc) []Batch {
	var drained []Batch
	for _, s := range q.shards {
		drained = s.drain(q.now(), claim, drained)
	}
	return drained
}

func (s *inboundShard) drain(now time.Time, claim ClaimFunc, out []Batch) []Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, b := range s.batches {
		if !b.expired(now) {
			continue
		}
		if claim != nil && !claim(key) {
			continue
		}
		out = append(out, Batch{SessionKey: key, Items: b.items, Deadline: b.deadline})
		fresh := newTimedBatch(now)
		fresh.lastActive = b.lastActive
		s.batches[key] = fresh
	}
	return out
}

// Evict forgets sessions with an empty batch and no activity for ttl
func (q *Inbound) Evict(ttl time.Duration) int {
	now := q.now()
	evicted := 0
	for _, s := range q.shards {
		s.mu.Lock()
		for key, b := range s.batches {
			if b.Len() == 0 && now.Sub(b.lastActive) > ttl {
				delete(s.batches, key)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// Peek returns a copy of the session's current batch state
func (q *Inbound) Peek(sessionKey string) (items []string, deadline time.Time, ok bool) {
	s := q.shard(sessionKey)
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[sessionKey]
	if !ok {
		return nil, time.Time{}, false
	}
	return append([]string(nil), b.items...), b.deadline, true
}

// Stats returns the number of tracked sessions and pending items
func (q *Inbound) Stats() Stats {
	var st Stats
	for _, s := range q.shards {
		s.mu.Lock()
		st.Sessions += len(s.batches)
		for _, b := range s.batches {
			st.Pending += b.Len()
		}
		s.mu.Unlock()
	}
	return st
}
