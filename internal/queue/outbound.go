package queue

import (
	"sync"
	"time"
)

// Dispatch is one reply popped for delivery
type Dispatch struct {
	SessionKey string
	ReplyID    string
}

// Outbound is the per-session FIFO of reply ids.
// Replies of one session leave in the order they were enqueued.
type Outbound struct {
	shards []*outboundShard
	now    func() time.Time
}

type outboundShard struct {
	mu        sync.Mutex
	sequences map[string]*replySequence
}

type replySequence struct {
	ids        []string
	lastActive time.Time
}

// NewOutbound creates an empty outbound queue
func NewOutbound(opts ...Option) *Outbound {
	o := buildOptions(opts)
	q := &Outbound{
		shards: make([]*outboundShard, o.shards),
		now:    o.now,
	}
	for i := range q.shards {
		q.shards[i] = &outboundShard{sequences: make(map[string]*replySequence)}
	}
	return q
}

func (q *Outbound) shard(sessionKey string) *outboundShard {
	return q.shards[shardIndex(sessionKey, len(q.shards))]
}

// Enqueue appends a reply id to the session's sequence
func (q *Outbound) Enqueue(sessionKey, replyID string) {
	now := q.now()
	s := q.shard(sessionKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.sequences[sessionKey]
	if !ok {
		seq = &replySequence{}
		s.sequences[sessionKey] = seq
	}
	seq.ids = append(seq.ids, replyID)
	seq.lastActive = now
}

// PopEach removes the oldest reply of every non-empty session
func (q *Outbound) PopEach() []Dispatch {
	now := q.now()
	var popped []Dispatch
	for _, s := range q.shards {
		s.mu.Lock()
		for key, seq := range s.sequences {
			if len(seq.ids) == 0 {
				continue
			}
			popped = append(popped, Dispatch{SessionKey: key, ReplyID: seq.ids[0]})
			seq.ids[0] = ""
			seq.ids = seq.ids[1:]
			seq.lastActive = now
		}
		s.mu.Unlock()
	}
	return popped
}

// Evict forgets sessions with an empty sequence and no activity for ttl
func (q *Outbound) Evict(ttl time.Duration) int {
	now := q.now()
	evicted := 0
	for _, s := range q.shards {
		s.mu.Lock()
		for key, seq := range s.sequences {
			if len(seq.ids) == 0 && now.Sub(seq.lastActive) > ttl {
				delete(s.sequences, key)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// Pending returns a copy of the session's queued reply ids, oldest first
func (q *Outbound) Pending(sessionKey string) []string {
	s := q.shard(sessionKey)
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.sequences[sessionKey]
	if !ok {
		return nil
	}
	return append([]string(nil), seq.ids...)
}

// Stats returns the number of tracked sessions and queued replies
func (q *Outbound) Stats() Stats {
	var st Stats
	for _, s := range q.shards {
		s.mu.Lock()
		st.Sessions += len(s.sequences)
		for _, seq := range s.sequences {
			st.Pending += len(seq.ids)
		}
		s.mu.Unlock()
	}
	return st
}
