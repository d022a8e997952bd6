package queue

import (
	"hash/fnv"
	"time"
)

// DefaultShards is the number of lock partitions per queue
const DefaultShards = 32

// Stats is a point-in-time view of a queue
type Stats struct {
	Sessions int `json:"sessions"`
	Pending  int `json:"pending"`
}

// Option configures a queue
type Option func(*options)

type options struct {
	shards int
	now    func() time.Time
}

// WithShards sets the number of lock partitions
func WithShards(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shards = n
		}
	}
}

// WithClock overrides the time source (tests)
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{shards: DefaultShards, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// shardIndex maps a session key to its partition
func shardIndex(sessionKey string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionKey))
	return int(h.Sum32() % uint32(n))
}
