package repo

import "time"

// BatchQueue accepts new inbound message ids for debounced batching
type BatchQueue interface {
	Enqueue(sessionKey, itemID string, delay time.Duration)
}

// ReplyQueue accepts reply message ids for throttled delivery
type ReplyQueue interface {
	Enqueue(sessionKey, replyID string)
}
