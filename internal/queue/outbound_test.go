package queue

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutbound_PopEachIsFIFOPerSession(t *testing.T) {
	q := NewOutbound()
	q.Enqueue("s1", "r1")
	q.Enqueue("s1", "r2")
	q.Enqueue("s1", "r3")

	var order []string
	for i := 0; i < 3; i++ {
		popped := q.PopEach()
		require.Len(t, popped, 1)
		order = append(order, popped[0].ReplyID)
	}
	assert.Equal(t, []string{"r1", "r2", "r3"}, order)
	assert.Empty(t, q.PopEach())
}

func TestOutbound_PopEachTakesOnePerSession(t *testing.T) {
	q := NewOutbound(WithShards(2))
	q.Enqueue("a", "a1")
	q.Enqueue("a", "a2")
	q.Enqueue("b", "b1")
	q.Enqueue("c", "c1")

	popped := q.PopEach()
	ids := make([]string, 0, len(popped))
	for _, d := range popped {
		ids = append(ids, d.ReplyID)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"a1", "b1", "c1"}, ids)

	assert.Equal(t, []string{"a2"}, q.Pending("a"))
	assert.Empty(t, q.Pending("b"))
}

func TestOutbound_Evict(t *testing.T) {
	clock := newFakeClock()
	q := NewOutbound(WithClock(clock.Now))

	q.Enqueue("done", "r1")
	q.Enqueue("waiting", "r2")
	q.Enqueue("waiting", "r3")
	q.PopEach()

	clock.Advance(time.Hour)
	assert.Equal(t, 1, q.Evict(30*time.Minute))
	assert.Equal(t, Stats{Sessions: 1, Pending: 1}, q.Stats())
}

func TestOutbound_ConcurrentEnqueueKeepsSessionOrder(t *testing.T) {
	q := NewOutbound(WithShards(4))

	const sessions = 8
	const perSession = 200

	var wg sync.WaitGroup
	for s := 0; s < sessions; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			key := fmt.Sprintf("s%d", s)
			for i := 0; i < perSession; i++ {
				q.Enqueue(key, fmt.Sprintf("%s-%d", key, i))
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	popped := make(map[string][]string)
	collect := func() {
		for _, d := range q.PopEach() {
			popped[d.SessionKey] = append(popped[d.SessionKey], d.ReplyID)
		}
	}

loop:
	for {
		select {
		case <-done:
			break loop
		default:
			collect()
		}
	}
	for q.Stats().Pending > 0 {
		collect()
	}

	require.Len(t, popped, sessions)
	for s := 0; s < sessions; s++ {
		key := fmt.Sprintf("s%d", s)
		want := make([]string, perSession)
		for i := range want {
			want[i] = fmt.Sprintf("%s-%d", key, i)
		}
		assert.Equal(t, want, popped[key], "session %s", key)
	}
}
