// Package stream carries output chunks from any number of concurrent reader
// goroutines to the single consumer that renders them.
package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/ameliarose/hub/internal/run"
)

// DefaultCapacity bounds the queue when no capacity is configured. Large
// enough for bursty output without unbounded growth.
const DefaultCapacity = 10000

// Queue is a bounded FIFO conduit. Push never blocks: when the queue is full
// the oldest chunk is evicted, and the next drain is prefixed with a single
// synthetic system chunk reporting how many chunks the episode dropped. This
// is a deliberate lossy-under-pressure policy favoring a responsive consumer
// over completeness of pathological output volumes.
type Queue struct {
	mu      sync.Mutex
	ring    []run.OutputChunk
	start   int
	size    int
	dropped uint64
	onDrop  func(n uint64)
}

// NewQueue creates a queue holding at most capacity chunks.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ring: make([]run.OutputChunk, capacity)}
}

// Push enqueues one chunk, evicting the oldest on overflow.
func (q *Queue) Push(c run.OutputChunk) {
	q.mu.Lock()
	defer q.mu.Unlock()

	capacity := len(q.ring)
	if q.size == capacity {
		// Overwrite oldest.
		q.start = (q.start + 1) % capacity
		q.size--
		q.dropped++
	}

	idx := (q.start + q.size) % capacity
	q.ring[idx] = c
	q.size++
}

// OnDrop registers a callback invoked once per overflow episode with the
// number of evicted chunks. Called outside the queue lock; must not block.
func (q *Queue) OnDrop(fn func(n uint64)) {
	q.mu.Lock()
	q.onDrop = fn
	q.mu.Unlock()
}

// Drain pops up to max chunks in FIFO order. If chunks were dropped since the
// previous drain, the returned batch begins with one drop-notice chunk and the
// episode counter resets.
func (q *Queue) Drain(max int) []run.OutputChunk {
	if max <= 0 {
		return nil
	}

	q.mu.Lock()

	if q.size == 0 && q.dropped == 0 {
		q.mu.Unlock()
		return nil
	}

	out := make([]run.OutputChunk, 0, min(max, q.size+1))
	var droppedEpisode uint64
	if q.dropped > 0 {
		droppedEpisode = q.dropped
		out = append(out, run.OutputChunk{
			Stream: run.StreamSystem,
			Text:   fmt.Sprintf("%d chunks dropped due to backpressure", q.dropped),
			At:     time.Now().UTC(),
		})
		q.dropped = 0
	}

	capacity := len(q.ring)
	for len(out) < max && q.size > 0 {
		out = append(out, q.ring[q.start])
		q.ring[q.start] = run.OutputChunk{}
		q.start = (q.start + 1) % capacity
		q.size--
	}
	onDrop := q.onDrop
	q.mu.Unlock()

	if droppedEpisode > 0 && onDrop != nil {
		onDrop(droppedEpisode)
	}
	return out
}

// Len reports the number of buffered chunks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
