// Package queue implements the coalescing FIFO each worker.Document
// uses to serialise engine calls (spec.md §4.2). The queue has no
// capacity limit: Put never blocks, only Get does. It
// generalises the teacher's embedding worker-pool job channel
// (internal/services/embedding.go in the original ai-kms source: a
// buffered `chan EmbeddingJob` drained by a fixed pool of goroutines)
// into a single-consumer queue that also coalesces redundant tile
// requests on put.
package queue

import (
	"sync"
)

// Item is a single queued payload. Tile-request items carry a key so
// the queue can coalesce them; everything else carries an empty
// TileKey and is never coalesced.
type Item struct {
	Payload []byte
	IsTile  bool
	TileKey string // canonical tile key, only meaningful when IsTile
	SessionID string // originating session, used by canceltiles
}

// EOF is the sentinel Get returns once the queue is closed and
// drained.
var EOF = Item{Payload: []byte("eof")}

// MessageQueue is a thread-safe FIFO with tile-request coalescing
// (spec.md §4.2): putting a tile request removes any queued-but-not-yet-
// delivered tile request with the same key.
type MessageQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Item
	closed bool
}

func New() *MessageQueue {
	q := &MessageQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends an item, dropping any earlier queued tile request with
// the same key first. Put on a closed queue is a silent no-op
// (spec.md §4.2: "further puts to be dropped").
func (q *MessageQueue) Put(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	if item.IsTile {
		kept := q.items[:0:0]
		for _, existing := range q.items {
			if existing.IsTile && existing.TileKey == item.TileKey {
				continue
			}
			kept = append(kept, existing)
		}
		q.items = kept
	}

	q.items = append(q.items, item)
	q.cond.Signal()
}

// CancelTiles drops every queued (not yet delivered) tile request
// originated by sessionID (spec.md's "canceltiles" command,
// SPEC_FULL.md's supplemented feature #6).
func (q *MessageQueue) CancelTiles(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0:0]
	for _, existing := range q.items {
		if existing.IsTile && existing.SessionID == sessionID {
			continue
		}
		kept = append(kept, existing)
	}
	q.items = kept
}

// Get blocks until an item is available or the queue is closed, in
// which case it returns EOF.
func (q *MessageQueue) Get() Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}

	if len(q.items) == 0 {
		return EOF
	}

	item := q.items[0]
	q.items = q.items[1:]
	return item
}

// Close marks the queue closed; any Get blocked on an empty queue
// returns EOF, and any future Put is dropped.
func (q *MessageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len reports the number of queued, not-yet-delivered items. Useful
// for tests verifying coalescing.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
