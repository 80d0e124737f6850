// Package queue provides the bounded debounce queue that coalesces mirror
// writes to secondary config backends. Rapid successive saves of the same
// document collapse into one persisted write; everything pending is flushed
// on shutdown.
package queue

import (
	"context"
	"sync"
	"time"

	"overlaykit/api/internal/document"
)

// Key identifies one pending mirror write. Backend names the secondary
// target ("file" or "remote") so the flush callback knows where to write.
type Key struct {
	Namespace string
	Document  string
	Backend   string
}

// FlushFunc persists one coalesced document.
type FlushFunc func(ctx context.Context, key Key, doc *document.Document)

type Debounce struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	flush    FlushFunc
	pending  map[Key]*document.Document
	timers   map[Key]*time.Timer
	closed   bool
}

func New(window time.Duration, capacity int, flush FlushFunc) *Debounce {
	if window <= 0 {
		window = 250 * time.Millisecond
	}
	if capacity <= 0 {
		capacity = 256
	}
	return &Debounce{
		window:   window,
		capacity: capacity,
		flush:    flush,
		pending:  make(map[Key]*document.Document),
		timers:   make(map[Key]*time.Timer),
	}
}

// Enqueue coalesces doc under key, restarting the key's debounce window.
// Returns false when the queue is full or closed; the caller must then
// persist inline instead of losing the write.
func (q *Debounce) Enqueue(key Key, doc *document.Document) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if _, exists := q.pending[key]; !exists && len(q.pending) >= q.capacity {
		q.mu.Unlock()
		return false
	}
	q.pending[key] = doc
	if timer, ok := q.timers[key]; ok {
		timer.Stop()
	}
	q.timers[key] = time.AfterFunc(q.window, func() { q.flushKey(key) })
	q.mu.Unlock()
	return true
}

// Pending reports how many coalesced writes are waiting.
func (q *Debounce) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Flush persists everything pending immediately, regardless of windows.
func (q *Debounce) Flush(ctx context.Context) {
	q.mu.Lock()
	items := make(map[Key]*document.Document, len(q.pending))
	for key, doc := range q.pending {
		items[key] = doc
	}
	for key, timer := range q.timers {
		timer.Stop()
		delete(q.timers, key)
	}
	q.pending = make(map[Key]*document.Document)
	q.mu.Unlock()

	for key, doc := range items {
		q.flush(ctx, key, doc)
	}
}

// Close flushes all pending writes and rejects further enqueues.
func (q *Debounce) Close(ctx context.Context) {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.Flush(ctx)
}

func (q *Debounce) flushKey(key Key) {
	q.mu.Lock()
	doc, ok := q.pending[key]
	delete(q.pending, key)
	delete(q.timers, key)
	q.mu.Unlock()
	if !ok {
		return
	}
	q.flush(context.Background(), key, doc)
}
