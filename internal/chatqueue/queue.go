// Package chatqueue serializes work per conversation.
//
// Items sharing a key run one at a time in enqueue order; distinct keys
// drain concurrently on their own goroutines.
package chatqueue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned when a key already holds MaxDepth items.
	ErrQueueFull = errors.New("chatqueue: queue full")
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("chatqueue: closed")
)

// Handler processes one item. Errors and panics are reported through the
// item's Future and never affect later items.
type Handler[T any] func(ctx context.Context, key string, item T) error

// Options configures a Queue.
type Options struct {
	// MaxDepth bounds items (queued plus running) per key. Zero is unbounded.
	MaxDepth int

	// WarnAfter triggers OnWait if an item waited longer than this duration.
	WarnAfter time.Duration

	// OnWait is called when an item has waited longer than WarnAfter.
	OnWait func(key string, waited time.Duration, queued int)

	// OnDepth is called with +1 on enqueue and -1 when an item finishes.
	OnDepth func(delta int)
}

// Queue is a set of per-key FIFO lanes.
type Queue[T any] struct {
	handler Handler[T]
	opts    Options

	mu     sync.Mutex
	lanes  map[string]*lane[T]
	closed bool
	wg     sync.WaitGroup
}

type lane[T any] struct {
	entries []*entry[T]
	running bool
}

type entry[T any] struct {
	ctx        context.Context
	item       T
	future     *Future
	enqueuedAt time.Time
}

// Future resolves when its item has been processed.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(err error) {
	f.err = err
	close(f.done)
}

// Done is closed once the item has been processed.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the processing error. It is only meaningful after Done.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the item is processed or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// New creates a queue that runs handler for every item.
func New[T any](handler Handler[T], opts Options) *Queue[T] {
	return &Queue[T]{
		handler: handler,
		opts:    opts,
		lanes:   make(map[string]*lane[T]),
	}
}

// Enqueue appends item to key's lane and starts draining it if idle.
// ctx is passed to the handler; cancelling it skips the item if it has not
// started yet.
func (q *Queue[T]) Enqueue(ctx context.Context, key string, item T) (*Future, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}
	l, ok := q.lanes[key]
	if !ok {
		l = &lane[T]{}
		q.lanes[key] = l
	}
	depth := len(l.entries)
	if l.running {
		depth++
	}
	if q.opts.MaxDepth > 0 && depth >= q.opts.MaxDepth {
		return nil, fmt.Errorf("%w: key %s holds %d items", ErrQueueFull, key, depth)
	}

	e := &entry[T]{ctx: ctx, item: item, future: newFuture(), enqueuedAt: time.Now()}
	l.entries = append(l.entries, e)
	if q.opts.OnDepth != nil {
		q.opts.OnDepth(1)
	}

	if !l.running {
		l.running = true
		q.wg.Add(1)
		go q.drain(key, l)
	}
	return e.future, nil
}

func (q *Queue[T]) drain(key string, l *lane[T]) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(l.entries) == 0 {
			l.running = false
			if q.lanes[key] == l {
				delete(q.lanes, key)
			}
			q.mu.Unlock()
			return
		}
		e := l.entries[0]
		l.entries[0] = nil
		l.entries = l.entries[1:]
		queued := len(l.entries)
		q.mu.Unlock()

		waited := time.Since(e.enqueuedAt)
		if q.opts.OnWait != nil && q.opts.WarnAfter > 0 && waited >= q.opts.WarnAfter {
			q.opts.OnWait(key, waited, queued)
		}

		e.future.resolve(q.run(key, e))
		if q.opts.OnDepth != nil {
			q.opts.OnDepth(-1)
		}
	}
}

func (q *Queue[T]) run(key string, e *entry[T]) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("chatqueue: handler panicked: %v\n%s", rec, debug.Stack())
		}
	}()
	if err := e.ctx.Err(); err != nil {
		return err
	}
	return q.handler(e.ctx, key, e.item)
}

// Len returns the number of items queued or running for key.
func (q *Queue[T]) Len(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[key]
	if !ok {
		return 0
	}
	n := len(l.entries)
	if l.running {
		n++
	}
	return n
}

// Keys returns the keys with pending work, sorted.
func (q *Queue[T]) Keys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys := make([]string, 0, len(q.lanes))
	for k := range q.lanes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close rejects new items and waits for queued items to finish or ctx to end.
func (q *Queue[T]) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
