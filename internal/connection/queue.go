package connection

import (
	"log/slog"
	"sync"
)

// eventQueue is an unbounded FIFO ring buffer that doubles its capacity when
// full. Producers never block, so the read loop cannot stall behind a slow
// subscriber and nothing is dropped or reordered.
type eventQueue[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool
}

// newEventQueue creates a queue with the given initial capacity.
func newEventQueue[T any](initialCapacity int) *eventQueue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	q := &eventQueue[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Send appends an item. Returns false if the queue is closed.
func (q *eventQueue[T]) Send(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.count == q.capacity {
		q.grow()
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.count++

	q.cond.Signal()
	return true
}

// Receive removes and returns the oldest item.
// Blocks until an item is available or the queue is closed.
// Returns the zero value and false once closed and empty.
func (q *eventQueue[T]) Receive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}

	var zero T
	if q.count == 0 {
		return zero, false
	}

	item := q.buf[q.head]
	q.buf[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % q.capacity
	q.count--

	return item, true
}

// Close stops accepting items. Receivers get the remaining items first.
func (q *eventQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the current number of queued items.
func (q *eventQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// grow doubles the capacity. Must be called with lock held.
func (q *eventQueue[T]) grow() {
	newCapacity := q.capacity * 2
	newBuf := make([]T, newCapacity)

	if q.count > 0 {
		if q.head < q.tail {
			// Contiguous: [head...tail)
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}

	q.buf = newBuf
	q.head = 0
	q.tail = q.count
	q.capacity = newCapacity
}

// callbackLoop runs every subscriber callback on one goroutine, in the order
// the events were posted.
type callbackLoop struct {
	queue  *eventQueue[func()]
	logger *slog.Logger
	done   chan struct{}
}

func newCallbackLoop(logger *slog.Logger) *callbackLoop {
	l := &callbackLoop{
		queue:  newEventQueue[func()](64),
		logger: logger,
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// post schedules fn. Returns false after stop.
func (l *callbackLoop) post(fn func()) bool {
	if !l.queue.Send(fn) {
		l.logger.Debug("callback loop stopped, dropping callback")
		return false
	}
	return true
}

// stop lets the loop finish the queued callbacks and exit.
func (l *callbackLoop) stop() {
	l.queue.Close()
}

// wait blocks until the loop has exited.
func (l *callbackLoop) wait() {
	<-l.done
}

func (l *callbackLoop) run() {
	defer close(l.done)

	for {
		fn, ok := l.queue.Receive()
		if !ok {
			return
		}
		l.invoke(fn)
	}
}

// invoke isolates the loop from panicking callbacks.
func (l *callbackLoop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("subscriber callback panicked", "panic", r)
		}
	}()
	fn()
}
