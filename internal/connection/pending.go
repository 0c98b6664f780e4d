package connection

import (
	"encoding/json"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// pendingRequest is a request awaiting exactly one correlated response.
type pendingRequest struct {
	id          uint64
	messageType string
	onSuccess   MessageHandler
	onError     ErrorHandler
	timer       *time.Timer
	sentAt      time.Time
}

func (r *pendingRequest) succeed(messageType string, message json.RawMessage) {
	if r.onSuccess != nil {
		r.onSuccess(messageType, message)
	}
}

func (r *pendingRequest) fail(err error) {
	if r.onError != nil {
		r.onError(err)
	}
}

// pendingTable holds outstanding requests by correlation ID.
// It is not safe for concurrent use; the manager guards it with its mutex.
// Every removal path stops the timer, so each request leaves the table once.
type pendingTable struct {
	lastID   uint64
	requests map[uint64]*pendingRequest

	// Recently expired IDs, to tell late responses from unknown ones.
	expired *lru.Cache[uint64, time.Time]
}

func newPendingTable(expiredSize int) *pendingTable {
	if expiredSize < 1 {
		expiredSize = 1
	}
	// lru.New only fails for a non-positive size.
	expired, _ := lru.New[uint64, time.Time](expiredSize)

	return &pendingTable{
		requests: make(map[uint64]*pendingRequest),
		expired:  expired,
	}
}

// nextID allocates a correlation ID. IDs start at 1 and are never reused.
func (t *pendingTable) nextID() uint64 {
	t.lastID++
	return t.lastID
}

func (t *pendingTable) add(r *pendingRequest) {
	t.requests[r.id] = r
}

// take removes the request and stops its timer.
func (t *pendingTable) take(id uint64) (*pendingRequest, bool) {
	r, ok := t.requests[id]
	if !ok {
		return nil, false
	}
	delete(t.requests, id)
	if r.timer != nil {
		r.timer.Stop()
	}
	return r, true
}

// expire removes the request after its timer fired and remembers the ID.
func (t *pendingTable) expire(id uint64) (*pendingRequest, bool) {
	r, ok := t.take(id)
	if ok {
		t.expired.Add(id, time.Now())
	}
	return r, ok
}

// expiredAt reports when id timed out, if it is still remembered.
func (t *pendingTable) expiredAt(id uint64) (time.Time, bool) {
	return t.expired.Get(id)
}

// drain removes every request in ID order and stops all timers.
func (t *pendingTable) drain() []*pendingRequest {
	if len(t.requests) == 0 {
		return nil
	}

	drained := make([]*pendingRequest, 0, len(t.requests))
	for id := range t.requests {
		r, _ := t.take(id)
		drained = append(drained, r)
	}
	sort.Slice(drained, func(i, j int) bool { return drained[i].id < drained[j].id })
	return drained
}

func (t *pendingTable) len() int {
	return len(t.requests)
}
