package connection

import (
	"encoding/json"
	"sync/atomic"
)

// Subscription is the handle returned by Subscribe and SubscribeToMeta.
// It is revoked by Cancel or when the scope it was registered with ends.
type Subscription struct {
	id     uint64
	types  map[string]struct{} // message subscriptions
	meta   MetaEventType       // meta subscriptions
	active atomic.Bool

	onMessage MessageHandler
	onMeta    MetaHandler

	// Set by the manager under its lock.
	remove    func(*Subscription)
	stopScope func() bool
}

// Cancel revokes the subscription. Safe to call more than once and on an
// inert handle. A callback already running is not interrupted.
func (s *Subscription) Cancel() {
	if s == nil || !s.active.CompareAndSwap(true, false) {
		return
	}
	if s.remove != nil {
		s.remove(s)
	}
}

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool {
	return s != nil && s.active.Load()
}

func (s *Subscription) deliver(messageType string, message json.RawMessage) {
	if s.active.Load() {
		s.onMessage(messageType, message)
	}
}

func (s *Subscription) deliverMeta(event MetaEvent) {
	if s.active.Load() {
		s.onMeta(event)
	}
}

// registry tracks subscriptions in registration order.
// It is not safe for concurrent use; the manager guards it with its mutex.
type registry struct {
	lastID   uint64
	messages []*Subscription
	meta     map[MetaEventType][]*Subscription
}

func newRegistry() *registry {
	return &registry{
		meta: make(map[MetaEventType][]*Subscription),
	}
}

func (r *registry) addMessage(s *Subscription) {
	r.lastID++
	s.id = r.lastID
	s.active.Store(true)
	r.messages = append(r.messages, s)
}

func (r *registry) addMeta(s *Subscription) {
	r.lastID++
	s.id = r.lastID
	s.active.Store(true)
	r.meta[s.meta] = append(r.meta[s.meta], s)
}

func (r *registry) remove(s *Subscription) {
	if s.onMeta != nil {
		r.meta[s.meta] = without(r.meta[s.meta], s)
		return
	}
	r.messages = without(r.messages, s)
}

// match returns the subscriptions interested in messageType, oldest first.
func (r *registry) match(messageType string) []*Subscription {
	var matched []*Subscription
	for _, s := range r.messages {
		if _, ok := s.types[messageType]; ok {
			matched = append(matched, s)
		}
	}
	return matched
}

// metaHandlers returns a copy of the subscriptions for t, oldest first.
func (r *registry) metaHandlers(t MetaEventType) []*Subscription {
	subs := r.meta[t]
	if len(subs) == 0 {
		return nil
	}
	return append([]*Subscription(nil), subs...)
}

// clear deactivates everything and returns the scope stoppers to run.
func (r *registry) clear() []func() bool {
	var stops []func() bool
	collect := func(subs []*Subscription) {
		for _, s := range subs {
			s.active.Store(false)
			if s.stopScope != nil {
				stops = append(stops, s.stopScope)
			}
		}
	}
	collect(r.messages)
	for _, subs := range r.meta {
		collect(subs)
	}
	r.messages = nil
	r.meta = make(map[MetaEventType][]*Subscription)
	return stops
}

func (r *registry) counts() (messages, meta int) {
	for _, subs := range r.meta {
		meta += len(subs)
	}
	return len(r.messages), meta
}

func without(subs []*Subscription, s *Subscription) []*Subscription {
	for i, candidate := range subs {
		if candidate == s {
			// Copy so snapshots handed to the callback loop stay intact.
			out := make([]*Subscription, 0, len(subs)-1)
			out = append(out, subs[:i]...)
			return append(out, subs[i+1:]...)
		}
	}
	return subs
}
