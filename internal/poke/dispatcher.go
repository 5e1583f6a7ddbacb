// Package poke implements the payload-free invalidation channel. A poke
// carries no data, only "something changed, re-pull"; the CVR diff computed
// during the next pull is the sole source of truth for what changed.
package poke

import (
	"context"
	"sync"
)

const subscriberBufferSize = 8

// Dispatcher is a process-wide pub/sub registry keyed by channel name, for
// example "conversation/c1" or "user/u1". It is constructed once and passed
// to both the push path and the connection-handling path.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
}

type subscriber struct {
	id     int64
	signal chan struct{}
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
	}
}

// Subscribe registers a listener on the channel and returns its signal stream
// plus an unsubscribe function. The subscription is also released when ctx is
// cancelled. Unsubscribe is synchronous; after it returns no further signals
// are delivered.
func (d *Dispatcher) Subscribe(ctx context.Context, channel string) (<-chan struct{}, func()) {
	if channel == "" {
		closed := make(chan struct{})
		close(closed)
		return closed, func() {}
	}

	sub := &subscriber{
		signal: make(chan struct{}, subscriberBufferSize),
	}

	d.mu.Lock()
	d.nextID++
	sub.id = d.nextID
	if _, ok := d.subscribers[channel]; !ok {
		d.subscribers[channel] = make(map[int64]*subscriber)
	}
	d.subscribers[channel][sub.id] = sub
	d.mu.Unlock()

	cleanup := func() {
		d.unsubscribe(channel, sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.signal, cleanup
}

// Publish signals every subscriber on the channel. Delivery is best effort
// per subscriber: a full buffer drops the signal rather than blocking, which
// is safe because pokes are payload-free and coalescible.
func (d *Dispatcher) Publish(channel string) {
	if channel == "" {
		return
	}

	d.mu.RLock()
	subscribers := d.subscribers[channel]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()

	for _, sub := range copies {
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
}

// SubscriberCount reports how many listeners a channel currently has.
func (d *Dispatcher) SubscriberCount(channel string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[channel])
}

func (d *Dispatcher) unsubscribe(channel string, id int64) {
	d.mu.Lock()
	subscribers := d.subscribers[channel]
	if subscribers != nil {
		delete(subscribers, id)
		if len(subscribers) == 0 {
			delete(d.subscribers, channel)
		}
	}
	d.mu.Unlock()
}
