// Package notify provides a latest-value change broadcaster for store snapshots.
package notify

import "sync"

// Broadcaster fans a value out to subscribers. Each subscriber channel holds at
// most one pending value; a slow reader sees the newest value, never a stale queue.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan T
	closed bool
}

// Subscribe registers a subscriber. The returned func unsubscribes and closes the channel;
// calling it more than once is safe.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, 1)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	if b.subs == nil {
		b.subs = map[int]chan T{}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers v to every subscriber without blocking.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			// replace the pending value with the newest one
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}

// Len returns the number of active subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes all subscriber channels; later Subscribe calls get a closed channel.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
