// Package eventbus decouples the annotation store from the broadcast
// forwarder: the store publishes change events post-commit and never learns
// whether anyone is listening.
package eventbus

import (
	"sync"
	"sync/atomic"

	"pindrop/internal/annotation"
)

// Bus is an in-memory fanout of annotation change events.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Bus interface {
	Publish(e annotation.Event)
	Subscribe(buffer int) (ch <-chan annotation.Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan annotation.Event{}}
}

// Nop returns a bus that drops everything. Used when broadcasting is
// disabled so the store's publish path stays unchanged.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(annotation.Event) {}
func (nopBus) Subscribe(int) (<-chan annotation.Event, func()) {
	ch := make(chan annotation.Event)
	return ch, func() { close(ch) }
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan annotation.Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e annotation.Event) {
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan annotation.Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan annotation.Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan annotation.Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
