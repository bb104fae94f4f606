package pricefeed

import "sync"

// Bus fans incoming ticks out to subscribers. Slow subscribers drop
// ticks rather than block the feed.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Tick]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Tick]struct{})}
}

func (b *Bus) Subscribe() chan Tick {
	ch := make(chan Tick, 256)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan Tick) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(t Tick) {
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- t:
		default:
		}
	}
	b.mu.RUnlock()
}
