package pricefeed

import "sync"

// Board keeps the last tick per symbol. It is an explicit value handed to
// consumers, never package-global state.
type Board struct {
	mu   sync.RWMutex
	data map[string]Tick
}

func NewBoard() *Board {
	return &Board{data: make(map[string]Tick)}
}

func (b *Board) Set(t Tick) {
	if !t.Valid() {
		return
	}
	b.mu.Lock()
	b.data[t.Symbol] = t
	b.mu.Unlock()
}

// Snapshot returns the last known tick for a symbol.
func (b *Board) Snapshot(symbol string) (Tick, bool) {
	b.mu.RLock()
	t, ok := b.data[symbol]
	b.mu.RUnlock()
	return t, ok
}

// Symbols returns every symbol with a known quote.
func (b *Board) Symbols() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.data))
	for s := range b.data {
		out = append(out, s)
	}
	b.mu.RUnlock()
	return out
}
