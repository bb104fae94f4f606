package pricefeed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"fx-arena/pkg/logger"

	"github.com/shopspring/decimal"
)

type symbolProfile struct {
	Base   float64
	Vol    float64
	Spread float64
}

var defaultProfiles = map[string]symbolProfile{
	"EURUSD": {Base: 1.0850, Vol: 0.00008, Spread: 0.00012},
	"GBPUSD": {Base: 1.2700, Vol: 0.00010, Spread: 0.00015},
	"USDJPY": {Base: 148.50, Vol: 0.009, Spread: 0.014},
	"USDCHF": {Base: 0.8800, Vol: 0.00007, Spread: 0.00013},
	"AUDUSD": {Base: 0.6550, Vol: 0.00007, Spread: 0.00013},
}

// Simulator generates random-walk quotes for subscribed symbols. It
// serves development mode and engine tests where no upstream feed exists.
type Simulator struct {
	board    *Board
	bus      *Bus
	log      *logger.Logger
	interval time.Duration

	mu     sync.Mutex
	prices map[string]float64
	subs   map[string]struct{}
	rng    *rand.Rand
}

func NewSimulator(board *Board, bus *Bus, log *logger.Logger, interval time.Duration) *Simulator {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Simulator{
		board:    board,
		bus:      bus,
		log:      log,
		interval: interval,
		prices:   make(map[string]float64),
		subs:     make(map[string]struct{}),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Simulator) Subscribe(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[symbol] = struct{}{}
	if _, ok := s.prices[symbol]; !ok {
		if p, ok := defaultProfiles[symbol]; ok {
			s.prices[symbol] = p.Base
		} else {
			s.prices[symbol] = 1.0
		}
	}
	return nil
}

func (s *Simulator) Unsubscribe(symbol string) {
	s.mu.Lock()
	delete(s.subs, symbol)
	s.mu.Unlock()
}

func (s *Simulator) Snapshot(symbol string) (Tick, bool) {
	return s.board.Snapshot(symbol)
}

// Run emits one tick per subscribed symbol every interval until the
// context is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	s.log.Infow("starting simulated price feed", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.step(time.Now().UTC())
		}
	}
}

func (s *Simulator) step(now time.Time) {
	s.mu.Lock()
	ticks := make([]Tick, 0, len(s.subs))
	for symbol := range s.subs {
		profile, ok := defaultProfiles[symbol]
		if !ok {
			profile = symbolProfile{Base: 1.0, Vol: 0.0001, Spread: 0.0002}
		}
		price := s.prices[symbol]
		price += s.rng.NormFloat64() * profile.Vol
		// mean-revert toward the base so the walk stays in range
		price += (profile.Base - price) * 0.001
		if price <= 0 {
			price = profile.Base
		}
		s.prices[symbol] = price

		half := profile.Spread / 2
		bid := decimal.NewFromFloat(price - half)
		ask := decimal.NewFromFloat(price + half)
		ticks = append(ticks, NewTick(symbol, bid, ask, now))
	}
	s.mu.Unlock()

	for _, t := range ticks {
		s.board.Set(t)
		s.bus.Publish(t)
	}
}

// Emit pushes a crafted tick through the board and bus. Tests drive the
// engine with it instead of waiting on the ticker.
func (s *Simulator) Emit(t Tick) {
	s.board.Set(t)
	s.bus.Publish(t)
}
