// Package risk drives the per-participant margin state machine off the
// price stream and performs stopouts.
package risk

import (
	"context"
	"sync"

	"fx-arena/internal/ledger"
	"fx-arena/internal/margin"
	"fx-arena/internal/metrics"
	"fx-arena/internal/pricefeed"
	"fx-arena/internal/types"
	"fx-arena/pkg/logger"
)

// Monitor watches margin levels and force-closes all positions of a
// participant whose level falls through the stopout boundary. Entering
// any other band only changes the reported state.
type Monitor struct {
	ledger *ledger.Ledger
	quotes ledger.QuoteSource
	log    *logger.Logger

	mu         sync.RWMutex
	thresholds map[string]margin.Thresholds // participant -> competition bands
	states     map[string]types.MarginState
}

func NewMonitor(l *ledger.Ledger, quotes ledger.QuoteSource, log *logger.Logger) *Monitor {
	return &Monitor{
		ledger:     l,
		quotes:     quotes,
		log:        log,
		thresholds: make(map[string]margin.Thresholds),
		states:     make(map[string]types.MarginState),
	}
}

// Track registers a participant with the thresholds of their competition.
// The thresholds value is immutable for the participant's lifetime; a
// mid-tick admin change never shifts a boundary under an evaluation.
func (m *Monitor) Track(participantID string, th margin.Thresholds) {
	m.mu.Lock()
	m.thresholds[participantID] = th
	m.states[participantID] = types.MarginStateSafe
	m.mu.Unlock()
}

// State returns the last classified margin state for a participant.
func (m *Monitor) State(participantID string) types.MarginState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.states[participantID]; ok {
		return s
	}
	return types.MarginStateSafe
}

// Run consumes the tick stream until the context is cancelled.
func (m *Monitor) Run(ctx context.Context, ticks <-chan pricefeed.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			m.OnTick(ctx, tick)
		}
	}
}

// OnTick re-evaluates every participant exposed to the tick's symbol.
// Work per participant is O(open positions); evaluation for a single
// participant is serialized by the ledger's account lock.
func (m *Monitor) OnTick(ctx context.Context, tick pricefeed.Tick) {
	metrics.TicksProcessed.Inc()
	for _, id := range m.ledger.ParticipantIDs() {
		if !m.ledger.HasExposure(id, tick.Symbol) {
			continue
		}
		m.Evaluate(ctx, id)
	}
}

// Evaluate recomputes one participant's margin level and applies the
// state machine. Liquidated participants are skipped: the transition is
// terminal and a second stopout pass must never run.
func (m *Monitor) Evaluate(ctx context.Context, participantID string) {
	p, err := m.ledger.Participant(participantID)
	if err != nil {
		return
	}
	if p.Status == types.ParticipantStatusLiquidated {
		return
	}

	m.mu.RLock()
	th, ok := m.thresholds[participantID]
	m.mu.RUnlock()
	if !ok {
		th = margin.DefaultThresholds()
	}

	mt, err := m.ledger.ComputeMetrics(participantID, m.quotes)
	if err != nil {
		return
	}
	state := th.Classify(mt.Level)

	m.mu.Lock()
	prev := m.states[participantID]
	m.states[participantID] = state
	m.mu.Unlock()

	if state != prev && state != types.MarginStateLiquidation {
		m.log.Infow("margin state changed",
			"participant_id", participantID,
			"from", prev, "to", state,
			"margin_level", mt.MarginLevel,
			"equity", mt.Equity,
		)
	}

	if state == types.MarginStateLiquidation {
		m.liquidate(ctx, participantID, mt)
	}
}

func (m *Monitor) liquidate(ctx context.Context, participantID string, mt ledger.Metrics) {
	trades, err := m.ledger.ForceCloseAll(ctx, participantID, m.quotes)
	if err != nil {
		m.log.Errorw("stopout failed", "participant_id", participantID, "error", err)
		return
	}
	if len(trades) == 0 {
		return
	}
	metrics.Liquidations.Inc()
	m.log.Warnw("participant liquidated",
		"participant_id", participantID,
		"margin_level", mt.MarginLevel,
		"equity", mt.Equity,
		"positions_closed", len(trades),
	)
}
