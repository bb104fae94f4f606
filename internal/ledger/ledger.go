// Package ledger owns the runtime state of every participant account:
// open positions, used margin, realized results. All mutation for one
// participant is serialized behind that participant's lock; different
// participants never contend.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"fx-arena/internal/margin"
	"fx-arena/internal/model"
	"fx-arena/internal/pricefeed"
	"fx-arena/internal/store"
	"fx-arena/internal/types"
	"fx-arena/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownParticipant    = errors.New("unknown participant")
	ErrPositionNotFound      = errors.New("position not found")
	ErrPositionAlreadyClosed = errors.New("position already closed")
	ErrParticipantLiquidated = errors.New("participant liquidated: trading blocked")
)

// QuoteSource yields the last tick for a symbol. pricefeed.Board and
// every pricefeed.Feed satisfy it.
type QuoteSource interface {
	Snapshot(symbol string) (pricefeed.Tick, bool)
}

type account struct {
	mu          sync.Mutex
	participant model.Participant
	positions   map[string]*model.Position
}

type Ledger struct {
	store store.Store
	log   *logger.Logger

	mu       sync.RWMutex
	accounts map[string]*account
}

func New(st store.Store, log *logger.Logger) *Ledger {
	return &Ledger{
		store:    st,
		log:      log,
		accounts: make(map[string]*account),
	}
}

// Register loads a participant and their open positions into the ledger.
func (l *Ledger) Register(p model.Participant, open []*model.Position) {
	acc := &account{
		participant: p,
		positions:   make(map[string]*model.Position, len(open)),
	}
	for _, pos := range open {
		if pos.Status == types.PositionStatusOpen {
			cp := *pos
			acc.positions[pos.ID] = &cp
		}
	}
	l.mu.Lock()
	l.accounts[p.ID] = acc
	l.mu.Unlock()
}

func (l *Ledger) get(participantID string) (*account, bool) {
	l.mu.RLock()
	acc, ok := l.accounts[participantID]
	l.mu.RUnlock()
	return acc, ok
}

// ParticipantIDs returns every registered participant.
func (l *Ledger) ParticipantIDs() []string {
	l.mu.RLock()
	out := make([]string, 0, len(l.accounts))
	for id := range l.accounts {
		out = append(out, id)
	}
	l.mu.RUnlock()
	return out
}

// Participant returns a copy of the participant's account record.
func (l *Ledger) Participant(participantID string) (model.Participant, error) {
	acc, ok := l.get(participantID)
	if !ok {
		return model.Participant{}, ErrUnknownParticipant
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.participant, nil
}

// OpenPositions returns copies of the participant's open positions.
func (l *Ledger) OpenPositions(participantID string) ([]model.Position, error) {
	acc, ok := l.get(participantID)
	if !ok {
		return nil, ErrUnknownParticipant
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	out := make([]model.Position, 0, len(acc.positions))
	for _, pos := range acc.positions {
		out = append(out, *pos)
	}
	return out, nil
}

// unrealizedPnL marks a position against the close side of the quote:
// longs close at bid, shorts at ask.
func unrealizedPnL(pos *model.Position, tick pricefeed.Tick) decimal.Decimal {
	mark := tick.Bid
	if pos.Side == types.SideShort {
		mark = tick.Ask
	}
	return realizedPnL(pos, mark)
}

func realizedPnL(pos *model.Position, exit decimal.Decimal) decimal.Decimal {
	size := pos.Quantity.Mul(margin.ContractSize)
	if pos.Side == types.SideShort {
		return pos.EntryPrice.Sub(exit).Mul(size)
	}
	return exit.Sub(pos.EntryPrice).Mul(size)
}

// Metrics is a participant's margin health snapshot.
type Metrics struct {
	Equity      decimal.Decimal `json:"equity"`
	UsedMargin  decimal.Decimal `json:"used_margin"`
	FreeMargin  decimal.Decimal `json:"free_margin"`
	FloatingPnL decimal.Decimal `json:"floating_pnl"`
	Level       margin.Level    `json:"-"`
	MarginLevel string          `json:"margin_level"`
	OpenCount   int             `json:"open_count"`
}

// ComputeMetrics values every open position against the given quotes and
// derives equity and margin level. Pure read; safe to call repeatedly.
func (l *Ledger) ComputeMetrics(participantID string, quotes QuoteSource) (Metrics, error) {
	acc, ok := l.get(participantID)
	if !ok {
		return Metrics{}, ErrUnknownParticipant
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return accountMetrics(acc, quotes), nil
}

func accountMetrics(acc *account, quotes QuoteSource) Metrics {
	floating := decimal.Zero
	for _, pos := range acc.positions {
		tick, ok := quotes.Snapshot(pos.Symbol)
		if !ok {
			continue
		}
		floating = floating.Add(unrealizedPnL(pos, tick))
	}
	p := acc.participant
	equity := p.StartingCapital.Add(p.RealizedPnL).Add(floating)
	level := margin.ComputeLevel(equity, p.UsedMargin)
	return Metrics{
		Equity:      equity,
		UsedMargin:  p.UsedMargin,
		FreeMargin:  equity.Sub(p.UsedMargin),
		FloatingPnL: floating,
		Level:       level,
		MarginLevel: level.String(),
		OpenCount:   len(acc.positions),
	}
}

// Open books a new position: commits its margin, stores it, persists.
// The caller has already validated risk; Open only refuses participants
// in a terminal state.
func (l *Ledger) Open(ctx context.Context, pos *model.Position) error {
	acc, ok := l.get(pos.ParticipantID)
	if !ok {
		return ErrUnknownParticipant
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()

	if acc.participant.Status != types.ParticipantStatusActive {
		return ErrParticipantLiquidated
	}

	// Persist before touching the account: a rejected open must leave
	// no position and no committed margin behind.
	cp := *pos
	if err := l.store.CreatePosition(ctx, &cp); err != nil {
		return err
	}

	acc.positions[cp.ID] = &cp
	acc.participant.UsedMargin = acc.participant.UsedMargin.Add(cp.Margin)
	acc.participant.AvailableBalance = acc.participant.AvailableBalance.Sub(cp.Margin)

	if err := l.store.UpdateParticipant(ctx, &acc.participant); err != nil {
		l.log.Errorw("persist participant", "participant_id", acc.participant.ID, "error", err)
	}
	return nil
}

// Close settles one open position at the given exit price. Exactly one
// caller wins a close race; the rest get ErrPositionAlreadyClosed. The
// close appends the position's immutable trade-history row.
func (l *Ledger) Close(ctx context.Context, participantID, positionID string, exit decimal.Decimal, status types.PositionStatus) (*model.TradeRecord, error) {
	acc, ok := l.get(participantID)
	if !ok {
		return nil, ErrUnknownParticipant
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return l.closeLocked(ctx, acc, positionID, exit, status)
}

func (l *Ledger) closeLocked(ctx context.Context, acc *account, positionID string, exit decimal.Decimal, status types.PositionStatus) (*model.TradeRecord, error) {
	pos, ok := acc.positions[positionID]
	if !ok {
		return nil, ErrPositionAlreadyClosed
	}
	if pos.Status != types.PositionStatusOpen {
		return nil, ErrPositionAlreadyClosed
	}

	now := time.Now().UTC()
	pnl := realizedPnL(pos, exit)

	pos.Status = status
	pos.ClosedAt = &now
	pos.ExitPrice = &exit
	pos.RealizedPnL = &pnl
	delete(acc.positions, positionID)

	p := &acc.participant
	p.UsedMargin = p.UsedMargin.Sub(pos.Margin)
	if p.UsedMargin.IsNegative() {
		p.UsedMargin = decimal.Zero
	}
	p.RealizedPnL = p.RealizedPnL.Add(pnl)
	p.AvailableBalance = p.AvailableBalance.Add(pos.Margin).Add(pnl)
	p.ClosedTrades++
	isWin := pnl.GreaterThan(decimal.Zero)
	if isWin {
		p.WinningTrades++
	}

	trade := &model.TradeRecord{
		ID:            uuid.NewString(),
		ParticipantID: p.ID,
		PositionID:    pos.ID,
		Symbol:        pos.Symbol,
		Side:          pos.Side,
		PnL:           pnl,
		IsWin:         isWin,
		ClosedAt:      now,
	}

	if err := l.store.UpdatePosition(ctx, pos); err != nil {
		l.log.Errorw("persist closed position", "position_id", pos.ID, "error", err)
	}
	if err := l.store.AppendTrade(ctx, trade); err != nil {
		l.log.Errorw("persist trade record", "position_id", pos.ID, "error", err)
	}
	if err := l.store.UpdateParticipant(ctx, p); err != nil {
		l.log.Errorw("persist participant", "participant_id", p.ID, "error", err)
	}
	return trade, nil
}

// ForceCloseAll closes every open position at the current quote in one
// pass and marks the participant liquidated. Used margin is zero
// afterwards. Calling it on an already-liquidated participant is a no-op.
func (l *Ledger) ForceCloseAll(ctx context.Context, participantID string, quotes QuoteSource) ([]*model.TradeRecord, error) {
	acc, ok := l.get(participantID)
	if !ok {
		return nil, ErrUnknownParticipant
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()

	if acc.participant.Status == types.ParticipantStatusLiquidated {
		return nil, nil
	}

	ids := make([]string, 0, len(acc.positions))
	for id := range acc.positions {
		ids = append(ids, id)
	}

	var trades []*model.TradeRecord
	for _, id := range ids {
		pos := acc.positions[id]
		tick, ok := quotes.Snapshot(pos.Symbol)
		if !ok {
			// no quote: close at entry, flat
			tick = pricefeed.Tick{Symbol: pos.Symbol, Bid: pos.EntryPrice, Ask: pos.EntryPrice}
		}
		exit := tick.Bid
		if pos.Side == types.SideShort {
			exit = tick.Ask
		}
		trade, err := l.closeLocked(ctx, acc, id, exit, types.PositionStatusLiquidated)
		if err != nil {
			continue
		}
		trades = append(trades, trade)
	}

	acc.participant.Status = types.ParticipantStatusLiquidated
	acc.participant.UsedMargin = decimal.Zero
	if err := l.store.UpdateParticipant(ctx, &acc.participant); err != nil {
		l.log.Errorw("persist liquidated participant", "participant_id", participantID, "error", err)
	}
	return trades, nil
}

// SetProtectiveLevels amends a position's TP/SL in place.
func (l *Ledger) SetProtectiveLevels(ctx context.Context, participantID, positionID string, tp, sl *decimal.Decimal) (model.Position, error) {
	acc, ok := l.get(participantID)
	if !ok {
		return model.Position{}, ErrUnknownParticipant
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()

	pos, ok := acc.positions[positionID]
	if !ok || pos.Status != types.PositionStatusOpen {
		return model.Position{}, ErrPositionAlreadyClosed
	}
	if tp != nil {
		pos.TakeProfit = tp
	}
	if sl != nil {
		pos.StopLoss = sl
	}
	if err := l.store.UpdatePosition(ctx, pos); err != nil {
		return model.Position{}, err
	}
	return *pos, nil
}

// MarkStatus transitions a participant to a terminal status. Transitions
// only move forward; an already-terminal participant keeps its status.
func (l *Ledger) MarkStatus(ctx context.Context, participantID string, status types.ParticipantStatus) error {
	acc, ok := l.get(participantID)
	if !ok {
		return ErrUnknownParticipant
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	if acc.participant.Status != types.ParticipantStatusActive {
		return nil
	}
	acc.participant.Status = status
	return l.store.UpdateParticipant(ctx, &acc.participant)
}

// HasExposure reports whether the participant holds an open position on
// the symbol. The liquidation monitor uses it to skip untouched accounts.
func (l *Ledger) HasExposure(participantID, symbol string) bool {
	acc, ok := l.get(participantID)
	if !ok {
		return false
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	for _, pos := range acc.positions {
		if pos.Symbol == symbol {
			return true
		}
	}
	return false
}
