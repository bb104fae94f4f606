package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fx-arena/internal/model"
	"fx-arena/internal/pricefeed"
	"fx-arena/internal/store"
	"fx-arena/internal/types"
	"fx-arena/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestLedger(t *testing.T) (*Ledger, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return New(st, logger.NewNop()), st
}

func seedParticipant(t *testing.T, l *Ledger, st *store.MemoryStore, id, capital string) {
	t.Helper()
	p := model.Participant{
		ID:               id,
		UserID:           "user-" + id,
		CompetitionID:    "comp-1",
		StartingCapital:  dec(capital),
		AvailableBalance: dec(capital),
		UsedMargin:       decimal.Zero,
		RealizedPnL:      decimal.Zero,
		Status:           types.ParticipantStatusActive,
		JoinedAt:         time.Now().UTC(),
	}
	require.NoError(t, st.CreateParticipant(context.Background(), &p))
	l.Register(p, nil)
}

func openPosition(t *testing.T, l *Ledger, participantID, posID, symbol string, side types.Side, qty, entry, leverage string) {
	t.Helper()
	quantity := dec(qty)
	entryPrice := dec(entry)
	lev := dec(leverage)
	pos := &model.Position{
		ID:            posID,
		ParticipantID: participantID,
		Symbol:        symbol,
		Side:          side,
		Quantity:      quantity,
		EntryPrice:    entryPrice,
		Leverage:      lev,
		Margin:        quantity.Mul(decimal.NewFromInt(100000)).Mul(entryPrice).Div(lev),
		OpenedAt:      time.Now().UTC(),
		Status:        types.PositionStatusOpen,
	}
	require.NoError(t, l.Open(context.Background(), pos))
}

func TestComputeMetricsEquityIdentity(t *testing.T) {
	l, st := newTestLedger(t)
	seedParticipant(t, l, st, "p1", "10000")
	openPosition(t, l, "p1", "pos1", "EURUSD", types.SideLong, "0.5", "1.1000", "100")

	board := pricefeed.NewBoard()
	board.Set(pricefeed.NewTick("EURUSD", dec("1.1050"), dec("1.1052"), time.Now()))

	m, err := l.ComputeMetrics("p1", board)
	require.NoError(t, err)

	// long marks at bid: (1.1050 - 1.1000) * 0.5 * 100000 = 250
	assert.True(t, m.FloatingPnL.Equal(dec("250")), "floating = %s", m.FloatingPnL)
	assert.True(t, m.Equity.Equal(dec("10250")), "equity = %s", m.Equity)
	assert.True(t, m.UsedMargin.Equal(dec("550")), "used margin = %s", m.UsedMargin)
	assert.True(t, m.FreeMargin.Equal(m.Equity.Sub(m.UsedMargin)))
	assert.Equal(t, 1, m.OpenCount)
	assert.False(t, m.Level.Infinite)
}

func TestComputeMetricsNoPositionsInfiniteLevel(t *testing.T) {
	l, st := newTestLedger(t)
	seedParticipant(t, l, st, "p1", "10000")

	m, err := l.ComputeMetrics("p1", pricefeed.NewBoard())
	require.NoError(t, err)
	assert.True(t, m.Level.Infinite)
	assert.True(t, m.Equity.Equal(dec("10000")))
	assert.True(t, m.UsedMargin.IsZero())
}

func TestComputeMetricsUnknownParticipant(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.ComputeMetrics("ghost", pricefeed.NewBoard())
	assert.ErrorIs(t, err, ErrUnknownParticipant)
}

func TestCloseShortPosition(t *testing.T) {
	l, st := newTestLedger(t)
	seedParticipant(t, l, st, "p1", "10000")
	openPosition(t, l, "p1", "pos1", "EURUSD", types.SideShort, "0.1", "1.2000", "50")

	trade, err := l.Close(context.Background(), "p1", "pos1", dec("1.1900"), types.PositionStatusClosed)
	require.NoError(t, err)

	// short: (1.2000 - 1.1900) * 0.1 * 100000 = 100
	assert.True(t, trade.PnL.Equal(dec("100")), "pnl = %s", trade.PnL)
	assert.True(t, trade.IsWin)

	p, err := l.Participant("p1")
	require.NoError(t, err)
	assert.True(t, p.RealizedPnL.Equal(dec("100")))
	assert.True(t, p.UsedMargin.IsZero())
	assert.True(t, p.AvailableBalance.Equal(dec("10100")), "balance = %s", p.AvailableBalance)
	assert.Equal(t, 1, p.ClosedTrades)
	assert.Equal(t, 1, p.WinningTrades)

	trades, err := st.ListTrades(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, trades, 1)
}

func TestBreakevenCloseIsNotWin(t *testing.T) {
	l, st := newTestLedger(t)
	seedParticipant(t, l, st, "p1", "10000")
	openPosition(t, l, "p1", "pos1", "EURUSD", types.SideLong, "0.1", "1.2000", "50")

	trade, err := l.Close(context.Background(), "p1", "pos1", dec("1.2000"), types.PositionStatusClosed)
	require.NoError(t, err)
	assert.True(t, trade.PnL.IsZero())
	assert.False(t, trade.IsWin)

	p, _ := l.Participant("p1")
	assert.Equal(t, 1, p.ClosedTrades)
	assert.Equal(t, 0, p.WinningTrades)
}

func TestCloseRaceSingleWinner(t *testing.T) {
	l, st := newTestLedger(t)
	seedParticipant(t, l, st, "p1", "10000")
	openPosition(t, l, "p1", "pos1", "EURUSD", types.SideLong, "0.1", "1.1000", "100")

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan *model.TradeRecord, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			trade, err := l.Close(context.Background(), "p1", "pos1", dec("1.1100"), types.PositionStatusClosed)
			if err == nil {
				wins <- trade
			} else {
				assert.ErrorIs(t, err, ErrPositionAlreadyClosed)
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	assert.Equal(t, 1, winners)

	p, _ := l.Participant("p1")
	assert.Equal(t, 1, p.ClosedTrades)
}

func TestForceCloseAll(t *testing.T) {
	l, st := newTestLedger(t)
	seedParticipant(t, l, st, "p1", "10000")
	openPosition(t, l, "p1", "pos1", "EURUSD", types.SideLong, "0.2", "1.1000", "100")
	openPosition(t, l, "p1", "pos2", "USDJPY", types.SideShort, "0.1", "150.00", "100")

	board := pricefeed.NewBoard()
	board.Set(pricefeed.NewTick("EURUSD", dec("1.0900"), dec("1.0902"), time.Now()))
	board.Set(pricefeed.NewTick("USDJPY", dec("151.00"), dec("151.02"), time.Now()))

	trades, err := l.ForceCloseAll(context.Background(), "p1", board)
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	open, err := l.OpenPositions("p1")
	require.NoError(t, err)
	assert.Empty(t, open)

	p, _ := l.Participant("p1")
	assert.Equal(t, types.ParticipantStatusLiquidated, p.Status)
	assert.True(t, p.UsedMargin.IsZero())

	// repeat is a no-op
	again, err := l.ForceCloseAll(context.Background(), "p1", board)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestOpenRefusedAfterLiquidation(t *testing.T) {
	l, st := newTestLedger(t)
	seedParticipant(t, l, st, "p1", "10000")
	_, err := l.ForceCloseAll(context.Background(), "p1", pricefeed.NewBoard())
	require.NoError(t, err)

	pos := &model.Position{
		ID:            "pos1",
		ParticipantID: "p1",
		Symbol:        "EURUSD",
		Side:          types.SideLong,
		Quantity:      dec("0.1"),
		EntryPrice:    dec("1.1000"),
		Leverage:      dec("100"),
		Margin:        dec("110"),
		OpenedAt:      time.Now().UTC(),
		Status:        types.PositionStatusOpen,
	}
	err = l.Open(context.Background(), pos)
	assert.ErrorIs(t, err, ErrParticipantLiquidated)
}

type createFailStore struct {
	store.Store
}

var errStoreDown = errors.New("store down")

func (s *createFailStore) CreatePosition(ctx context.Context, pos *model.Position) error {
	return errStoreDown
}

func TestOpenFailureLeavesAccountUntouched(t *testing.T) {
	st := store.NewMemoryStore()
	l := New(&createFailStore{Store: st}, logger.NewNop())
	p := model.Participant{
		ID:               "p1",
		UserID:           "user-p1",
		CompetitionID:    "comp-1",
		StartingCapital:  dec("10000"),
		AvailableBalance: dec("10000"),
		Status:           types.ParticipantStatusActive,
		JoinedAt:         time.Now().UTC(),
	}
	require.NoError(t, st.CreateParticipant(context.Background(), &p))
	l.Register(p, nil)

	pos := &model.Position{
		ID:            "pos1",
		ParticipantID: "p1",
		Symbol:        "EURUSD",
		Side:          types.SideLong,
		Quantity:      dec("0.1"),
		EntryPrice:    dec("1.1000"),
		Leverage:      dec("100"),
		Margin:        dec("110"),
		OpenedAt:      time.Now().UTC(),
		Status:        types.PositionStatusOpen,
	}
	err := l.Open(context.Background(), pos)
	require.ErrorIs(t, err, errStoreDown)

	open, err := l.OpenPositions("p1")
	require.NoError(t, err)
	assert.Empty(t, open, "failed open must not leave a live position")
	m, err := l.ComputeMetrics("p1", pricefeed.NewBoard())
	require.NoError(t, err)
	assert.True(t, m.UsedMargin.IsZero(), "failed open must not commit margin, got %s", m.UsedMargin)
	assert.True(t, m.Equity.Equal(dec("10000")))
}

func TestMarkStatusForwardOnly(t *testing.T) {
	l, st := newTestLedger(t)
	seedParticipant(t, l, st, "p1", "10000")

	_, err := l.ForceCloseAll(context.Background(), "p1", pricefeed.NewBoard())
	require.NoError(t, err)

	// terminal status sticks
	require.NoError(t, l.MarkStatus(context.Background(), "p1", types.ParticipantStatusCompleted))
	p, _ := l.Participant("p1")
	assert.Equal(t, types.ParticipantStatusLiquidated, p.Status)
}

func TestSetProtectiveLevels(t *testing.T) {
	l, st := newTestLedger(t)
	seedParticipant(t, l, st, "p1", "10000")
	openPosition(t, l, "p1", "pos1", "EURUSD", types.SideLong, "0.1", "1.1000", "100")

	tp := dec("1.1200")
	sl := dec("1.0900")
	pos, err := l.SetProtectiveLevels(context.Background(), "p1", "pos1", &tp, &sl)
	require.NoError(t, err)
	require.NotNil(t, pos.TakeProfit)
	require.NotNil(t, pos.StopLoss)
	assert.True(t, pos.TakeProfit.Equal(tp))
	assert.True(t, pos.StopLoss.Equal(sl))

	_, err = l.SetProtectiveLevels(context.Background(), "p1", "missing", &tp, nil)
	assert.ErrorIs(t, err, ErrPositionAlreadyClosed)
}

func TestHasExposure(t *testing.T) {
	l, st := newTestLedger(t)
	seedParticipant(t, l, st, "p1", "10000")
	assert.False(t, l.HasExposure("p1", "EURUSD"))

	openPosition(t, l, "p1", "pos1", "EURUSD", types.SideLong, "0.1", "1.1000", "100")
	assert.True(t, l.HasExposure("p1", "EURUSD"))
	assert.False(t, l.HasExposure("p1", "USDJPY"))
}
