package orders

import (
	"context"
	"testing"
	"time"

	"fx-arena/internal/ledger"
	"fx-arena/internal/margin"
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

func ptr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type env struct {
	store  *store.MemoryStore
	ledger *ledger.Ledger
	board  *pricefeed.Board
	svc    *Service
}

func newEnv(t *testing.T, mutate func(*model.Competition)) *env {
	t.Helper()
	st := store.NewMemoryStore()
	l := ledger.New(st, logger.NewNop())
	board := pricefeed.NewBoard()
	board.Set(pricefeed.NewTick("EURUSD", dec("1.1000"), dec("1.1002"), time.Now()))

	comp := &model.Competition{
		ID:                  "c1",
		Name:                "weekly",
		Status:              types.CompetitionStatusActive,
		RankingMethod:       types.RankByPnL,
		TieBreaker1:         types.TieBreakFewerTrades,
		StartingCapital:     dec("10000"),
		MarginCallThreshold: dec("120"),
		MaxOpenPositions:    5,
	}
	if mutate != nil {
		mutate(comp)
	}
	require.NoError(t, st.CreateCompetition(context.Background(), comp))

	p := model.Participant{
		ID:               "p1",
		UserID:           "u1",
		CompetitionID:    "c1",
		StartingCapital:  dec("10000"),
		AvailableBalance: dec("10000"),
		UsedMargin:       decimal.Zero,
		RealizedPnL:      decimal.Zero,
		Status:           types.ParticipantStatusActive,
		JoinedAt:         time.Now().UTC(),
	}
	require.NoError(t, st.CreateParticipant(context.Background(), &p))
	l.Register(p, nil)

	svc := NewService(st, l, board, logger.NewNop(), margin.DefaultThresholds(), dec("10"))
	return &env{store: st, ledger: l, board: board, svc: svc}
}

func marketOrder(side types.Side, qty, lev string) PlaceOrderRequest {
	return PlaceOrderRequest{
		ParticipantID: "p1",
		CompetitionID: "c1",
		Symbol:        "EURUSD",
		Side:          side,
		OrderType:     types.OrderTypeMarket,
		Quantity:      dec(qty),
		Leverage:      dec(lev),
	}
}

func TestMarketBuyFillsAtAsk(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.svc.PlaceOrder(context.Background(), marketOrder(types.SideLong, "0.1", "100"))
	require.NoError(t, err)
	require.NotNil(t, res.Position)
	assert.True(t, res.Position.EntryPrice.Equal(dec("1.1002")))

	// margin = 0.1 * 100000 * 1.1002 / 100 = 110.02
	assert.True(t, res.Position.Margin.Equal(dec("110.02")), "margin = %s", res.Position.Margin)

	p, _ := e.ledger.Participant("p1")
	assert.True(t, p.UsedMargin.Equal(dec("110.02")))
	assert.True(t, p.AvailableBalance.Equal(dec("9889.98")))
}

func TestMarketSellFillsAtBid(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.svc.PlaceOrder(context.Background(), marketOrder(types.SideShort, "0.1", "100"))
	require.NoError(t, err)
	require.NotNil(t, res.Position)
	assert.True(t, res.Position.EntryPrice.Equal(dec("1.1000")))
}

func TestPlaceOrderValidation(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	req := marketOrder(types.SideLong, "0.1", "100")
	req.Side = "sideways"
	_, err := e.svc.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, ErrValidation)

	req = marketOrder(types.SideLong, "0", "100")
	_, err = e.svc.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, ErrValidation)

	req = marketOrder(types.SideLong, "0.1", "0")
	_, err = e.svc.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPlaceOrderCompetitionNotActive(t *testing.T) {
	e := newEnv(t, func(c *model.Competition) { c.Status = types.CompetitionStatusUpcoming })
	_, err := e.svc.PlaceOrder(context.Background(), marketOrder(types.SideLong, "0.1", "100"))
	assert.ErrorIs(t, err, ErrCompetitionNotActive)
}

func TestPlaceOrderNoQuote(t *testing.T) {
	e := newEnv(t, nil)
	req := marketOrder(types.SideLong, "0.1", "100")
	req.Symbol = "GBPUSD"
	_, err := e.svc.PlaceOrder(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoQuote)
}

func TestPositionCountLimit(t *testing.T) {
	e := newEnv(t, func(c *model.Competition) { c.MaxOpenPositions = 1 })
	ctx := context.Background()

	_, err := e.svc.PlaceOrder(ctx, marketOrder(types.SideLong, "0.1", "100"))
	require.NoError(t, err)

	_, err = e.svc.PlaceOrder(ctx, marketOrder(types.SideLong, "0.1", "100"))
	assert.ErrorIs(t, err, ErrPositionLimitExceeded)
}

func TestPositionSizeLimit(t *testing.T) {
	e := newEnv(t, func(c *model.Competition) { c.MaxPositionSize = dec("100") })

	// notional 0.1 * 100000 * 1.1002 = 11002 > 100 * 100
	_, err := e.svc.PlaceOrder(context.Background(), marketOrder(types.SideLong, "0.1", "100"))
	assert.ErrorIs(t, err, ErrPositionSizeExceeded)
}

func TestInsufficientMarginRejected(t *testing.T) {
	e := newEnv(t, nil)

	// required margin 1100.2 against 10000 equity projects to ~909%,
	// fine; 10 lots projects to ~90%, under the 120 stopout.
	_, err := e.svc.PlaceOrder(context.Background(), marketOrder(types.SideLong, "10", "100"))
	assert.ErrorIs(t, err, ErrInsufficientMargin)

	// the failed order left nothing behind
	p, _ := e.ledger.Participant("p1")
	assert.True(t, p.UsedMargin.IsZero())
	open, _ := e.ledger.OpenPositions("p1")
	assert.Empty(t, open)
}

func TestConfiguredThresholdsGateOpens(t *testing.T) {
	// No per-competition stopout override, so the platform bands apply.
	e := newEnv(t, func(c *model.Competition) {
		c.MarginCallThreshold = decimal.Zero
	})
	strict := NewService(e.store, e.ledger, e.board, logger.NewNop(), margin.ThresholdsFromLevels(300, 250, 200, 200), dec("10"))

	// 5 lots commits 5501 margin: projected level ~181%, above the
	// default 120 stopout but under a configured 200.
	req := marketOrder(types.SideLong, "5", "100")
	_, err := strict.PlaceOrder(context.Background(), req)
	assert.ErrorIs(t, err, ErrInsufficientMargin)

	_, err = e.svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
}

func TestLimitOrderMinimumDistance(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	// mid is 1.1001, minimum distance 10 pips = 0.0010
	req := marketOrder(types.SideLong, "0.1", "100")
	req.OrderType = types.OrderTypeLimit
	req.LimitPrice = ptr("1.1005")
	_, err := e.svc.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidLimitDistance)

	req.LimitPrice = ptr("1.0990")
	res, err := e.svc.PlaceOrder(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, res.LimitOrder)
	assert.Equal(t, types.LimitOrderStatusPending, res.LimitOrder.Status)

	pending := e.svc.PendingLimitOrders("p1")
	require.Len(t, pending, 1)
}

func TestLimitOrderFillsWhenCrossed(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	req := marketOrder(types.SideLong, "0.1", "100")
	req.OrderType = types.OrderTypeLimit
	req.LimitPrice = ptr("1.0990")
	res, err := e.svc.PlaceOrder(ctx, req)
	require.NoError(t, err)

	// ask still above the limit: nothing happens
	tick := pricefeed.NewTick("EURUSD", dec("1.0992"), dec("1.0994"), time.Now())
	e.board.Set(tick)
	e.svc.OnTick(ctx, tick)
	assert.Len(t, e.svc.PendingLimitOrders("p1"), 1)

	// ask at the limit: buy fills at ask
	tick = pricefeed.NewTick("EURUSD", dec("1.0988"), dec("1.0990"), time.Now())
	e.board.Set(tick)
	e.svc.OnTick(ctx, tick)
	assert.Empty(t, e.svc.PendingLimitOrders("p1"))

	open, err := e.ledger.OpenPositions("p1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].EntryPrice.Equal(dec("1.0990")))
	_ = res
}

func TestCrossedLimitCancelledWhenCompetitionEnds(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	req := marketOrder(types.SideLong, "0.1", "100")
	req.OrderType = types.OrderTypeLimit
	req.LimitPrice = ptr("1.0990")
	res, err := e.svc.PlaceOrder(ctx, req)
	require.NoError(t, err)
	require.NoError(t, e.store.UpdateCompetitionStatus(ctx, "c1", types.CompetitionStatusCancelled))

	tick := pricefeed.NewTick("EURUSD", dec("1.0988"), dec("1.0990"), time.Now())
	e.board.Set(tick)
	e.svc.OnTick(ctx, tick)

	// The resting order is marked cancelled, not silently dropped.
	assert.Empty(t, e.svc.PendingLimitOrders("p1"))
	assert.Equal(t, types.LimitOrderStatusCancelled, res.LimitOrder.Status)
	open, err := e.ledger.OpenPositions("p1")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestCancelLimitOrder(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	req := marketOrder(types.SideShort, "0.1", "100")
	req.OrderType = types.OrderTypeLimit
	req.LimitPrice = ptr("1.1100")
	res, err := e.svc.PlaceOrder(ctx, req)
	require.NoError(t, err)

	require.NoError(t, e.svc.CancelLimitOrder("p1", res.LimitOrder.ID))
	assert.Empty(t, e.svc.PendingLimitOrders("p1"))

	err = e.svc.CancelLimitOrder("p1", res.LimitOrder.ID)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTakeProfitTriggersAtBid(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	req := marketOrder(types.SideLong, "0.1", "100")
	req.TakeProfit = ptr("1.1100")
	_, err := e.svc.PlaceOrder(ctx, req)
	require.NoError(t, err)

	// bid through the take profit
	tick := pricefeed.NewTick("EURUSD", dec("1.1105"), dec("1.1107"), time.Now())
	e.board.Set(tick)
	e.svc.OnTick(ctx, tick)

	open, _ := e.ledger.OpenPositions("p1")
	assert.Empty(t, open)
	p, _ := e.ledger.Participant("p1")
	// (1.1105 - 1.1002) * 10000 = 103
	assert.True(t, p.RealizedPnL.Equal(dec("103")), "pnl = %s", p.RealizedPnL)
}

func TestStopLossTriggersForShortAtAsk(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	req := marketOrder(types.SideShort, "0.1", "100")
	req.StopLoss = ptr("1.1050")
	_, err := e.svc.PlaceOrder(ctx, req)
	require.NoError(t, err)

	tick := pricefeed.NewTick("EURUSD", dec("1.1050"), dec("1.1052"), time.Now())
	e.board.Set(tick)
	e.svc.OnTick(ctx, tick)

	open, _ := e.ledger.OpenPositions("p1")
	assert.Empty(t, open)
	p, _ := e.ledger.Participant("p1")
	// short entered at bid 1.1000, stopped at ask 1.1052: loss of 52
	assert.True(t, p.RealizedPnL.Equal(dec("-52")), "pnl = %s", p.RealizedPnL)
}

func TestStopLossBeatsTakeProfitOnSameTick(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	req := marketOrder(types.SideLong, "0.1", "100")
	req.TakeProfit = ptr("1.1020")
	req.StopLoss = ptr("1.1040")
	_, err := e.svc.PlaceOrder(ctx, req)
	require.NoError(t, err)

	// bid 1.1030 satisfies both levels at once
	tick := pricefeed.NewTick("EURUSD", dec("1.1030"), dec("1.1032"), time.Now())
	pos, _ := e.ledger.OpenPositions("p1")
	require.Len(t, pos, 1)
	cause, exit, hit := protectiveTrigger(&pos[0], tick)
	require.True(t, hit)
	assert.Equal(t, "stop_loss", cause)
	assert.True(t, exit.Equal(dec("1.1030")))
}

func TestManualClose(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	res, err := e.svc.PlaceOrder(ctx, marketOrder(types.SideLong, "0.1", "100"))
	require.NoError(t, err)

	tick := pricefeed.NewTick("EURUSD", dec("1.1050"), dec("1.1052"), time.Now())
	e.board.Set(tick)

	trade, err := e.svc.ClosePosition(ctx, "p1", res.Position.ID)
	require.NoError(t, err)
	// long closes at bid: (1.1050 - 1.1002) * 10000 = 48
	assert.True(t, trade.PnL.Equal(dec("48")), "pnl = %s", trade.PnL)

	_, err = e.svc.ClosePosition(ctx, "p1", res.Position.ID)
	assert.ErrorIs(t, err, ledger.ErrPositionAlreadyClosed)
}

func TestLimitFillRevalidatesRisk(t *testing.T) {
	e := newEnv(t, func(c *model.Competition) { c.MaxOpenPositions = 1 })
	ctx := context.Background()

	req := marketOrder(types.SideLong, "0.1", "100")
	req.OrderType = types.OrderTypeLimit
	req.LimitPrice = ptr("1.0990")
	_, err := e.svc.PlaceOrder(ctx, req)
	require.NoError(t, err)

	// meanwhile the only slot fills
	_, err = e.svc.PlaceOrder(ctx, marketOrder(types.SideShort, "0.1", "100"))
	require.NoError(t, err)

	tick := pricefeed.NewTick("EURUSD", dec("1.0988"), dec("1.0990"), time.Now())
	e.board.Set(tick)
	e.svc.OnTick(ctx, tick)

	// limit was dropped, not filled
	assert.Empty(t, e.svc.PendingLimitOrders("p1"))
	open, _ := e.ledger.OpenPositions("p1")
	assert.Len(t, open, 1)
	assert.Equal(t, types.SideShort, open[0].Side)
}
