package ranking

import (
	"testing"
	"time"

	"fx-arena/internal/model"
	"fx-arena/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func snap(id string, realized string, closed, wins int) Snapshot {
	return Snapshot{
		Participant: model.Participant{
			ID:              id,
			UserID:          "user-" + id,
			StartingCapital: dec("10000"),
			RealizedPnL:     dec(realized),
			ClosedTrades:    closed,
			WinningTrades:   wins,
			Status:          types.ParticipantStatusActive,
			JoinedAt:        time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		},
		UnrealizedPnL: decimal.Zero,
	}
}

func comp(method types.RankingMethod) *model.Competition {
	return &model.Competition{
		ID:            "c1",
		RankingMethod: method,
		TieBreaker1:   types.TieBreakFewerTrades,
	}
}

func byID(standings []Standing, id string) Standing {
	for _, s := range standings {
		if s.ParticipantID == id {
			return s
		}
	}
	return Standing{}
}

func TestRankByPnL(t *testing.T) {
	standings := Rank(comp(types.RankByPnL), []Snapshot{
		snap("a", "5000", 10, 7),
		snap("b", "4500", 10, 7),
	})
	require.Len(t, standings, 2)
	assert.Equal(t, "a", standings[0].ParticipantID)
	assert.Equal(t, 1, standings[0].Rank)
	assert.Equal(t, 2, standings[1].Rank)
}

func TestRankByPnLIncludesUnrealized(t *testing.T) {
	a := snap("a", "1000", 5, 3)
	b := snap("b", "1500", 5, 3)
	a.UnrealizedPnL = dec("800") // 1800 total beats 1500

	standings := Rank(comp(types.RankByPnL), []Snapshot{a, b})
	assert.Equal(t, "a", standings[0].ParticipantID)
}

func TestRankByWinRateIgnoresTradeCount(t *testing.T) {
	standings := Rank(comp(types.RankByWinRate), []Snapshot{
		snap("a", "0", 20, 15), // 75%
		snap("b", "0", 20, 14), // 70%
	})
	assert.Equal(t, "a", standings[0].ParticipantID)
	assert.Equal(t, 1, standings[0].Rank)
}

func TestRankByROI(t *testing.T) {
	a := snap("a", "2000", 5, 3) // 20%
	b := snap("b", "1000", 5, 3) // 10%
	b.Participant.StartingCapital = dec("4000")
	b.Participant.RealizedPnL = dec("1000") // 25%

	standings := Rank(comp(types.RankByROI), []Snapshot{a, b})
	assert.Equal(t, "b", standings[0].ParticipantID)
	assert.True(t, standings[0].Metric.Equal(dec("25")))
}

func TestProfitFactor(t *testing.T) {
	trades := []*model.TradeRecord{
		{PnL: dec("300")},
		{PnL: dec("-100")},
		{PnL: dec("-50")},
	}
	m := profitFactor(trades)
	assert.False(t, m.Infinite)
	assert.True(t, m.Value.Equal(dec("2")))

	// only winners: infinite, displayed capped
	m = profitFactor([]*model.TradeRecord{{PnL: dec("300")}})
	assert.True(t, m.Infinite)
	assert.True(t, m.Display().Equal(dec("9999.99")))

	// no trades at all: flat zero
	m = profitFactor(nil)
	assert.False(t, m.Infinite)
	assert.True(t, m.Value.IsZero())
}

func TestMetricEqualRelativeEpsilon(t *testing.T) {
	assert.True(t, metricEqual(Metric{Value: dec("1000000")}, Metric{Value: dec("1000000.5")}))
	assert.False(t, metricEqual(Metric{Value: dec("1")}, Metric{Value: dec("1.5")}))
	assert.True(t, metricEqual(Metric{Infinite: true}, Metric{Infinite: true}))
	assert.False(t, metricEqual(Metric{Infinite: true}, Metric{Value: dec("9999.99")}))
}

func TestTieBrokenByFewerTrades(t *testing.T) {
	a := snap("a", "1000", 20, 10)
	b := snap("b", "1000", 8, 4)

	standings := Rank(comp(types.RankByPnL), []Snapshot{a, b})
	assert.Equal(t, "b", standings[0].ParticipantID)
	assert.Equal(t, 1, standings[0].Rank)
	assert.Equal(t, 2, standings[1].Rank)
}

func TestTieBreakerChain(t *testing.T) {
	c := comp(types.RankByPnL)
	second := types.TieBreakHigherWinRate
	c.TieBreaker2 = &second

	// same pnl, same trade count; win rate separates them
	a := snap("a", "1000", 10, 4)
	b := snap("b", "1000", 10, 8)

	standings := Rank(c, []Snapshot{a, b})
	assert.Equal(t, "b", standings[0].ParticipantID)
}

func TestResidualTieSharesRankAndOccupiesSlots(t *testing.T) {
	// identical on metric and every tie-breaker
	a := snap("a", "1000", 10, 5)
	b := snap("b", "1000", 10, 5)
	c := snap("c", "500", 10, 5)

	standings := Rank(comp(types.RankByPnL), []Snapshot{a, b, c})
	require.Len(t, standings, 3)
	assert.Equal(t, 1, byID(standings, "a").Rank)
	assert.Equal(t, 1, byID(standings, "b").Rank)
	// the two-way tie at rank 1 occupies ranks 1 and 2
	assert.Equal(t, 3, byID(standings, "c").Rank)
}

func TestEarlierEntryTieBreak(t *testing.T) {
	c := comp(types.RankByPnL)
	c.TieBreaker1 = types.TieBreakEarlierEntry

	a := snap("a", "1000", 10, 5)
	b := snap("b", "1000", 10, 5)
	b.Participant.JoinedAt = a.Participant.JoinedAt.Add(-time.Hour)

	standings := Rank(c, []Snapshot{a, b})
	assert.Equal(t, "b", standings[0].ParticipantID)
}

func TestMinimumTradesExcludesFromPrizeRanks(t *testing.T) {
	c := comp(types.RankByPnL)
	c.MinimumTrades = 10

	a := snap("a", "9000", 8, 6)  // huge pnl, too few trades
	b := snap("b", "1000", 12, 6) // qualified

	standings := Rank(c, []Snapshot{a, b})
	require.Len(t, standings, 2)

	sa := byID(standings, "a")
	sb := byID(standings, "b")
	assert.True(t, sb.Qualified)
	assert.Equal(t, 1, sb.Rank)
	assert.False(t, sa.Qualified)
	assert.Equal(t, 2, sa.Rank)
	assert.Equal(t, "below minimum trades", sa.Reason)
}

func TestMinimumWinRateFilter(t *testing.T) {
	c := comp(types.RankByPnL)
	wr := dec("60")
	c.MinimumWinRate = &wr

	a := snap("a", "1000", 10, 5) // 50%
	ok, reason := Qualified(c, a)
	assert.False(t, ok)
	assert.Equal(t, "below minimum win rate", reason)

	b := snap("b", "1000", 10, 6) // 60%
	ok, _ = Qualified(c, b)
	assert.True(t, ok)
}

func TestDisqualifyOnLiquidation(t *testing.T) {
	c := comp(types.RankByPnL)
	c.DisqualifyOnLiquidation = true

	a := snap("a", "-9000", 10, 2)
	a.Participant.Status = types.ParticipantStatusLiquidated
	ok, reason := Qualified(c, a)
	assert.False(t, ok)
	assert.Equal(t, "liquidated", reason)

	c.DisqualifyOnLiquidation = false
	ok, _ = Qualified(c, a)
	assert.True(t, ok)
}

func TestRankByWinningTrades(t *testing.T) {
	standings := Rank(comp(types.RankByWinningTrades), []Snapshot{
		snap("a", "0", 30, 12),
		snap("b", "0", 15, 14),
	})
	assert.Equal(t, "b", standings[0].ParticipantID)
	assert.True(t, standings[0].Metric.Equal(dec("14")))
}
