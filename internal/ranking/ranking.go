// Package ranking computes competition standings: the primary metric for
// each participant, the qualification filter, and tie resolution. All of
// it is pure; calling it repeatedly has no side effects, which is what
// makes live previews safe.
package ranking

import (
	"sort"
	"time"

	"fx-arena/internal/model"
	"fx-arena/internal/types"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)

	// epsilon is the relative tolerance for metric equality; it keeps
	// floating-point noise from breaking genuine ties.
	epsilon = decimal.RequireFromString("0.000001")

	// profitFactorCap is the displayed value for an infinite profit factor.
	profitFactorCap = decimal.RequireFromString("9999.99")
)

// Metric is a participant's primary ranking value. Infinite marks a
// profit factor with gross wins and zero gross losses.
type Metric struct {
	Value    decimal.Decimal
	Infinite bool
}

// Display returns the value with infinity capped for presentation.
func (m Metric) Display() decimal.Decimal {
	if m.Infinite {
		return profitFactorCap
	}
	return m.Value
}

// Snapshot is the ranking input for one participant: the account record,
// its floating P&L at ranking time, and its immutable trade history.
type Snapshot struct {
	Participant   model.Participant
	UnrealizedPnL decimal.Decimal
	Trades        []*model.TradeRecord
}

func (s Snapshot) totalPnL() decimal.Decimal {
	return s.Participant.RealizedPnL.Add(s.UnrealizedPnL)
}

func (s Snapshot) winRate() decimal.Decimal {
	if s.Participant.ClosedTrades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.Participant.WinningTrades)).
		Div(decimal.NewFromInt(int64(s.Participant.ClosedTrades))).
		Mul(hundred)
}

func (s Snapshot) capital() decimal.Decimal {
	return s.Participant.StartingCapital.Add(s.totalPnL())
}

// Compute evaluates the primary metric for one snapshot under the given
// method. The switch is exhaustive over the closed method set.
func Compute(method types.RankingMethod, s Snapshot) Metric {
	switch method {
	case types.RankByPnL:
		return Metric{Value: s.totalPnL()}
	case types.RankByROI:
		if s.Participant.StartingCapital.LessThanOrEqual(decimal.Zero) {
			return Metric{Value: decimal.Zero}
		}
		return Metric{Value: s.totalPnL().Div(s.Participant.StartingCapital).Mul(hundred)}
	case types.RankByCapital:
		return Metric{Value: s.capital()}
	case types.RankByWinRate:
		return Metric{Value: s.winRate()}
	case types.RankByWinningTrades:
		return Metric{Value: decimal.NewFromInt(int64(s.Participant.WinningTrades))}
	case types.RankByProfitFactor:
		return profitFactor(s.Trades)
	default:
		return Metric{Value: decimal.Zero}
	}
}

func profitFactor(trades []*model.TradeRecord) Metric {
	wins := decimal.Zero
	losses := decimal.Zero
	for _, t := range trades {
		if t.PnL.GreaterThan(decimal.Zero) {
			wins = wins.Add(t.PnL)
		} else {
			losses = losses.Add(t.PnL.Abs())
		}
	}
	if losses.IsZero() {
		if wins.GreaterThan(decimal.Zero) {
			return Metric{Infinite: true}
		}
		// no closed trades either way; the minimum-trades filter is
		// expected to have excluded this participant already
		return Metric{Value: decimal.Zero}
	}
	return Metric{Value: wins.Div(losses)}
}

// metricEqual compares metrics with a relative epsilon.
func metricEqual(a, b Metric) bool {
	if a.Infinite || b.Infinite {
		return a.Infinite == b.Infinite
	}
	diff := a.Value.Sub(b.Value).Abs()
	scale := decimal.Max(decimal.NewFromInt(1), a.Value.Abs(), b.Value.Abs())
	return diff.LessThanOrEqual(scale.Mul(epsilon))
}

// metricLess orders descending-first: greater metrics sort earlier.
func metricGreater(a, b Metric) bool {
	if a.Infinite != b.Infinite {
		return a.Infinite
	}
	if a.Infinite {
		return false
	}
	return a.Value.GreaterThan(b.Value)
}

// Standing is one row of the final table. Tied participants share a Rank.
type Standing struct {
	ParticipantID string          `json:"participant_id"`
	UserID        string          `json:"user_id"`
	Rank          int             `json:"rank"`
	Metric        decimal.Decimal `json:"metric"`
	Qualified     bool            `json:"qualified"`
	Reason        string          `json:"reason,omitempty"`
	JoinedAt      time.Time       `json:"-"`
}

// Qualified applies the prize-eligibility filter. Unqualified
// participants stay in the table but sort below every qualified one and
// never share a prize band.
func Qualified(c *model.Competition, s Snapshot) (bool, string) {
	if c.MinimumTrades > 0 && s.Participant.ClosedTrades < c.MinimumTrades {
		return false, "below minimum trades"
	}
	if c.MinimumWinRate != nil && s.winRate().LessThan(*c.MinimumWinRate) {
		return false, "below minimum win rate"
	}
	if c.DisqualifyOnLiquidation && s.Participant.Status == types.ParticipantStatusLiquidated {
		return false, "liquidated"
	}
	return true, ""
}

type ranked struct {
	snap      Snapshot
	metric    Metric
	qualified bool
	reason    string
}

// Rank produces the full standings table for a competition. Qualified
// participants are ordered descending by the primary metric with ties
// resolved by the configured tie-breakers; residual ties share a rank.
// Unqualified participants follow, ranked but never prize-eligible.
func Rank(c *model.Competition, snapshots []Snapshot) []Standing {
	rs := make([]ranked, 0, len(snapshots))
	for _, s := range snapshots {
		ok, reason := Qualified(c, s)
		rs = append(rs, ranked{
			snap:      s,
			metric:    Compute(c.RankingMethod, s),
			qualified: ok,
			reason:    reason,
		})
	}

	var qualified, unqualified []ranked
	for _, r := range rs {
		if r.qualified {
			qualified = append(qualified, r)
		} else {
			unqualified = append(unqualified, r)
		}
	}

	out := make([]Standing, 0, len(rs))
	out = append(out, orderGroup(c, qualified, 1)...)
	out = append(out, orderGroup(c, unqualified, len(qualified)+1)...)
	return out
}

// orderGroup sorts one partition and assigns shared ranks. firstRank is
// the rank of the partition's best participant; a tie band of size N
// occupies N rank slots.
func orderGroup(c *model.Competition, group []ranked, firstRank int) []Standing {
	sort.SliceStable(group, func(i, j int) bool {
		return metricGreater(group[i].metric, group[j].metric)
	})

	var out []Standing
	rank := firstRank
	for i := 0; i < len(group); {
		j := i + 1
		for j < len(group) && metricEqual(group[i].metric, group[j].metric) {
			j++
		}
		band := group[i:j]
		for _, sub := range ResolveTies(c, band) {
			for _, r := range sub {
				out = append(out, Standing{
					ParticipantID: r.snap.Participant.ID,
					UserID:        r.snap.Participant.UserID,
					Rank:          rank,
					Metric:        r.metric.Display(),
					Qualified:     r.qualified,
					Reason:        r.reason,
					JoinedAt:      r.snap.Participant.JoinedAt,
				})
			}
			rank += len(sub)
		}
		i = j
	}
	return out
}
