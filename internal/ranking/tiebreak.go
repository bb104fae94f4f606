package ranking

import (
	"sort"

	"fx-arena/internal/model"
	"fx-arena/internal/types"
)

// A comparator orders two tied participants: negative means a ranks
// ahead of b, zero means the comparator cannot separate them. New
// tie-breakers register here without touching the resolver.
type comparator func(a, b ranked) int

var comparators = map[types.TieBreaker]comparator{
	types.TieBreakFewerTrades: func(a, b ranked) int {
		return a.snap.Participant.ClosedTrades - b.snap.Participant.ClosedTrades
	},
	types.TieBreakHigherWinRate: func(a, b ranked) int {
		return b.snap.winRate().Cmp(a.snap.winRate())
	},
	types.TieBreakHigherCapital: func(a, b ranked) int {
		return b.snap.capital().Cmp(a.snap.capital())
	},
	types.TieBreakEarlierEntry: func(a, b ranked) int {
		ta, tb := a.snap.Participant.JoinedAt, b.snap.Participant.JoinedAt
		switch {
		case ta.Before(tb):
			return -1
		case tb.Before(ta):
			return 1
		default:
			return 0
		}
	},
}

// ResolveTies orders one band of participants tied on the primary metric
// using the competition's tie-breakers and returns the resulting
// subgroups in final order. A subgroup longer than one is a genuine
// residual tie: its members share a rank, no arbitrary order breaks it.
func ResolveTies(c *model.Competition, band []ranked) [][]ranked {
	if len(band) <= 1 {
		return [][]ranked{band}
	}

	var chain []comparator
	if cmp, ok := comparators[c.TieBreaker1]; ok {
		chain = append(chain, cmp)
	}
	if c.TieBreaker2 != nil {
		if cmp, ok := comparators[*c.TieBreaker2]; ok {
			chain = append(chain, cmp)
		}
	}

	compare := func(a, b ranked) int {
		for _, cmp := range chain {
			if v := cmp(a, b); v != 0 {
				return v
			}
		}
		return 0
	}

	sorted := make([]ranked, len(band))
	copy(sorted, band)
	sort.SliceStable(sorted, func(i, j int) bool {
		return compare(sorted[i], sorted[j]) < 0
	})

	var out [][]ranked
	for i := 0; i < len(sorted); {
		j := i + 1
		for j < len(sorted) && compare(sorted[i], sorted[j]) == 0 {
			j++
		}
		out = append(out, sorted[i:j])
		i = j
	}
	return out
}
