// Package prize turns final standings into payout records. Every amount
// is integer minor units (cents); percentages are basis points. The sum
// of payouts always equals the distributed share of the pool exactly.
package prize

import (
	"sort"

	"fx-arena/internal/model"
	"fx-arena/internal/ranking"

	"github.com/google/uuid"
)

const bpsDenominator = 10_000

// FeeCents returns the platform fee taken off the pool before
// distribution.
func FeeCents(poolCents, feeBps int64) int64 {
	return poolCents * feeBps / bpsDenominator
}

// Distribute maps standings onto the competition's prize tiers.
//
// A tie band of N participants at rank r occupies ranks r..r+N-1 and
// absorbs every tier inside that range; the absorbed sum is split
// equally, with the integer remainder assigned to the band's last payee.
// Tiers below the band are unaffected. Unqualified participants never
// receive a tier regardless of position.
func Distribute(c *model.Competition, standings []ranking.Standing) []*model.Payout {
	if c.PrizePoolCents <= 0 || len(c.PrizeDistribution) == 0 {
		return nil
	}
	net := c.PrizePoolCents - FeeCents(c.PrizePoolCents, c.PlatformFeeBps)
	if net <= 0 {
		return nil
	}

	tiers := make(map[int]int64, len(c.PrizeDistribution))
	for _, t := range c.PrizeDistribution {
		tiers[t.Rank] += t.PercentBps
	}

	bands := qualifiedBands(standings)

	// Cumulative targets keep integer division from leaking cents across
	// bands: each band receives the difference between successive exact
	// targets, so the grand total is net * Σbps / denominator to the
	// cent, with the terminal sub-cent rounded into the last payout.
	var out []*model.Payout
	var cumBps, paid int64
	for _, band := range bands {
		var bandBps int64
		for r := band[0].Rank; r < band[0].Rank+len(band); r++ {
			bandBps += tiers[r]
		}
		if bandBps == 0 {
			continue
		}
		cumBps += bandBps
		target := net * cumBps / bpsDenominator
		amount := target - paid
		paid = target

		share := amount / int64(len(band))
		remainder := amount - share*int64(len(band))
		for i, st := range band {
			v := share
			if i == len(band)-1 {
				v += remainder
			}
			out = append(out, &model.Payout{
				ID:            uuid.NewString(),
				CompetitionID: c.ID,
				ParticipantID: st.ParticipantID,
				Rank:          st.Rank,
				AmountCents:   v,
			})
		}
	}
	if len(out) > 0 && net*cumBps%bpsDenominator != 0 {
		out[len(out)-1].AmountCents++
	}
	return out
}

// qualifiedBands groups qualified standings by shared rank, in rank order.
func qualifiedBands(standings []ranking.Standing) [][]ranking.Standing {
	byRank := make(map[int][]ranking.Standing)
	for _, st := range standings {
		if !st.Qualified {
			continue
		}
		byRank[st.Rank] = append(byRank[st.Rank], st)
	}
	ranks := make([]int, 0, len(byRank))
	for r := range byRank {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)
	out := make([][]ranking.Standing, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, byRank[r])
	}
	return out
}
