// Package settlement runs the end-of-competition batch: rank, resolve
// ties, distribute the prize pool, persist the results. Settlement is
// idempotent and serialized per competition.
package settlement

import (
	"context"
	"errors"
	"sort"
	"sync"

	"fx-arena/internal/ledger"
	"fx-arena/internal/metrics"
	"fx-arena/internal/model"
	"fx-arena/internal/prize"
	"fx-arena/internal/ranking"
	"fx-arena/internal/store"
	"fx-arena/internal/types"
	"fx-arena/pkg/logger"

	"github.com/shopspring/decimal"
)

var ErrCompetitionNotActive = errors.New("competition is not active")

type Service struct {
	store       store.Store
	ledger      *ledger.Ledger
	quotes      ledger.QuoteSource
	leaderboard *store.Leaderboard
	log         *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(st store.Store, l *ledger.Ledger, quotes ledger.QuoteSource, lb *store.Leaderboard, log *logger.Logger) *Service {
	return &Service{
		store:       st,
		ledger:      l,
		quotes:      quotes,
		leaderboard: lb,
		log:         log,
		locks:       make(map[string]*sync.Mutex),
	}
}

// Result is the outcome of one settlement run.
type Result struct {
	CompetitionID  string             `json:"competition_id"`
	Standings      []ranking.Standing `json:"standings"`
	Payouts        []*model.Payout    `json:"payouts"`
	Failed         int                `json:"failed_participants"`
	AlreadySettled bool               `json:"already_settled"`
}

func (s *Service) lockFor(competitionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[competitionID]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[competitionID] = l
	return l
}

// Settle finalizes a competition. Re-running on a completed competition
// returns the stored result unchanged; two concurrent triggers serialize
// on the per-competition lock and the second sees the finalized guard.
func (s *Service) Settle(ctx context.Context, competitionID string) (*Result, error) {
	lock := s.lockFor(competitionID)
	lock.Lock()
	defer lock.Unlock()

	comp, err := s.store.GetCompetition(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	if comp.Status == types.CompetitionStatusCompleted {
		return s.storedResult(ctx, comp)
	}
	if comp.Status != types.CompetitionStatusActive {
		return nil, ErrCompetitionNotActive
	}

	snapshots, failed := s.collect(ctx, comp)
	standings := ranking.Rank(comp, snapshots)
	payouts := prize.Distribute(comp, standings)

	ranks := make(map[string]int, len(standings))
	for _, st := range standings {
		ranks[st.ParticipantID] = st.Rank
	}
	statuses := make(map[string]types.ParticipantStatus)
	for _, snap := range snapshots {
		if snap.Participant.Status == types.ParticipantStatusActive {
			statuses[snap.Participant.ID] = types.ParticipantStatusCompleted
		}
	}

	if err := s.store.FinalizeSettlement(ctx, competitionID, ranks, statuses, payouts); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// lost a race with another settlement trigger
			return s.storedResult(ctx, comp)
		}
		metrics.Settlements.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.Settlements.WithLabelValues("ok").Inc()

	s.publish(ctx, competitionID, standings)
	s.log.Infow("competition settled",
		"competition_id", competitionID,
		"participants", len(standings),
		"payouts", len(payouts),
		"failed_participants", failed,
	)
	return &Result{
		CompetitionID: competitionID,
		Standings:     standings,
		Payouts:       payouts,
		Failed:        failed,
	}, nil
}

// Preview computes current standings without touching stored state. It
// also refreshes the cached leaderboard snapshot.
func (s *Service) Preview(ctx context.Context, competitionID string) ([]ranking.Standing, error) {
	comp, err := s.store.GetCompetition(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	snapshots, _ := s.collect(ctx, comp)
	standings := ranking.Rank(comp, snapshots)
	s.publish(ctx, competitionID, standings)
	return standings, nil
}

// collect snapshots every participant with their trade history and
// floating P&L. A participant whose history cannot be read is flagged and
// left out rather than aborting the whole run.
func (s *Service) collect(ctx context.Context, comp *model.Competition) ([]ranking.Snapshot, int) {
	participants, err := s.store.ListParticipants(ctx, comp.ID)
	if err != nil {
		s.log.Errorw("list participants", "competition_id", comp.ID, "error", err)
		return nil, 0
	}

	failed := 0
	snapshots := make([]ranking.Snapshot, 0, len(participants))
	for _, p := range participants {
		trades, err := s.store.ListTrades(ctx, p.ID)
		if err != nil {
			failed++
			s.log.Errorw("trade history unreadable, participant excluded",
				"participant_id", p.ID, "error", err)
			continue
		}
		unrealized := decimal.Zero
		if mt, err := s.ledger.ComputeMetrics(p.ID, s.quotes); err == nil {
			unrealized = mt.FloatingPnL
		}
		// prefer the live account record when the participant is loaded
		if live, err := s.ledger.Participant(p.ID); err == nil {
			p = &live
		}
		snapshots = append(snapshots, ranking.Snapshot{
			Participant:   *p,
			UnrealizedPnL: unrealized,
			Trades:        trades,
		})
	}
	return snapshots, failed
}

func (s *Service) storedResult(ctx context.Context, comp *model.Competition) (*Result, error) {
	payouts, err := s.store.ListPayouts(ctx, comp.ID)
	if err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, comp.ID)
	if err != nil {
		return nil, err
	}
	standings := make([]ranking.Standing, 0, len(participants))
	for _, p := range participants {
		snap := ranking.Snapshot{Participant: *p}
		qualified, reason := ranking.Qualified(comp, snap)
		standings = append(standings, ranking.Standing{
			ParticipantID: p.ID,
			UserID:        p.UserID,
			Rank:          p.FinalRank,
			Metric:        ranking.Compute(comp.RankingMethod, snap).Display(),
			Qualified:     qualified,
			Reason:        reason,
		})
	}
	sort.Slice(standings, func(i, j int) bool { return standings[i].Rank < standings[j].Rank })
	return &Result{
		CompetitionID:  comp.ID,
		Standings:      standings,
		Payouts:        payouts,
		AlreadySettled: true,
	}, nil
}

func (s *Service) publish(ctx context.Context, competitionID string, standings []ranking.Standing) {
	if s.leaderboard == nil {
		return
	}
	entries := make([]store.LeaderboardEntry, 0, len(standings))
	for _, st := range standings {
		entries = append(entries, store.LeaderboardEntry{
			ParticipantID: st.ParticipantID,
			UserID:        st.UserID,
			Rank:          st.Rank,
			Metric:        st.Metric.String(),
			Qualified:     st.Qualified,
		})
	}
	if err := s.leaderboard.Publish(ctx, competitionID, entries); err != nil {
		s.log.Warnw("leaderboard publish failed", "competition_id", competitionID, "error", err)
	}
}
