package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"fx-arena/internal/model"
	"fx-arena/internal/types"
)

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu           sync.RWMutex
	competitions map[string]*model.Competition
	participants map[string]*model.Participant
	positions    map[string]*model.Position
	trades       map[string][]*model.TradeRecord // by participant
	payouts      map[string][]*model.Payout      // by competition
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		competitions: make(map[string]*model.Competition),
		participants: make(map[string]*model.Participant),
		positions:    make(map[string]*model.Position),
		trades:       make(map[string][]*model.TradeRecord),
		payouts:      make(map[string][]*model.Payout),
	}
}

func (s *MemoryStore) CreateCompetition(_ context.Context, c *model.Competition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.competitions[c.ID]; ok {
		return ErrConflict
	}
	cp := *c
	s.competitions[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetCompetition(_ context.Context, id string) (*model.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.competitions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListCompetitions(_ context.Context, status types.CompetitionStatus) ([]*model.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Competition, 0, len(s.competitions))
	for _, c := range s.competitions {
		if status != "" && c.Status != status {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s *MemoryStore) UpdateCompetitionStatus(_ context.Context, id string, status types.CompetitionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.competitions[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	return nil
}

func (s *MemoryStore) CreateParticipant(_ context.Context, p *model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[p.ID]; ok {
		return ErrConflict
	}
	cp := *p
	s.participants[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetParticipant(_ context.Context, id string) (*model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListParticipants(_ context.Context, competitionID string) ([]*model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Participant
	for _, p := range s.participants {
		if p.CompetitionID == competitionID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateParticipant(_ context.Context, p *model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	s.participants[p.ID] = &cp
	return nil
}

func (s *MemoryStore) CreatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; ok {
		return ErrConflict
	}
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryStore) ListOpenPositions(_ context.Context, participantID string) ([]*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Position
	for _, p := range s.positions {
		if p.ParticipantID == participantID && p.Status == types.PositionStatusOpen {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (s *MemoryStore) AppendTrade(_ context.Context, t *model.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.trades[t.ParticipantID] = append(s.trades[t.ParticipantID], &cp)
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, participantID string) ([]*model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.trades[participantID]
	out := make([]*model.TradeRecord, 0, len(src))
	for _, t := range src {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) FinalizeSettlement(_ context.Context, competitionID string, ranks map[string]int, statuses map[string]types.ParticipantStatus, payouts []*model.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.competitions[competitionID]
	if !ok {
		return ErrNotFound
	}
	if c.Status == types.CompetitionStatusCompleted {
		return ErrConflict
	}
	for id, rank := range ranks {
		if p, ok := s.participants[id]; ok {
			p.FinalRank = rank
		}
	}
	for id, st := range statuses {
		if p, ok := s.participants[id]; ok {
			p.Status = st
		}
	}
	cp := make([]*model.Payout, 0, len(payouts))
	for _, p := range payouts {
		v := *p
		cp = append(cp, &v)
	}
	s.payouts[competitionID] = cp
	now := time.Now().UTC()
	c.Status = types.CompetitionStatusCompleted
	c.SettledAt = &now
	c.SettlementVersion++
	return nil
}

func (s *MemoryStore) ListPayouts(_ context.Context, competitionID string) ([]*model.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.payouts[competitionID]
	out := make([]*model.Payout, 0, len(src))
	for _, p := range src {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}
