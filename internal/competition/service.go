// Package competition manages competition records and participant entry.
package competition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fx-arena/internal/ledger"
	"fx-arena/internal/margin"
	"fx-arena/internal/model"
	"fx-arena/internal/risk"
	"fx-arena/internal/store"
	"fx-arena/internal/types"
	"fx-arena/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidConfig      = errors.New("invalid competition config")
	ErrNotJoinable        = errors.New("competition cannot be joined")
	ErrInvalidStatus      = errors.New("invalid status transition")
	ErrAlreadyEntered     = errors.New("user already entered")
	ErrUnknownCompetition = errors.New("competition not found")
)

type Service struct {
	store    store.Store
	ledger   *ledger.Ledger
	monitor  *risk.Monitor
	defaults margin.Thresholds
	log      *logger.Logger
}

func NewService(st store.Store, l *ledger.Ledger, monitor *risk.Monitor, defaults margin.Thresholds, log *logger.Logger) *Service {
	if defaults.Validate() != nil {
		defaults = margin.DefaultThresholds()
	}
	return &Service{store: st, ledger: l, monitor: monitor, defaults: defaults, log: log}
}

// thresholds applies the competition's stopout override to the platform
// default bands.
func (s *Service) thresholds(c *model.Competition) margin.Thresholds {
	return s.defaults.WithStopout(c.MarginCallThreshold)
}

// Create validates and stores a new competition in the upcoming state.
func (s *Service) Create(ctx context.Context, c model.Competition) (*model.Competition, error) {
	if err := validate(&c, s.defaults); err != nil {
		return nil, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Status = types.CompetitionStatusUpcoming
	c.SettlementVersion = 0
	if err := s.store.CreateCompetition(ctx, &c); err != nil {
		return nil, err
	}
	s.log.Infow("competition created", "competition_id", c.ID, "name", c.Name, "ranking_method", c.RankingMethod)
	return &c, nil
}

func validate(c *model.Competition, defaults margin.Thresholds) error {
	if !c.RankingMethod.Valid() {
		return fmt.Errorf("%w: unknown ranking method %q", ErrInvalidConfig, c.RankingMethod)
	}
	if !c.TieBreaker1.Valid() {
		return fmt.Errorf("%w: unknown tie breaker %q", ErrInvalidConfig, c.TieBreaker1)
	}
	if c.TieBreaker2 != nil && !c.TieBreaker2.Valid() {
		return fmt.Errorf("%w: unknown tie breaker %q", ErrInvalidConfig, *c.TieBreaker2)
	}
	if c.TiePrizePolicy == "" {
		c.TiePrizePolicy = types.TiePrizeSplitEqually
	}
	if c.TiePrizePolicy != types.TiePrizeSplitEqually {
		return fmt.Errorf("%w: unsupported tie prize policy %q", ErrInvalidConfig, c.TiePrizePolicy)
	}
	if c.StartingCapital.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: starting capital must be positive", ErrInvalidConfig)
	}
	if c.MinimumTrades < 0 {
		return fmt.Errorf("%w: minimum trades must not be negative", ErrInvalidConfig)
	}
	if c.MinimumWinRate != nil && (c.MinimumWinRate.IsNegative() || c.MinimumWinRate.GreaterThan(decimal.NewFromInt(100))) {
		return fmt.Errorf("%w: minimum win rate out of range", ErrInvalidConfig)
	}
	if c.PlatformFeeBps < 0 || c.PlatformFeeBps >= 10_000 {
		return fmt.Errorf("%w: platform fee out of range", ErrInvalidConfig)
	}
	var totalBps int64
	for _, t := range c.PrizeDistribution {
		if t.Rank < 1 || t.PercentBps <= 0 {
			return fmt.Errorf("%w: bad prize tier rank=%d", ErrInvalidConfig, t.Rank)
		}
		totalBps += t.PercentBps
	}
	if totalBps > 10_000 {
		return fmt.Errorf("%w: prize percentages exceed 100%%", ErrInvalidConfig)
	}
	th := defaults.WithStopout(c.MarginCallThreshold)
	if err := th.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.Competition, error) {
	c, err := s.store.GetCompetition(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownCompetition
	}
	return c, err
}

func (s *Service) List(ctx context.Context, status types.CompetitionStatus) ([]*model.Competition, error) {
	return s.store.ListCompetitions(ctx, status)
}

// Activate moves a competition from upcoming to active. Status moves
// only forward; anything else is rejected.
func (s *Service) Activate(ctx context.Context, id string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != types.CompetitionStatusUpcoming {
		return ErrInvalidStatus
	}
	if err := s.store.UpdateCompetitionStatus(ctx, id, types.CompetitionStatusActive); err != nil {
		return err
	}
	s.log.Infow("competition activated", "competition_id", id)
	return nil
}

// Cancel aborts a competition that never completed.
func (s *Service) Cancel(ctx context.Context, id string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == types.CompetitionStatusCompleted || c.Status == types.CompetitionStatusCancelled {
		return ErrInvalidStatus
	}
	return s.store.UpdateCompetitionStatus(ctx, id, types.CompetitionStatusCancelled)
}

// Enter creates a participant funded with the competition's starting
// capital, registers the account with the ledger, and puts it under the
// liquidation monitor with the competition's threshold bands.
func (s *Service) Enter(ctx context.Context, competitionID, userID string) (*model.Participant, error) {
	c, err := s.Get(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	if c.Status != types.CompetitionStatusUpcoming && c.Status != types.CompetitionStatusActive {
		return nil, ErrNotJoinable
	}
	existing, err := s.store.ListParticipants(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	for _, p := range existing {
		if p.UserID == userID {
			return nil, ErrAlreadyEntered
		}
	}

	p := &model.Participant{
		ID:               uuid.NewString(),
		UserID:           userID,
		CompetitionID:    competitionID,
		StartingCapital:  c.StartingCapital,
		AvailableBalance: c.StartingCapital,
		UsedMargin:       decimal.Zero,
		RealizedPnL:      decimal.Zero,
		Status:           types.ParticipantStatusActive,
		JoinedAt:         time.Now().UTC(),
	}
	if err := s.store.CreateParticipant(ctx, p); err != nil {
		return nil, err
	}
	s.ledger.Register(*p, nil)
	if s.monitor != nil {
		s.monitor.Track(p.ID, s.thresholds(c))
	}
	s.log.Infow("participant entered", "participant_id", p.ID, "competition_id", competitionID, "user_id", userID)
	return p, nil
}

// Restore reloads persisted participants into the ledger and monitor,
// used at process start.
func (s *Service) Restore(ctx context.Context, competitionID string) error {
	c, err := s.Get(ctx, competitionID)
	if err != nil {
		return err
	}
	participants, err := s.store.ListParticipants(ctx, competitionID)
	if err != nil {
		return err
	}
	th := s.thresholds(c)
	for _, p := range participants {
		open, err := s.store.ListOpenPositions(ctx, p.ID)
		if err != nil {
			return err
		}
		s.ledger.Register(*p, open)
		if s.monitor != nil {
			s.monitor.Track(p.ID, th)
		}
	}
	return nil
}
