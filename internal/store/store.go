// Package store persists competitions, participants, positions, trade
// history, and payouts. MemoryStore backs tests and simulator mode,
// PostgresStore backs production.
package store

import (
	"context"
	"errors"

	"fx-arena/internal/model"
	"fx-arena/internal/types"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type Store interface {
	CreateCompetition(ctx context.Context, c *model.Competition) error
	GetCompetition(ctx context.Context, id string) (*model.Competition, error)
	ListCompetitions(ctx context.Context, status types.CompetitionStatus) ([]*model.Competition, error)
	UpdateCompetitionStatus(ctx context.Context, id string, status types.CompetitionStatus) error

	CreateParticipant(ctx context.Context, p *model.Participant) error
	GetParticipant(ctx context.Context, id string) (*model.Participant, error)
	ListParticipants(ctx context.Context, competitionID string) ([]*model.Participant, error)
	UpdateParticipant(ctx context.Context, p *model.Participant) error

	CreatePosition(ctx context.Context, p *model.Position) error
	UpdatePosition(ctx context.Context, p *model.Position) error
	ListOpenPositions(ctx context.Context, participantID string) ([]*model.Position, error)

	AppendTrade(ctx context.Context, t *model.TradeRecord) error
	ListTrades(ctx context.Context, participantID string) ([]*model.TradeRecord, error)

	// FinalizeSettlement atomically records final ranks and payout rows and
	// marks the competition completed. It fails with ErrConflict when the
	// competition is already completed, which is the settlement idempotency
	// guard.
	FinalizeSettlement(ctx context.Context, competitionID string, ranks map[string]int, statuses map[string]types.ParticipantStatus, payouts []*model.Payout) error
	ListPayouts(ctx context.Context, competitionID string) ([]*model.Payout, error)
}
