package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"fx-arena/internal/model"
	"fx-arena/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (s *PostgresStore) CreateCompetition(ctx context.Context, c *model.Competition) error {
	tiers, err := json.Marshal(c.PrizeDistribution)
	if err != nil {
		return err
	}
	var tb2 *string
	if c.TieBreaker2 != nil {
		v := string(*c.TieBreaker2)
		tb2 = &v
	}
	_, err = s.pool.Exec(ctx, `
		insert into competitions (
			id, name, status, ranking_method, tie_breaker_1, tie_breaker_2,
			minimum_trades, minimum_win_rate, disqualify_on_liquidation,
			tie_prize_policy, prize_distribution, prize_pool_cents, platform_fee_bps,
			starting_capital, margin_call_threshold, max_open_positions, max_position_size,
			starts_at, ends_at, settlement_version
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,0)`,
		c.ID, c.Name, string(c.Status), string(c.RankingMethod), string(c.TieBreaker1), tb2,
		c.MinimumTrades, c.MinimumWinRate, c.DisqualifyOnLiquidation,
		string(c.TiePrizePolicy), tiers, c.PrizePoolCents, c.PlatformFeeBps,
		c.StartingCapital, c.MarginCallThreshold, c.MaxOpenPositions, c.MaxPositionSize,
		c.StartsAt, c.EndsAt,
	)
	return err
}

const competitionColumns = `id, name, status, ranking_method, tie_breaker_1, tie_breaker_2,
	minimum_trades, minimum_win_rate, disqualify_on_liquidation,
	tie_prize_policy, prize_distribution, prize_pool_cents, platform_fee_bps,
	starting_capital, margin_call_threshold, max_open_positions, max_position_size,
	starts_at, ends_at, settled_at, settlement_version`

func scanCompetition(row pgx.Row) (*model.Competition, error) {
	var c model.Competition
	var status, method, tb1 string
	var tb2 *string
	var tiers []byte
	err := row.Scan(
		&c.ID, &c.Name, &status, &method, &tb1, &tb2,
		&c.MinimumTrades, &c.MinimumWinRate, &c.DisqualifyOnLiquidation,
		&c.TiePrizePolicy, &tiers, &c.PrizePoolCents, &c.PlatformFeeBps,
		&c.StartingCapital, &c.MarginCallThreshold, &c.MaxOpenPositions, &c.MaxPositionSize,
		&c.StartsAt, &c.EndsAt, &c.SettledAt, &c.SettlementVersion,
	)
	if err != nil {
		return nil, err
	}
	c.Status = types.CompetitionStatus(status)
	c.RankingMethod = types.RankingMethod(method)
	c.TieBreaker1 = types.TieBreaker(tb1)
	if tb2 != nil {
		v := types.TieBreaker(*tb2)
		c.TieBreaker2 = &v
	}
	if len(tiers) > 0 {
		if err := json.Unmarshal(tiers, &c.PrizeDistribution); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (s *PostgresStore) GetCompetition(ctx context.Context, id string) (*model.Competition, error) {
	c, err := scanCompetition(s.pool.QueryRow(ctx, `select `+competitionColumns+` from competitions where id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *PostgresStore) ListCompetitions(ctx context.Context, status types.CompetitionStatus) ([]*model.Competition, error) {
	rows, err := s.pool.Query(ctx, `select `+competitionColumns+` from competitions where ($1 = '' or status = $1) order by starts_at`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Competition
	for rows.Next() {
		c, err := scanCompetition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateCompetitionStatus(ctx context.Context, id string, status types.CompetitionStatus) error {
	tag, err := s.pool.Exec(ctx, `update competitions set status = $2 where id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateParticipant(ctx context.Context, p *model.Participant) error {
	_, err := s.pool.Exec(ctx, `
		insert into participants (
			id, user_id, competition_id, starting_capital, available_balance,
			used_margin, realized_pnl, closed_trades, winning_trades, status, final_rank, joined_at
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		p.ID, p.UserID, p.CompetitionID, p.StartingCapital, p.AvailableBalance,
		p.UsedMargin, p.RealizedPnL, p.ClosedTrades, p.WinningTrades, string(p.Status), p.FinalRank, p.JoinedAt,
	)
	return err
}

const participantColumns = `id, user_id, competition_id, starting_capital, available_balance,
	used_margin, realized_pnl, closed_trades, winning_trades, status, final_rank, joined_at`

func scanParticipant(row pgx.Row) (*model.Participant, error) {
	var p model.Participant
	var status string
	err := row.Scan(
		&p.ID, &p.UserID, &p.CompetitionID, &p.StartingCapital, &p.AvailableBalance,
		&p.UsedMargin, &p.RealizedPnL, &p.ClosedTrades, &p.WinningTrades, &status, &p.FinalRank, &p.JoinedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = types.ParticipantStatus(status)
	return &p, nil
}

func (s *PostgresStore) GetParticipant(ctx context.Context, id string) (*model.Participant, error) {
	p, err := scanParticipant(s.pool.QueryRow(ctx, `select `+participantColumns+` from participants where id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) ListParticipants(ctx context.Context, competitionID string) ([]*model.Participant, error) {
	rows, err := s.pool.Query(ctx, `select `+participantColumns+` from participants where competition_id = $1 order by joined_at`, competitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateParticipant(ctx context.Context, p *model.Participant) error {
	tag, err := s.pool.Exec(ctx, `
		update participants set
			available_balance = $2, used_margin = $3, realized_pnl = $4,
			closed_trades = $5, winning_trades = $6, status = $7, final_rank = $8
		where id = $1`,
		p.ID, p.AvailableBalance, p.UsedMargin, p.RealizedPnL,
		p.ClosedTrades, p.WinningTrades, string(p.Status), p.FinalRank,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx, `
		insert into positions (
			id, participant_id, symbol, side, quantity, entry_price, leverage,
			take_profit, stop_loss, margin, opened_at, status, closed_at, exit_price, realized_pnl
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		p.ID, p.ParticipantID, p.Symbol, string(p.Side), p.Quantity, p.EntryPrice, p.Leverage,
		p.TakeProfit, p.StopLoss, p.Margin, p.OpenedAt, string(p.Status), p.ClosedAt, p.ExitPrice, p.RealizedPnL,
	)
	return err
}

func (s *PostgresStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	tag, err := s.pool.Exec(ctx, `
		update positions set
			take_profit = $2, stop_loss = $3, status = $4, closed_at = $5, exit_price = $6, realized_pnl = $7
		where id = $1`,
		p.ID, p.TakeProfit, p.StopLoss, string(p.Status), p.ClosedAt, p.ExitPrice, p.RealizedPnL,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListOpenPositions(ctx context.Context, participantID string) ([]*model.Position, error) {
	rows, err := s.pool.Query(ctx, `
		select id, participant_id, symbol, side, quantity, entry_price, leverage,
			take_profit, stop_loss, margin, opened_at, status, closed_at, exit_price, realized_pnl
		from positions
		where participant_id = $1 and status = 'open'
		order by opened_at`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Position
	for rows.Next() {
		var p model.Position
		var side, status string
		if err := rows.Scan(
			&p.ID, &p.ParticipantID, &p.Symbol, &side, &p.Quantity, &p.EntryPrice, &p.Leverage,
			&p.TakeProfit, &p.StopLoss, &p.Margin, &p.OpenedAt, &status, &p.ClosedAt, &p.ExitPrice, &p.RealizedPnL,
		); err != nil {
			return nil, err
		}
		p.Side = types.Side(side)
		p.Status = types.PositionStatus(status)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendTrade(ctx context.Context, t *model.TradeRecord) error {
	_, err := s.pool.Exec(ctx, `
		insert into trade_history (id, participant_id, position_id, symbol, side, pnl, is_win, closed_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.ParticipantID, t.PositionID, t.Symbol, string(t.Side), t.PnL, t.IsWin, t.ClosedAt,
	)
	return err
}

func (s *PostgresStore) ListTrades(ctx context.Context, participantID string) ([]*model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx, `
		select id, participant_id, position_id, symbol, side, pnl, is_win, closed_at
		from trade_history where participant_id = $1 order by closed_at`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.TradeRecord
	for rows.Next() {
		var t model.TradeRecord
		var side string
		if err := rows.Scan(&t.ID, &t.ParticipantID, &t.PositionID, &t.Symbol, &side, &t.PnL, &t.IsWin, &t.ClosedAt); err != nil {
			return nil, err
		}
		t.Side = types.Side(side)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FinalizeSettlement(ctx context.Context, competitionID string, ranks map[string]int, statuses map[string]types.ParticipantStatus, payouts []*model.Payout) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var status string
	if err := tx.QueryRow(ctx, `select status from competitions where id = $1 for update`, competitionID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if types.CompetitionStatus(status) == types.CompetitionStatusCompleted {
		return ErrConflict
	}

	for id, rank := range ranks {
		if _, err := tx.Exec(ctx, `update participants set final_rank = $2 where id = $1`, id, rank); err != nil {
			return err
		}
	}
	for id, st := range statuses {
		if _, err := tx.Exec(ctx, `update participants set status = $2 where id = $1`, id, string(st)); err != nil {
			return err
		}
	}
	for _, p := range payouts {
		if _, err := tx.Exec(ctx, `
			insert into payouts (id, competition_id, participant_id, rank, amount_cents)
			values ($1,$2,$3,$4,$5)`,
			p.ID, p.CompetitionID, p.ParticipantID, p.Rank, p.AmountCents,
		); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `
		update competitions set status = 'completed', settled_at = $2, settlement_version = settlement_version + 1
		where id = $1`, competitionID, time.Now().UTC(),
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListPayouts(ctx context.Context, competitionID string) ([]*model.Payout, error) {
	rows, err := s.pool.Query(ctx, `
		select id, competition_id, participant_id, rank, amount_cents
		from payouts where competition_id = $1 order by rank, participant_id`, competitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Payout
	for rows.Next() {
		var p model.Payout
		if err := rows.Scan(&p.ID, &p.CompetitionID, &p.ParticipantID, &p.Rank, &p.AmountCents); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
