package model

import (
	"time"

	"fx-arena/internal/types"

	"github.com/shopspring/decimal"
)

type Position struct {
	ID            string               `json:"id"`
	ParticipantID string               `json:"participant_id"`
	Symbol        string               `json:"symbol"`
	Side          types.Side           `json:"side"`
	Quantity      decimal.Decimal      `json:"quantity"`
	EntryPrice    decimal.Decimal      `json:"entry_price"`
	Leverage      decimal.Decimal      `json:"leverage"`
	TakeProfit    *decimal.Decimal     `json:"take_profit,omitempty"`
	StopLoss      *decimal.Decimal     `json:"stop_loss,omitempty"`
	Margin        decimal.Decimal      `json:"margin"`
	OpenedAt      time.Time            `json:"opened_at"`
	Status        types.PositionStatus `json:"status"`
	ClosedAt      *time.Time           `json:"closed_at,omitempty"`
	ExitPrice     *decimal.Decimal     `json:"exit_price,omitempty"`
	RealizedPnL   *decimal.Decimal     `json:"realized_pnl,omitempty"`
}

type Participant struct {
	ID               string                  `json:"id"`
	UserID           string                  `json:"user_id"`
	CompetitionID    string                  `json:"competition_id"`
	StartingCapital  decimal.Decimal         `json:"starting_capital"`
	AvailableBalance decimal.Decimal         `json:"available_balance"`
	UsedMargin       decimal.Decimal         `json:"used_margin"`
	RealizedPnL      decimal.Decimal         `json:"realized_pnl"`
	ClosedTrades     int                     `json:"closed_trades"`
	WinningTrades    int                     `json:"winning_trades"`
	Status           types.ParticipantStatus `json:"status"`
	FinalRank        int                     `json:"final_rank"` // 0 until settlement
	JoinedAt         time.Time               `json:"joined_at"`
}

// PrizeTier maps one final rank to a share of the prize pool.
// Percentage is expressed in basis points so tier sums stay exact.
type PrizeTier struct {
	Rank       int   `json:"rank"`
	PercentBps int64 `json:"percent_bps"`
}

type Competition struct {
	ID                      string                  `json:"id"`
	Name                    string                  `json:"name"`
	Status                  types.CompetitionStatus `json:"status"`
	RankingMethod           types.RankingMethod     `json:"ranking_method"`
	TieBreaker1             types.TieBreaker        `json:"tie_breaker_1"`
	TieBreaker2             *types.TieBreaker       `json:"tie_breaker_2,omitempty"`
	MinimumTrades           int                     `json:"minimum_trades"`
	MinimumWinRate          *decimal.Decimal        `json:"minimum_win_rate,omitempty"`
	DisqualifyOnLiquidation bool                    `json:"disqualify_on_liquidation"`
	TiePrizePolicy          types.TiePrizePolicy    `json:"tie_prize_policy"`
	PrizeDistribution       []PrizeTier             `json:"prize_distribution"`
	PrizePoolCents          int64                   `json:"prize_pool_cents"`
	PlatformFeeBps          int64                   `json:"platform_fee_bps"`
	StartingCapital         decimal.Decimal         `json:"starting_capital"`
	MarginCallThreshold     decimal.Decimal         `json:"margin_call_threshold"`
	MaxOpenPositions        int                     `json:"max_open_positions"`
	MaxPositionSize         decimal.Decimal         `json:"max_position_size"`
	StartsAt                time.Time               `json:"starts_at"`
	EndsAt                  time.Time               `json:"ends_at"`
	SettledAt               *time.Time              `json:"settled_at,omitempty"`
	SettlementVersion       int                     `json:"settlement_version"`
}

// TradeRecord is one row of the append-only trade history. It is written
// exactly once when a position closes and never mutated afterwards.
type TradeRecord struct {
	ID            string          `json:"id"`
	ParticipantID string          `json:"participant_id"`
	PositionID    string          `json:"position_id"`
	Symbol        string          `json:"symbol"`
	Side          types.Side      `json:"side"`
	PnL           decimal.Decimal `json:"pnl"`
	IsWin         bool            `json:"is_win"`
	ClosedAt      time.Time       `json:"closed_at"`
}

type Payout struct {
	ID            string `json:"id"`
	CompetitionID string `json:"competition_id"`
	ParticipantID string `json:"participant_id"`
	Rank          int    `json:"rank"`
	AmountCents   int64  `json:"amount_cents"`
}

type LimitOrder struct {
	ID            string                 `json:"id"`
	ParticipantID string                 `json:"participant_id"`
	CompetitionID string                 `json:"competition_id"`
	Symbol        string                 `json:"symbol"`
	Side          types.Side             `json:"side"`
	Quantity      decimal.Decimal        `json:"quantity"`
	Leverage      decimal.Decimal        `json:"leverage"`
	LimitPrice    decimal.Decimal        `json:"limit_price"`
	TakeProfit    *decimal.Decimal       `json:"take_profit,omitempty"`
	StopLoss      *decimal.Decimal       `json:"stop_loss,omitempty"`
	Status        types.LimitOrderStatus `json:"status"`
	CreatedAt     time.Time              `json:"created_at"`
}
