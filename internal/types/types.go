package types

type Side string

type OrderType string

type PositionStatus string

type ParticipantStatus string

type CompetitionStatus string

type RankingMethod string

type TieBreaker string

type TiePrizePolicy string

type MarginState string

type LimitOrderStatus string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

const (
	PositionStatusOpen       PositionStatus = "open"
	PositionStatusClosed     PositionStatus = "closed"
	PositionStatusLiquidated PositionStatus = "liquidated"
)

const (
	ParticipantStatusActive       ParticipantStatus = "active"
	ParticipantStatusLiquidated   ParticipantStatus = "liquidated"
	ParticipantStatusDisqualified ParticipantStatus = "disqualified"
	ParticipantStatusCompleted    ParticipantStatus = "completed"
	ParticipantStatusCancelled    ParticipantStatus = "cancelled"
)

const (
	CompetitionStatusUpcoming  CompetitionStatus = "upcoming"
	CompetitionStatusActive    CompetitionStatus = "active"
	CompetitionStatusCompleted CompetitionStatus = "completed"
	CompetitionStatusCancelled CompetitionStatus = "cancelled"
)

const (
	RankByPnL           RankingMethod = "pnl"
	RankByROI           RankingMethod = "roi"
	RankByCapital       RankingMethod = "capital"
	RankByWinRate       RankingMethod = "win_rate"
	RankByWinningTrades RankingMethod = "winning_trades"
	RankByProfitFactor  RankingMethod = "profit_factor"
)

const (
	TieBreakFewerTrades   TieBreaker = "fewer_trades"
	TieBreakHigherWinRate TieBreaker = "higher_win_rate"
	TieBreakHigherCapital TieBreaker = "higher_capital"
	TieBreakEarlierEntry  TieBreaker = "earlier_entry"
)

const (
	TiePrizeSplitEqually TiePrizePolicy = "split_equally"
)

const (
	MarginStateSafe        MarginState = "safe"
	MarginStateWarning     MarginState = "warning"
	MarginStateMarginCall  MarginState = "margin_call"
	MarginStateLiquidation MarginState = "liquidation"
)

const (
	LimitOrderStatusPending   LimitOrderStatus = "pending"
	LimitOrderStatusFilled    LimitOrderStatus = "filled"
	LimitOrderStatusCancelled LimitOrderStatus = "cancelled"
)

// RankingMethods lists every supported ranking method. The set is closed;
// metric dispatch switches over it exhaustively.
var RankingMethods = []RankingMethod{
	RankByPnL, RankByROI, RankByCapital,
	RankByWinRate, RankByWinningTrades, RankByProfitFactor,
}

func (m RankingMethod) Valid() bool {
	for _, v := range RankingMethods {
		if m == v {
			return true
		}
	}
	return false
}

func (t TieBreaker) Valid() bool {
	switch t {
	case TieBreakFewerTrades, TieBreakHigherWinRate, TieBreakHigherCapital, TieBreakEarlierEntry:
		return true
	}
	return false
}
