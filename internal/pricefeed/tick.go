package pricefeed

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one bid/ask quote for a symbol. All valuation in the engine
// takes ticks as explicit arguments; nothing reads ambient price state.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Mid       decimal.Decimal `json:"mid"`
	Timestamp time.Time       `json:"timestamp"`
}

func (t Tick) Valid() bool {
	return t.Symbol != "" && t.Bid.GreaterThan(decimal.Zero) && t.Ask.GreaterThanOrEqual(t.Bid)
}

var (
	two = decimal.NewFromInt(2)

	pipStandard = decimal.RequireFromString("0.0001")
	pipJPY      = decimal.RequireFromString("0.01")
)

// NewTick fills Mid from bid/ask when the upstream did not provide one.
func NewTick(symbol string, bid, ask decimal.Decimal, ts time.Time) Tick {
	return Tick{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Mid:       bid.Add(ask).Div(two),
		Timestamp: ts,
	}
}

// PipSize returns the standardized pip increment for a pair: 0.0001, or
// 0.01 when the quote currency is JPY.
func PipSize(symbol string) decimal.Decimal {
	if strings.HasSuffix(strings.ToUpper(strings.TrimSpace(symbol)), "JPY") {
		return pipJPY
	}
	return pipStandard
}
