// Package margin holds the pure margin math. The order-validation path
// and the tick-monitoring path both call these functions so the two can
// never disagree about risk.
package margin

import (
	"errors"

	"fx-arena/internal/types"

	"github.com/shopspring/decimal"
)

// ContractSize is the standardized forex lot: 100,000 base-currency units.
var ContractSize = decimal.NewFromInt(100_000)

var hundred = decimal.NewFromInt(100)

// Level is a margin level in percent. Infinite marks the zero-used-margin
// case: no open margin means the account is always safe.
type Level struct {
	Value    decimal.Decimal
	Infinite bool
}

func (l Level) String() string {
	if l.Infinite {
		return "inf"
	}
	return l.Value.String()
}

// Below reports whether the level breaches the given boundary. An
// infinite level never breaches anything.
func (l Level) Below(boundary decimal.Decimal) bool {
	if l.Infinite {
		return false
	}
	return l.Value.LessThan(boundary)
}

// PositionValue is the notional of a position: lots x contract size x price.
func PositionValue(quantityLots, price decimal.Decimal) decimal.Decimal {
	if quantityLots.LessThanOrEqual(decimal.Zero) || price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return quantityLots.Mul(ContractSize).Mul(price)
}

// RequiredMargin is the capital committed to hold a position of the given
// notional at the given leverage.
func RequiredMargin(positionValue, leverage decimal.Decimal) decimal.Decimal {
	if positionValue.LessThanOrEqual(decimal.Zero) || leverage.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return positionValue.Div(leverage)
}

// ComputeLevel returns equity / usedMargin x 100, or the infinite level
// when no margin is in use.
func ComputeLevel(equity, usedMargin decimal.Decimal) Level {
	if usedMargin.LessThanOrEqual(decimal.Zero) {
		return Level{Infinite: true}
	}
	return Level{Value: equity.Div(usedMargin).Mul(hundred)}
}

// ProjectedLevel is the margin level the account would have after
// committing candidateMargin on top of the existing exposure.
func ProjectedLevel(equity, usedMargin, candidateMargin decimal.Decimal) Level {
	return ComputeLevel(equity, usedMargin.Add(candidateMargin))
}

// Thresholds are the margin-level bands, in percent. Liquidation is the
// stopout boundary; a competition's margin-call threshold overrides it.
type Thresholds struct {
	Safe        decimal.Decimal
	Warning     decimal.Decimal
	MarginCall  decimal.Decimal
	Liquidation decimal.Decimal
}

// DefaultThresholds returns the platform defaults: SAFE >= 200,
// WARNING [150,200), MARGIN_CALL [120,150), LIQUIDATION < 120.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Safe:        decimal.NewFromInt(200),
		Warning:     decimal.NewFromInt(150),
		MarginCall:  decimal.NewFromInt(120),
		Liquidation: decimal.NewFromInt(120),
	}
}

// ThresholdsFromLevels builds Thresholds from percent levels, as read
// from configuration.
func ThresholdsFromLevels(safe, warning, marginCall, liquidation float64) Thresholds {
	return Thresholds{
		Safe:        decimal.NewFromFloat(safe),
		Warning:     decimal.NewFromFloat(warning),
		MarginCall:  decimal.NewFromFloat(marginCall),
		Liquidation: decimal.NewFromFloat(liquidation),
	}
}

// WithStopout returns a copy with the liquidation boundary replaced by
// the competition's configured stopout level.
func (t Thresholds) WithStopout(level decimal.Decimal) Thresholds {
	if level.GreaterThan(decimal.Zero) {
		t.Liquidation = level
	}
	return t
}

// Validate enforces LIQUIDATION <= MARGIN_CALL < WARNING < SAFE.
func (t Thresholds) Validate() error {
	if !t.Liquidation.GreaterThan(decimal.Zero) {
		return errors.New("liquidation threshold must be positive")
	}
	if t.Liquidation.GreaterThan(t.MarginCall) {
		return errors.New("liquidation threshold above margin call threshold")
	}
	if !t.MarginCall.LessThan(t.Warning) {
		return errors.New("margin call threshold must be below warning threshold")
	}
	if !t.Warning.LessThan(t.Safe) {
		return errors.New("warning threshold must be below safe threshold")
	}
	return nil
}

// Classify maps a margin level onto its band.
func (t Thresholds) Classify(l Level) types.MarginState {
	switch {
	case l.Infinite || l.Value.GreaterThanOrEqual(t.Safe):
		return types.MarginStateSafe
	case l.Below(t.Liquidation):
		return types.MarginStateLiquidation
	case l.Value.GreaterThanOrEqual(t.Warning):
		return types.MarginStateWarning
	default:
		return types.MarginStateMarginCall
	}
}
