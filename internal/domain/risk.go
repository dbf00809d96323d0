package domain

import "github.com/shopspring/decimal"

// RiskParameters bound what a portfolio may hold and how far it may lever.
type RiskParameters struct {
	MaxPositionSize decimal.Decimal
	MaxLeverage     decimal.Decimal
	StopLossPct     decimal.Decimal
}

// NewRiskParameters validates at construction: sizes positive, leverage at
// least 1, stop-loss a fraction in [0,1].
func NewRiskParameters(maxPositionSize, maxLeverage, stopLossPct decimal.Decimal) (RiskParameters, error) {
	if !maxPositionSize.GreaterThan(decimal.Zero) {
		return RiskParameters{}, validationErrorf("risk.max_position_size", "must be positive, got %s", maxPositionSize)
	}
	if maxLeverage.LessThan(decimal.NewFromInt(1)) {
		return RiskParameters{}, validationErrorf("risk.max_leverage", "must be >= 1, got %s", maxLeverage)
	}
	if stopLossPct.LessThan(decimal.Zero) || stopLossPct.GreaterThan(decimal.NewFromInt(1)) {
		return RiskParameters{}, validationErrorf("risk.stop_loss_pct", "must be in [0,1], got %s", stopLossPct)
	}
	return RiskParameters{
		MaxPositionSize: maxPositionSize,
		MaxLeverage:     maxLeverage,
		StopLossPct:     stopLossPct,
	}, nil
}
