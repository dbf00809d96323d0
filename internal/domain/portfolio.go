package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Portfolio is the aggregate root: the sole authority allowed to mutate
// its positions and the trades it created. No position exists without an
// owning portfolio.
type Portfolio struct {
	ID     string
	UserID string
	Risk   RiskParameters

	positions map[string]*Position
}

// NewPortfolio creates an empty portfolio with validated risk parameters.
func NewPortfolio(id, userID string, risk RiskParameters) (*Portfolio, error) {
	if id == "" {
		return nil, validationErrorf("portfolio.id", "id is required")
	}
	if userID == "" {
		return nil, validationErrorf("portfolio.user_id", "user id is required")
	}
	return &Portfolio{
		ID:        id,
		UserID:    userID,
		Risk:      risk,
		positions: make(map[string]*Position),
	}, nil
}

// RestorePortfolio rebuilds a portfolio and its positions from persisted
// state. Positions keyed by asset symbol must be unique.
func RestorePortfolio(id, userID string, risk RiskParameters, positions []*Position) (*Portfolio, error) {
	pf, err := NewPortfolio(id, userID, risk)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if _, ok := pf.positions[p.Asset.Symbol]; ok {
			return nil, validationErrorf("portfolio.positions", "duplicate position for %s", p.Asset.Symbol)
		}
		pf.positions[p.Asset.Symbol] = p
	}
	return pf, nil
}

// Position returns the position for an asset symbol, if any.
func (pf *Portfolio) Position(symbol string) (*Position, bool) {
	p, ok := pf.positions[symbol]
	return p, ok
}

// Positions lists all positions in stable symbol order.
func (pf *Portfolio) Positions() []*Position {
	out := make([]*Position, 0, len(pf.positions))
	for _, p := range pf.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset.Symbol < out[j].Asset.Symbol })
	return out
}

// CheckRisk refuses a prospective trade that would breach the portfolio's
// risk parameters. Violations are surfaced, never clamped.
func (pf *Portfolio) CheckRisk(asset Asset, direction TradeDirection, amount Money, leverage decimal.Decimal) error {
	if !amount.IsPositive() {
		return validationErrorf("trade.amount", "amount must be strictly positive, got %s", amount)
	}
	if leverage.GreaterThan(pf.Risk.MaxLeverage) {
		return &RiskLimitError{
			Limit:  "max_leverage",
			Detail: "requested leverage " + leverage.String() + " exceeds limit " + pf.Risk.MaxLeverage.String(),
		}
	}
	signed := amount.Amount()
	if direction == DirectionShort {
		signed = signed.Neg()
	}
	next := signed
	if p, ok := pf.positions[asset.Symbol]; ok {
		next = p.NetSize.Add(signed)
	}
	if next.Abs().GreaterThan(pf.Risk.MaxPositionSize) {
		return &RiskLimitError{
			Limit:  "max_position_size",
			Detail: "resulting size " + next.Abs().String() + " for " + asset.Symbol + " exceeds limit " + pf.Risk.MaxPositionSize.String(),
		}
	}
	return nil
}

// ApplyTrade folds an executed trade into the owning position, creating
// the position on first use. It reports whether net size or average entry
// price changed, which decides whether a position_updated event is due.
func (pf *Portfolio) ApplyTrade(t *Trade) (*Position, bool, error) {
	if t.PortfolioID != pf.ID {
		return nil, false, validationErrorf("portfolio.ownership", "trade %s belongs to portfolio %s, not %s", t.ID, t.PortfolioID, pf.ID)
	}
	p, ok := pf.positions[t.Asset.Symbol]
	if !ok {
		p = NewPosition(pf.ID, t.Asset, t.Amount.Currency())
		pf.positions[t.Asset.Symbol] = p
	}
	beforeSize := p.NetSize
	beforeAvg := p.AvgEntryPrice
	if err := p.apply(t); err != nil {
		return nil, false, err
	}
	changed := !beforeSize.Equal(p.NetSize) || !beforeAvg.Equal(p.AvgEntryPrice)
	return p, changed, nil
}
