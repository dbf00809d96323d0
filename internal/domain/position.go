package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position aggregates all executed trades for one (portfolio, asset) pair.
// NetSize stays recomputable as the signed sum of constituent trade
// amounts; the average entry price is a weighted average updated on every
// applied trade and never drifts independently.
type Position struct {
	PortfolioID   string
	Asset         Asset
	NetSize       decimal.Decimal
	AvgEntryPrice Money
	RealizedPnL   Money
	UpdatedAt     time.Time
}

// NewPosition creates an empty position denominated in currency.
func NewPosition(portfolioID string, asset Asset, currency string) *Position {
	return &Position{
		PortfolioID:   portfolioID,
		Asset:         asset,
		NetSize:       decimal.Zero,
		AvgEntryPrice: ZeroMoney(currency),
		RealizedPnL:   ZeroMoney(currency),
		UpdatedAt:     time.Now().UTC(),
	}
}

// RestorePosition rebuilds a position from persisted state.
func RestorePosition(portfolioID string, asset Asset, netSize decimal.Decimal, avgEntryPrice, realizedPnL Money, updatedAt time.Time) *Position {
	return &Position{
		PortfolioID:   portfolioID,
		Asset:         asset,
		NetSize:       netSize,
		AvgEntryPrice: avgEntryPrice,
		RealizedPnL:   realizedPnL,
		UpdatedAt:     updatedAt,
	}
}

// IsFlat reports whether the position currently holds nothing.
func (p *Position) IsFlat() bool { return p.NetSize.IsZero() }

// UnrealizedPnL values the open size against the current price. It is
// derived, never persisted.
func (p *Position) UnrealizedPnL(current Money) (Money, error) {
	if p.NetSize.IsZero() || !p.AvgEntryPrice.IsPositive() {
		return ZeroMoney(p.AvgEntryPrice.Currency()), nil
	}
	delta, err := current.Sub(p.AvgEntryPrice)
	if err != nil {
		return Money{}, err
	}
	pnl := p.NetSize.Mul(delta.Amount()).Div(p.AvgEntryPrice.Amount())
	return NewMoney(pnl, p.AvgEntryPrice.Currency())
}

// apply folds one executed trade into the position. Only the owning
// Portfolio calls this, inside its write path.
func (p *Position) apply(t *Trade) error {
	entry, ok := t.EntryPrice()
	if !ok {
		return validationErrorf("position.entry_price", "trade %s has no entry price", t.ID)
	}
	if !t.Asset.Equal(p.Asset) {
		return validationErrorf("position.asset", "trade asset %s does not belong to position %s", t.Asset.Symbol, p.Asset.Symbol)
	}
	if entry.Currency() != p.AvgEntryPrice.Currency() {
		return validationErrorf("position.currency", "trade currency %s does not match position currency %s", entry.Currency(), p.AvgEntryPrice.Currency())
	}

	signed := t.SignedAmount()
	switch {
	case p.NetSize.IsZero():
		p.NetSize = signed
		p.AvgEntryPrice = entry
	case p.NetSize.Sign() == signed.Sign():
		// Increasing exposure: weighted average over absolute sizes.
		oldAbs := p.NetSize.Abs()
		addAbs := signed.Abs()
		total := oldAbs.Add(addAbs)
		weighted := p.AvgEntryPrice.Amount().Mul(oldAbs).Add(entry.Amount().Mul(addAbs)).Div(total)
		avg, err := NewMoney(weighted, entry.Currency())
		if err != nil {
			return err
		}
		p.AvgEntryPrice = avg
		p.NetSize = p.NetSize.Add(signed)
	default:
		// Reducing or flipping: realize P&L on the closed portion at the
		// incoming trade's price.
		closeAbs := decimal.Min(p.NetSize.Abs(), signed.Abs())
		delta := entry.Amount().Sub(p.AvgEntryPrice.Amount())
		if p.NetSize.Sign() < 0 {
			delta = delta.Neg()
		}
		realized := closeAbs.Mul(delta).Div(p.AvgEntryPrice.Amount())
		sum, err := NewMoney(p.RealizedPnL.Amount().Add(realized), p.RealizedPnL.Currency())
		if err != nil {
			return err
		}
		p.RealizedPnL = sum

		next := p.NetSize.Add(signed)
		if next.IsZero() {
			p.AvgEntryPrice = ZeroMoney(entry.Currency())
		} else if next.Sign() != p.NetSize.Sign() {
			// Flipped through flat: the remainder opens at the trade price.
			p.AvgEntryPrice = entry
		}
		p.NetSize = next
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}
