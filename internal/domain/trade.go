package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TradeDirection string

type TradeStatus string

const (
	DirectionLong  TradeDirection = "long"
	DirectionShort TradeDirection = "short"
)

const (
	TradeStatusPending  TradeStatus = "pending"
	TradeStatusExecuted TradeStatus = "executed"
	TradeStatusSettled  TradeStatus = "settled"
	TradeStatusFailed   TradeStatus = "failed"
)

// Trade is the record of a single execution request against the exchange.
// Its id is generated at creation and never reused; the trade is owned by
// exactly one portfolio.
type Trade struct {
	ID              string
	PortfolioID     string
	ClientRequestID string
	ExchangeOrderID string
	Asset           Asset
	Direction       TradeDirection
	Amount          Money
	Status          TradeStatus
	FailureReason   string
	CreatedAt       time.Time
	ExecutedAt      *time.Time

	entryPrice *Money
}

// NewTrade creates a PENDING trade. Amount must be strictly positive.
func NewTrade(portfolioID, clientRequestID string, asset Asset, direction TradeDirection, amount Money) (*Trade, error) {
	if portfolioID == "" {
		return nil, validationErrorf("trade.portfolio_id", "portfolio id is required")
	}
	if clientRequestID == "" {
		return nil, validationErrorf("trade.client_request_id", "client request id is required")
	}
	if direction != DirectionLong && direction != DirectionShort {
		return nil, validationErrorf("trade.direction", "unknown direction %q", direction)
	}
	if !amount.IsPositive() {
		return nil, validationErrorf("trade.amount", "amount must be strictly positive, got %s", amount)
	}
	return &Trade{
		ID:              uuid.NewString(),
		PortfolioID:     portfolioID,
		ClientRequestID: clientRequestID,
		Asset:           asset,
		Direction:       direction,
		Amount:          amount,
		Status:          TradeStatusPending,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// RestoreTrade rebuilds a trade from persisted state. It is intended for
// repository use and performs no validation beyond the entry price guard.
func RestoreTrade(id, portfolioID, clientRequestID, exchangeOrderID string, asset Asset, direction TradeDirection, amount Money, entryPrice *Money, status TradeStatus, failureReason string, createdAt time.Time, executedAt *time.Time) *Trade {
	return &Trade{
		ID:              id,
		PortfolioID:     portfolioID,
		ClientRequestID: clientRequestID,
		ExchangeOrderID: exchangeOrderID,
		Asset:           asset,
		Direction:       direction,
		Amount:          amount,
		Status:          status,
		FailureReason:   failureReason,
		CreatedAt:       createdAt,
		ExecutedAt:      executedAt,
		entryPrice:      entryPrice,
	}
}

// EntryPrice returns the confirmed entry price, if set.
func (t *Trade) EntryPrice() (Money, bool) {
	if t.entryPrice == nil {
		return Money{}, false
	}
	return *t.entryPrice, true
}

// MarkExecuted records the exchange confirmation. The entry price is
// immutable once set; only a PENDING trade can become EXECUTED.
func (t *Trade) MarkExecuted(exchangeOrderID string, entryPrice Money, at time.Time) error {
	if t.entryPrice != nil {
		return ErrEntryPriceSet
	}
	if t.Status != TradeStatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TradeStatusExecuted)
	}
	if !entryPrice.IsPositive() {
		return validationErrorf("trade.entry_price", "entry price must be positive, got %s", entryPrice)
	}
	if entryPrice.Currency() != t.Amount.Currency() {
		return validationErrorf("trade.entry_price", "entry price currency %s does not match amount currency %s", entryPrice.Currency(), t.Amount.Currency())
	}
	at = at.UTC()
	t.ExchangeOrderID = exchangeOrderID
	t.entryPrice = &entryPrice
	t.Status = TradeStatusExecuted
	t.ExecutedAt = &at
	return nil
}

// MarkSettled finishes the lifecycle of an EXECUTED trade.
func (t *Trade) MarkSettled() error {
	if t.Status != TradeStatusExecuted {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TradeStatusSettled)
	}
	t.Status = TradeStatusSettled
	return nil
}

// MarkFailed moves any non-terminal trade to FAILED.
func (t *Trade) MarkFailed(reason string) error {
	if t.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TradeStatusFailed)
	}
	t.Status = TradeStatusFailed
	t.FailureReason = reason
	return nil
}

// Terminal reports whether the trade can no longer change status.
func (t *Trade) Terminal() bool {
	return t.Status == TradeStatusSettled || t.Status == TradeStatusFailed
}

// PnL computes profit and loss against the current price:
// amount * (current - entry) / entry, with the price delta negated for
// SHORT trades. It returns zero while the entry price is unset.
func (t *Trade) PnL(current Money) (Money, error) {
	if t.entryPrice == nil {
		return ZeroMoney(current.Currency()), nil
	}
	entry := *t.entryPrice
	delta, err := current.Sub(entry)
	if err != nil {
		return Money{}, err
	}
	if t.Direction == DirectionShort {
		delta = delta.Neg()
	}
	return t.Amount.MulDecimal(delta.Amount()).DivDecimal(entry.Amount())
}

// PnLPercent returns the pure percentage return relative to the entry
// price, carrying no currency. Zero while the entry price is unset.
func (t *Trade) PnLPercent(current Money) (decimal.Decimal, error) {
	if t.entryPrice == nil {
		return decimal.Zero, nil
	}
	entry := *t.entryPrice
	delta, err := current.Sub(entry)
	if err != nil {
		return decimal.Zero, err
	}
	d := delta.Amount()
	if t.Direction == DirectionShort {
		d = d.Neg()
	}
	return d.Div(entry.Amount()).Mul(decimal.NewFromInt(100)), nil
}

// SignedAmount is the trade amount with direction applied: positive for
// LONG, negative for SHORT.
func (t *Trade) SignedAmount() decimal.Decimal {
	if t.Direction == DirectionShort {
		return t.Amount.Amount().Neg()
	}
	return t.Amount.Amount()
}
