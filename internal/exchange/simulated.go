package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Simulated fills orders at a random-walked price around a per-symbol
// base. Confirmations are keyed by client order id so resubmitting the
// same order returns the original fill, like a real venue would.
type Simulated struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	fills  map[string]Confirmation
	rng    *rand.Rand

	// RejectUnknown makes orders for symbols without a seeded price fail
	// with ErrRejected instead of getting a default price.
	RejectUnknown bool
}

func NewSimulated(basePrices map[string]decimal.Decimal) *Simulated {
	prices := make(map[string]decimal.Decimal, len(basePrices))
	for sym, p := range basePrices {
		prices[sym] = p
	}
	return &Simulated{
		prices: prices,
		fills:  make(map[string]Confirmation),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Simulated) SubmitOrder(ctx context.Context, req OrderRequest) (Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.fills[req.ClientOrderID]; ok {
		return c, nil
	}
	if !req.Amount.IsPositive() {
		return Confirmation{}, fmt.Errorf("%w: non-positive amount %s", ErrRejected, req.Amount)
	}
	base, ok := s.prices[req.Symbol]
	if !ok {
		if s.RejectUnknown {
			return Confirmation{}, fmt.Errorf("%w: unknown symbol %s", ErrRejected, req.Symbol)
		}
		base = decimal.NewFromInt(100)
	}

	// Walk the price up to ±0.5% per fill.
	drift := decimal.NewFromFloat((s.rng.Float64() - 0.5) / 100)
	price := base.Add(base.Mul(drift))
	s.prices[req.Symbol] = price

	c := Confirmation{
		ExchangeOrderID: fmt.Sprintf("sim-%s", req.ClientOrderID),
		FillPrice:       price,
		FilledAt:        time.Now().UTC(),
	}
	s.fills[req.ClientOrderID] = c
	return c, nil
}

// Disabled refuses everything; used when no venue is configured.
type Disabled struct{}

func NewDisabled() *Disabled { return &Disabled{} }

func (*Disabled) SubmitOrder(context.Context, OrderRequest) (Confirmation, error) {
	return Confirmation{}, fmt.Errorf("%w: no exchange configured", ErrUnavailable)
}
