// Package exchange adapts external execution venues. The trading service
// talks to the Client interface only; the concrete adapter is picked by
// configuration.
package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrRejected means the venue refused the order. The trade is persisted as
// FAILED and no lifecycle events are emitted for it.
var ErrRejected = errors.New("order rejected by exchange")

// ErrUnavailable means the venue could not be reached. Callers surface it
// without persisting anything.
var ErrUnavailable = errors.New("exchange unavailable")

// OrderRequest carries the order as the venue sees it. Amount is the
// notional in the portfolio currency.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Direction     string
	Amount        decimal.Decimal
	Currency      string
}

// Confirmation is the venue's acknowledgement. ExchangeOrderID is a
// secondary idempotency key: two confirmations with the same id describe
// the same fill.
type Confirmation struct {
	ExchangeOrderID string
	FillPrice       decimal.Decimal
	FilledAt        time.Time
}

type Client interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (Confirmation, error)
}
