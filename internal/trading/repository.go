package trading

import (
	"context"
	"errors"

	"tradecore/internal/domain"
	"tradecore/internal/outbox"
)

var (
	// ErrTradeNotFound is returned by lookups that found nothing.
	ErrTradeNotFound = errors.New("trade not found")
	// ErrPortfolioNotFound is returned when the referenced portfolio does
	// not exist.
	ErrPortfolioNotFound = errors.New("portfolio not found")
	// ErrDuplicateRequest is returned when a trade with the same client
	// request id was inserted concurrently. The caller re-reads and
	// replays the stored result.
	ErrDuplicateRequest = errors.New("duplicate client request")
)

// TxOps is the slice of the repository available inside a transaction.
// AppendEvents writes into the outbox on the same transaction as the
// domain rows, which is the whole point. Status transitions read the trade
// with GetTradeForUpdate and pass the status they read to
// UpdateTradeStatus, which refuses to apply over anything else.
type TxOps interface {
	GetPortfolioForUpdate(ctx context.Context, id string) (*domain.Portfolio, error)
	GetTradeForUpdate(ctx context.Context, id string) (*domain.Trade, error)
	InsertTrade(ctx context.Context, t *domain.Trade) error
	UpdateTradeStatus(ctx context.Context, t *domain.Trade, from domain.TradeStatus) error
	SavePosition(ctx context.Context, p *domain.Position) error
	AppendEvents(ctx context.Context, evts []outbox.Event) error
}

// Repository persists trades, portfolios and positions. The Postgres
// implementation lives in store.go; tests use the in-memory one.
// FindTradeByClientRequestID returns only the replayable trade for a
// request id: exchange-rejected trades stay as audit rows but do not
// consume the idempotency key, so the caller may resubmit.
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, ops TxOps) error) error
	CreatePortfolio(ctx context.Context, pf *domain.Portfolio) error
	GetPortfolio(ctx context.Context, id string) (*domain.Portfolio, error)
	GetTrade(ctx context.Context, id string) (*domain.Trade, error)
	FindTradeByClientRequestID(ctx context.Context, portfolioID, clientRequestID string) (*domain.Trade, error)
	ListTrades(ctx context.Context, portfolioID string, limit int) ([]*domain.Trade, error)
}
