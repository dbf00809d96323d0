package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/internal/outbox"
)

// Store is the Postgres repository. Trade, position and outbox writes for
// one execution share a single serializable transaction.
type Store struct {
	pool   *pgxpool.Pool
	outbox *outbox.Store
}

func NewStore(pool *pgxpool.Pool, ob *outbox.Store) *Store {
	return &Store{pool: pool, outbox: ob}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, ops TxOps) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(ctx, &txOps{tx: tx, outbox: s.outbox}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type txOps struct {
	tx     pgx.Tx
	outbox *outbox.Store
}

func (o *txOps) GetPortfolioForUpdate(ctx context.Context, id string) (*domain.Portfolio, error) {
	var userID string
	var maxSize, maxLev, stopLoss decimal.Decimal
	err := o.tx.QueryRow(ctx, "select user_id, max_position_size, max_leverage, stop_loss_pct from portfolios where id = $1 for update", id).Scan(&userID, &maxSize, &maxLev, &stopLoss)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPortfolioNotFound
	}
	if err != nil {
		return nil, err
	}
	risk, err := domain.NewRiskParameters(maxSize, maxLev, stopLoss)
	if err != nil {
		return nil, err
	}
	positions, err := scanPositions(o.tx.Query(ctx, "select portfolio_id, symbol, category, net_size, avg_entry_price, realized_pnl, currency, updated_at from positions where portfolio_id = $1 for update", id))
	if err != nil {
		return nil, err
	}
	return domain.RestorePortfolio(id, userID, risk, positions)
}

func (o *txOps) InsertTrade(ctx context.Context, t *domain.Trade) error {
	var entry *decimal.Decimal
	if e, ok := t.EntryPrice(); ok {
		v := e.Amount()
		entry = &v
	}
	_, err := o.tx.Exec(ctx,
		"insert into trades (id, portfolio_id, client_request_id, exchange_order_id, symbol, category, direction, amount, currency, entry_price, status, failure_reason, created_at, executed_at) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)",
		t.ID, t.PortfolioID, t.ClientRequestID, nullStr(t.ExchangeOrderID), t.Asset.Symbol, string(t.Asset.Category), string(t.Direction), t.Amount.Amount(), t.Amount.Currency(), entry, string(t.Status), t.FailureReason, t.CreatedAt, t.ExecutedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateRequest
	}
	return err
}

func (o *txOps) GetTradeForUpdate(ctx context.Context, id string) (*domain.Trade, error) {
	t, err := scanTrade(o.tx.QueryRow(ctx, "select "+tradeColumns+" from trades where id = $1 for update", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTradeNotFound
	}
	return t, err
}

// UpdateTradeStatus is guarded by the status the caller read: a concurrent
// transition loses here instead of overwriting a terminal state.
func (o *txOps) UpdateTradeStatus(ctx context.Context, t *domain.Trade, from domain.TradeStatus) error {
	tag, err := o.tx.Exec(ctx, "update trades set status = $1, failure_reason = $2 where id = $3 and status = $4",
		string(t.Status), t.FailureReason, t.ID, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: trade %s is no longer %s", domain.ErrInvalidTransition, t.ID, from)
	}
	return nil
}

func (o *txOps) SavePosition(ctx context.Context, p *domain.Position) error {
	_, err := o.tx.Exec(ctx, `
		insert into positions (portfolio_id, symbol, category, net_size, avg_entry_price, realized_pnl, currency, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
		on conflict (portfolio_id, symbol) do update
		set net_size = excluded.net_size, avg_entry_price = excluded.avg_entry_price, realized_pnl = excluded.realized_pnl, updated_at = excluded.updated_at
	`, p.PortfolioID, p.Asset.Symbol, string(p.Asset.Category), p.NetSize, p.AvgEntryPrice.Amount(), p.RealizedPnL.Amount(), p.RealizedPnL.Currency(), p.UpdatedAt)
	return err
}

func (o *txOps) AppendEvents(ctx context.Context, evts []outbox.Event) error {
	return o.outbox.Append(ctx, o.tx, evts)
}

func (s *Store) CreatePortfolio(ctx context.Context, pf *domain.Portfolio) error {
	_, err := s.pool.Exec(ctx,
		"insert into portfolios (id, user_id, max_position_size, max_leverage, stop_loss_pct, created_at) values ($1,$2,$3,$4,$5,$6)",
		pf.ID, pf.UserID, pf.Risk.MaxPositionSize, pf.Risk.MaxLeverage, pf.Risk.StopLossPct, time.Now().UTC())
	return err
}

func (s *Store) GetPortfolio(ctx context.Context, id string) (*domain.Portfolio, error) {
	var userID string
	var maxSize, maxLev, stopLoss decimal.Decimal
	err := s.pool.QueryRow(ctx, "select user_id, max_position_size, max_leverage, stop_loss_pct from portfolios where id = $1", id).Scan(&userID, &maxSize, &maxLev, &stopLoss)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPortfolioNotFound
	}
	if err != nil {
		return nil, err
	}
	risk, err := domain.NewRiskParameters(maxSize, maxLev, stopLoss)
	if err != nil {
		return nil, err
	}
	positions, err := scanPositions(s.pool.Query(ctx, "select portfolio_id, symbol, category, net_size, avg_entry_price, realized_pnl, currency, updated_at from positions where portfolio_id = $1", id))
	if err != nil {
		return nil, err
	}
	return domain.RestorePortfolio(id, userID, risk, positions)
}

const tradeColumns = "id, portfolio_id, client_request_id, coalesce(exchange_order_id, ''), symbol, category, direction, amount, currency, entry_price, status, failure_reason, created_at, executed_at"

func (s *Store) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	t, err := scanTrade(s.pool.QueryRow(ctx, "select "+tradeColumns+" from trades where id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTradeNotFound
	}
	return t, err
}

// FindTradeByClientRequestID returns the replayable trade for a client
// request id. Exchange-rejected trades (failed, never executed) are audit
// rows outside the idempotency key; the predicate mirrors the partial
// unique index, so at most one row matches.
func (s *Store) FindTradeByClientRequestID(ctx context.Context, portfolioID, clientRequestID string) (*domain.Trade, error) {
	t, err := scanTrade(s.pool.QueryRow(ctx,
		"select "+tradeColumns+" from trades where portfolio_id = $1 and client_request_id = $2 and not (status = 'failed' and exchange_order_id is null)",
		portfolioID, clientRequestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *Store) ListTrades(ctx context.Context, portfolioID string, limit int) ([]*domain.Trade, error) {
	rows, err := s.pool.Query(ctx, "select "+tradeColumns+" from trades where portfolio_id = $1 order by created_at desc, id desc limit $2", portfolioID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (*domain.Trade, error) {
	var (
		id, portfolioID, clientRequestID, exchangeOrderID string
		symbol, category, direction, status, reason       string
		amount                                            decimal.Decimal
		currency                                          string
		entry                                             *decimal.Decimal
		createdAt                                         time.Time
		executedAt                                        *time.Time
	)
	if err := row.Scan(&id, &portfolioID, &clientRequestID, &exchangeOrderID, &symbol, &category, &direction, &amount, &currency, &entry, &status, &reason, &createdAt, &executedAt); err != nil {
		return nil, err
	}
	asset, err := domain.NewAsset(symbol, domain.AssetCategory(category))
	if err != nil {
		return nil, err
	}
	money, err := domain.NewMoney(amount, currency)
	if err != nil {
		return nil, err
	}
	var entryPrice *domain.Money
	if entry != nil {
		m, err := domain.NewMoney(*entry, currency)
		if err != nil {
			return nil, err
		}
		entryPrice = &m
	}
	return domain.RestoreTrade(id, portfolioID, clientRequestID, exchangeOrderID, asset, domain.TradeDirection(direction), money, entryPrice, domain.TradeStatus(status), reason, createdAt, executedAt), nil
}

func scanPositions(rows pgx.Rows, qerr error) ([]*domain.Position, error) {
	if qerr != nil {
		return nil, qerr
	}
	defer rows.Close()
	var out []*domain.Position
	for rows.Next() {
		var (
			portfolioID, symbol, category, currency string
			netSize, avg, realized                  decimal.Decimal
			updatedAt                               time.Time
		)
		if err := rows.Scan(&portfolioID, &symbol, &category, &netSize, &avg, &realized, &currency, &updatedAt); err != nil {
			return nil, err
		}
		asset, err := domain.NewAsset(symbol, domain.AssetCategory(category))
		if err != nil {
			return nil, err
		}
		avgMoney, err := domain.NewMoney(avg, currency)
		if err != nil {
			return nil, err
		}
		realizedMoney, err := domain.NewMoney(realized, currency)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.RestorePosition(portfolioID, asset, netSize, avgMoney, realizedMoney, updatedAt))
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
