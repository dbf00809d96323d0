// Package trading is the application service for the trade lifecycle:
// validation, risk, exchange submission and the transactional write that
// persists the trade, its position and the outbox rows atomically.
package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/internal/events"
	"tradecore/internal/exchange"
	"tradecore/internal/obs"
	"tradecore/internal/outbox"
)

type Service struct {
	repo     Repository
	exchange exchange.Client
	log      zerolog.Logger
	metrics  *obs.Metrics
}

func NewService(repo Repository, ex exchange.Client, log zerolog.Logger, metrics *obs.Metrics) *Service {
	return &Service{
		repo:     repo,
		exchange: ex,
		log:      log.With().Str("component", "trading").Logger(),
		metrics:  metrics,
	}
}

// ExecuteTradeRequest is one caller attempt. ClientRequestID makes retries
// of the same logical trade idempotent: the same id always maps to at most
// one persisted trade.
type ExecuteTradeRequest struct {
	PortfolioID     string
	ClientRequestID string
	Symbol          string
	Category        domain.AssetCategory
	Direction       domain.TradeDirection
	Amount          decimal.Decimal
	Currency        string
	Leverage        decimal.Decimal
}

// ExecuteTradeResult reports the persisted trade. Replayed is set when the
// request matched an already-stored client request id and nothing was
// executed again.
type ExecuteTradeResult struct {
	Trade    *domain.Trade
	Replayed bool
}

// ExecuteTrade runs the full lifecycle: validate, replay-check, risk-check,
// submit to the exchange, then commit trade + position + outbox rows in
// one transaction. An exchange rejection persists a FAILED trade with no
// events; a database failure after exchange confirmation returns a
// PersistenceError and the caller retries with the same client request id,
// which the exchange answers with the original fill.
func (s *Service) ExecuteTrade(ctx context.Context, req ExecuteTradeRequest) (ExecuteTradeResult, error) {
	if req.ClientRequestID == "" {
		return ExecuteTradeResult{}, &domain.ValidationError{Invariant: "trade.client_request_id", Detail: "client request id is required"}
	}
	if req.Leverage.IsZero() {
		req.Leverage = decimal.NewFromInt(1)
	}

	if prior, err := s.repo.FindTradeByClientRequestID(ctx, req.PortfolioID, req.ClientRequestID); err != nil {
		return ExecuteTradeResult{}, &domain.PersistenceError{Op: "replay lookup", Err: err}
	} else if prior != nil {
		s.metrics.IncIdempotentHit()
		s.log.Info().Str("trade_id", prior.ID).Str("client_request_id", req.ClientRequestID).Msg("replayed stored trade result")
		return ExecuteTradeResult{Trade: prior, Replayed: true}, nil
	}

	asset, err := domain.NewAsset(req.Symbol, req.Category)
	if err != nil {
		return ExecuteTradeResult{}, err
	}
	amount, err := domain.NewMoney(req.Amount, req.Currency)
	if err != nil {
		return ExecuteTradeResult{}, err
	}
	trade, err := domain.NewTrade(req.PortfolioID, req.ClientRequestID, asset, req.Direction, amount)
	if err != nil {
		return ExecuteTradeResult{}, err
	}

	pf, err := s.repo.GetPortfolio(ctx, req.PortfolioID)
	if err != nil {
		if errors.Is(err, ErrPortfolioNotFound) {
			return ExecuteTradeResult{}, err
		}
		return ExecuteTradeResult{}, &domain.PersistenceError{Op: "load portfolio", Err: err}
	}
	if err := pf.CheckRisk(asset, req.Direction, amount, req.Leverage); err != nil {
		if domain.IsRiskLimit(err) {
			s.metrics.IncRiskRejection()
			s.log.Warn().Str("portfolio_id", pf.ID).Str("symbol", asset.Symbol).Err(err).Msg("trade refused by risk check")
		}
		return ExecuteTradeResult{}, err
	}

	conf, err := s.exchange.SubmitOrder(ctx, exchange.OrderRequest{
		ClientOrderID: req.ClientRequestID,
		Symbol:        asset.Symbol,
		Direction:     string(req.Direction),
		Amount:        amount.Amount(),
		Currency:      amount.Currency(),
	})
	if err != nil {
		// Rejections and venue unavailability both leave a FAILED audit
		// record; neither consumes the idempotency key, so the caller may
		// resubmit with the same client request id.
		if errors.Is(err, exchange.ErrRejected) || errors.Is(err, exchange.ErrUnavailable) {
			return s.persistRejected(ctx, trade, err)
		}
		return ExecuteTradeResult{}, fmt.Errorf("submit order: %w", err)
	}

	entry, err := domain.NewMoney(conf.FillPrice, amount.Currency())
	if err != nil {
		return ExecuteTradeResult{}, err
	}
	if err := trade.MarkExecuted(conf.ExchangeOrderID, entry, conf.FilledAt); err != nil {
		return ExecuteTradeResult{}, err
	}

	err = s.repo.WithinTx(ctx, func(ctx context.Context, ops TxOps) error {
		locked, err := ops.GetPortfolioForUpdate(ctx, req.PortfolioID)
		if err != nil {
			return err
		}
		if err := ops.InsertTrade(ctx, trade); err != nil {
			return err
		}
		pos, changed, err := locked.ApplyTrade(trade)
		if err != nil {
			return err
		}
		if err := ops.SavePosition(ctx, pos); err != nil {
			return err
		}

		envs := make([]events.Envelope, 0, 2)
		execEnv, err := events.NewTradeExecuted(trade)
		if err != nil {
			return err
		}
		envs = append(envs, execEnv)
		if changed {
			posEnv, err := events.NewPositionUpdated(trade, pos)
			if err != nil {
				return err
			}
			envs = append(envs, posEnv)
		}
		rows := make([]outbox.Event, 0, len(envs))
		for _, env := range envs {
			row, err := outbox.FromEnvelope(env)
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
		return ops.AppendEvents(ctx, rows)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateRequest) {
			// Lost the race against a concurrent retry; its result stands.
			prior, lerr := s.repo.FindTradeByClientRequestID(ctx, req.PortfolioID, req.ClientRequestID)
			if lerr == nil && prior != nil {
				s.metrics.IncIdempotentHit()
				return ExecuteTradeResult{Trade: prior, Replayed: true}, nil
			}
		}
		if domain.IsValidation(err) || domain.IsRiskLimit(err) {
			return ExecuteTradeResult{}, err
		}
		return ExecuteTradeResult{}, &domain.PersistenceError{Op: "commit trade", Err: err}
	}

	s.metrics.IncTradeExecuted()
	s.log.Info().
		Str("trade_id", trade.ID).
		Str("portfolio_id", trade.PortfolioID).
		Str("symbol", asset.Symbol).
		Str("direction", string(trade.Direction)).
		Str("amount", amount.String()).
		Str("exchange_order_id", conf.ExchangeOrderID).
		Msg("trade executed")
	return ExecuteTradeResult{Trade: trade}, nil
}

// persistRejected stores the refused trade as FAILED. No outbox rows: a
// trade the exchange never accepted has no lifecycle downstream. The row
// carries no exchange order id, which keeps it outside the idempotency
// key; a resubmission with the same client request id starts fresh.
func (s *Service) persistRejected(ctx context.Context, trade *domain.Trade, cause error) (ExecuteTradeResult, error) {
	if err := trade.MarkFailed(cause.Error()); err != nil {
		return ExecuteTradeResult{}, err
	}
	err := s.repo.WithinTx(ctx, func(ctx context.Context, ops TxOps) error {
		return ops.InsertTrade(ctx, trade)
	})
	if err != nil && !errors.Is(err, ErrDuplicateRequest) {
		return ExecuteTradeResult{}, &domain.PersistenceError{Op: "persist rejected trade", Err: err}
	}
	s.metrics.IncTradeRejected()
	s.log.Warn().Str("trade_id", trade.ID).Err(cause).Msg("trade rejected by exchange")
	return ExecuteTradeResult{Trade: trade}, fmt.Errorf("execute trade: %w", cause)
}

// SettleTrade marks an executed trade settled. Terminal, no event. The
// trade is read and updated inside one transaction so concurrent settle
// and fail calls serialize on the row lock.
func (s *Service) SettleTrade(ctx context.Context, tradeID string) (*domain.Trade, error) {
	var settled *domain.Trade
	err := s.repo.WithinTx(ctx, func(ctx context.Context, ops TxOps) error {
		t, err := ops.GetTradeForUpdate(ctx, tradeID)
		if err != nil {
			return err
		}
		from := t.Status
		if err := t.MarkSettled(); err != nil {
			return err
		}
		if err := ops.UpdateTradeStatus(ctx, t, from); err != nil {
			return err
		}
		settled = t
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTradeNotFound) || domain.IsValidation(err) || errors.Is(err, domain.ErrInvalidTransition) {
			return nil, err
		}
		return nil, &domain.PersistenceError{Op: "settle trade", Err: err}
	}
	return settled, nil
}

// FailTrade marks a non-terminal trade failed and emits trade_failed.v1 in
// the same transaction.
func (s *Service) FailTrade(ctx context.Context, tradeID, reason string) (*domain.Trade, error) {
	var failed *domain.Trade
	err := s.repo.WithinTx(ctx, func(ctx context.Context, ops TxOps) error {
		t, err := ops.GetTradeForUpdate(ctx, tradeID)
		if err != nil {
			return err
		}
		from := t.Status
		if err := t.MarkFailed(reason); err != nil {
			return err
		}
		if err := ops.UpdateTradeStatus(ctx, t, from); err != nil {
			return err
		}
		env, err := events.NewTradeFailed(t, time.Now().UTC())
		if err != nil {
			return err
		}
		row, err := outbox.FromEnvelope(env)
		if err != nil {
			return err
		}
		if err := ops.AppendEvents(ctx, []outbox.Event{row}); err != nil {
			return err
		}
		failed = t
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTradeNotFound) || errors.Is(err, domain.ErrInvalidTransition) {
			return nil, err
		}
		return nil, &domain.PersistenceError{Op: "fail trade", Err: err}
	}
	s.log.Warn().Str("trade_id", tradeID).Str("reason", reason).Msg("trade failed after execution")
	return failed, nil
}

// CreatePortfolio provisions an empty portfolio with the given risk limits.
func (s *Service) CreatePortfolio(ctx context.Context, userID string, risk domain.RiskParameters) (*domain.Portfolio, error) {
	pf, err := domain.NewPortfolio(uuid.NewString(), userID, risk)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreatePortfolio(ctx, pf); err != nil {
		return nil, &domain.PersistenceError{Op: "create portfolio", Err: err}
	}
	return pf, nil
}

// DefaultRiskParameters are the limits applied to portfolios provisioned
// at signup. Owners can create portfolios with their own limits later.
func DefaultRiskParameters() (domain.RiskParameters, error) {
	return domain.NewRiskParameters(decimal.NewFromInt(10000), decimal.NewFromInt(10), decimal.RequireFromString("0.1"))
}

// ProvisionDefaultPortfolio creates the signup portfolio for a new user.
func (s *Service) ProvisionDefaultPortfolio(ctx context.Context, userID string) (string, error) {
	risk, err := DefaultRiskParameters()
	if err != nil {
		return "", err
	}
	pf, err := s.CreatePortfolio(ctx, userID, risk)
	if err != nil {
		return "", err
	}
	return pf.ID, nil
}

func (s *Service) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	return s.repo.GetTrade(ctx, id)
}

func (s *Service) ListTrades(ctx context.Context, portfolioID string, limit int) ([]*domain.Trade, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListTrades(ctx, portfolioID, limit)
}

func (s *Service) GetPortfolio(ctx context.Context, id string) (*domain.Portfolio, error) {
	return s.repo.GetPortfolio(ctx, id)
}
