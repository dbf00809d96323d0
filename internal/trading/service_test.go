package trading

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
	"tradecore/internal/events"
	"tradecore/internal/exchange"
	"tradecore/internal/obs"
	"tradecore/internal/outbox"
)

type stubExchange struct {
	fillPrice decimal.Decimal
	rejectErr error
	downErr   error
	calls     int
	fills     map[string]exchange.Confirmation
}

func newStubExchange(fillPrice string) *stubExchange {
	return &stubExchange{
		fillPrice: decimal.RequireFromString(fillPrice),
		fills:     make(map[string]exchange.Confirmation),
	}
}

func (s *stubExchange) SubmitOrder(_ context.Context, req exchange.OrderRequest) (exchange.Confirmation, error) {
	s.calls++
	if s.downErr != nil {
		return exchange.Confirmation{}, s.downErr
	}
	if s.rejectErr != nil {
		return exchange.Confirmation{}, s.rejectErr
	}
	if c, ok := s.fills[req.ClientOrderID]; ok {
		return c, nil
	}
	c := exchange.Confirmation{
		ExchangeOrderID: fmt.Sprintf("ex-%d", s.calls),
		FillPrice:       s.fillPrice,
		FilledAt:        time.Now().UTC(),
	}
	s.fills[req.ClientOrderID] = c
	return c, nil
}

type fixture struct {
	svc    *Service
	repo   *MemoryRepository
	outbox *outbox.Memory
	ex     *stubExchange
	pf     *domain.Portfolio
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ob := outbox.NewMemory()
	repo := NewMemoryRepository(ob)
	ex := newStubExchange("50000")
	svc := NewService(repo, ex, zerolog.Nop(), obs.NewMetrics())

	risk, err := domain.NewRiskParameters(decimal.NewFromInt(10000), decimal.NewFromInt(10), decimal.RequireFromString("0.1"))
	require.NoError(t, err)
	pf, err := svc.CreatePortfolio(context.Background(), "user-1", risk)
	require.NoError(t, err)
	return &fixture{svc: svc, repo: repo, outbox: ob, ex: ex, pf: pf}
}

func (f *fixture) request(clientRequestID, amount string) ExecuteTradeRequest {
	return ExecuteTradeRequest{
		PortfolioID:     f.pf.ID,
		ClientRequestID: clientRequestID,
		Symbol:          "BTC-USD",
		Category:        domain.AssetCategoryCrypto,
		Direction:       domain.DirectionLong,
		Amount:          decimal.RequireFromString(amount),
		Currency:        "USD",
		Leverage:        decimal.NewFromInt(2),
	}
}

func (f *fixture) pendingOutbox(t *testing.T) []outbox.Event {
	t.Helper()
	got, err := f.outbox.Claim(context.Background(), "t", 100, time.Minute)
	require.NoError(t, err)
	return got
}

func TestExecuteTradeHappyPath(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.ExecuteTrade(context.Background(), f.request("req-1", "1000"))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, domain.TradeStatusExecuted, res.Trade.Status)
	entry, ok := res.Trade.EntryPrice()
	require.True(t, ok)
	assert.Equal(t, "50000 USD", entry.String())

	// Position updated through the aggregate.
	pf, err := f.svc.GetPortfolio(context.Background(), f.pf.ID)
	require.NoError(t, err)
	pos, ok := pf.Position("BTC-USD")
	require.True(t, ok)
	assert.Equal(t, "1000", pos.NetSize.String())

	// Both lifecycle events are pending in the outbox, same aggregate.
	rows := f.pendingOutbox(t)
	require.Len(t, rows, 2)
	assert.Equal(t, string(events.TypeTradeExecutedV1), rows[0].EventType)
	assert.Equal(t, string(events.TypePositionUpdatedV1), rows[1].EventType)
	assert.Equal(t, res.Trade.ID, rows[0].AggregateID)
	assert.Equal(t, res.Trade.ID, rows[1].AggregateID)
}

func TestExecuteTradeIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	first, err := f.svc.ExecuteTrade(context.Background(), f.request("req-1", "1000"))
	require.NoError(t, err)

	second, err := f.svc.ExecuteTrade(context.Background(), f.request("req-1", "1000"))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Trade.ID, second.Trade.ID)
	assert.Equal(t, 1, f.ex.calls, "replay must not resubmit to the exchange")

	// No second trade and no extra events.
	trades, err := f.svc.ListTrades(context.Background(), f.pf.ID, 50)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
	assert.Len(t, f.pendingOutbox(t), 2)
}

func TestExecuteTradeRiskRejection(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ExecuteTrade(context.Background(), f.request("req-1", "20000"))
	require.True(t, domain.IsRiskLimit(err))

	assert.Equal(t, 0, f.ex.calls, "risk check runs before exchange submission")
	trades, err := f.svc.ListTrades(context.Background(), f.pf.ID, 50)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Empty(t, f.pendingOutbox(t))
}

func TestExecuteTradeLeverageRejection(t *testing.T) {
	f := newFixture(t)
	req := f.request("req-1", "1000")
	req.Leverage = decimal.NewFromInt(50)
	_, err := f.svc.ExecuteTrade(context.Background(), req)
	assert.True(t, domain.IsRiskLimit(err))
}

func TestExecuteTradeExchangeRejection(t *testing.T) {
	f := newFixture(t)
	f.ex.rejectErr = fmt.Errorf("%w: insufficient venue liquidity", exchange.ErrRejected)

	res, err := f.svc.ExecuteTrade(context.Background(), f.request("req-1", "1000"))
	require.ErrorIs(t, err, exchange.ErrRejected)
	require.NotNil(t, res.Trade)
	assert.Equal(t, domain.TradeStatusFailed, res.Trade.Status)
	assert.Contains(t, res.Trade.FailureReason, "liquidity")

	// The failed trade is persisted for audit with zero outbox rows.
	trades, lerr := f.svc.ListTrades(context.Background(), f.pf.ID, 50)
	require.NoError(t, lerr)
	require.Len(t, trades, 1)
	assert.Empty(t, f.pendingOutbox(t))

	// Position untouched.
	pf, perr := f.svc.GetPortfolio(context.Background(), f.pf.ID)
	require.NoError(t, perr)
	_, ok := pf.Position("BTC-USD")
	assert.False(t, ok)
}

func TestExecuteTradeExchangeUnavailable(t *testing.T) {
	f := newFixture(t)
	f.ex.downErr = exchange.ErrUnavailable

	res, err := f.svc.ExecuteTrade(context.Background(), f.request("req-1", "1000"))
	require.ErrorIs(t, err, exchange.ErrUnavailable)
	require.NotNil(t, res.Trade)
	assert.Equal(t, domain.TradeStatusFailed, res.Trade.Status)

	// The failed attempt is audited with zero outbox rows, and the key is
	// still free: the retry with the same request id reaches the venue.
	trades, lerr := f.svc.ListTrades(context.Background(), f.pf.ID, 50)
	require.NoError(t, lerr)
	require.Len(t, trades, 1)
	assert.Empty(t, f.pendingOutbox(t))

	f.ex.downErr = nil
	retried, err := f.svc.ExecuteTrade(context.Background(), f.request("req-1", "1000"))
	require.NoError(t, err)
	assert.False(t, retried.Replayed)
	assert.Equal(t, domain.TradeStatusExecuted, retried.Trade.Status)
	assert.Equal(t, 2, f.ex.calls)
}

func TestResubmitAfterExchangeRejection(t *testing.T) {
	f := newFixture(t)
	f.ex.rejectErr = fmt.Errorf("%w: insufficient venue liquidity", exchange.ErrRejected)

	first, err := f.svc.ExecuteTrade(context.Background(), f.request("req-1", "1000"))
	require.ErrorIs(t, err, exchange.ErrRejected)
	require.Equal(t, domain.TradeStatusFailed, first.Trade.Status)

	// The rejection is an audit record, not a replay target: the same
	// request id resubmitted after the venue recovers executes fresh.
	f.ex.rejectErr = nil
	second, err := f.svc.ExecuteTrade(context.Background(), f.request("req-1", "1000"))
	require.NoError(t, err)
	assert.False(t, second.Replayed)
	assert.Equal(t, domain.TradeStatusExecuted, second.Trade.Status)
	assert.NotEqual(t, first.Trade.ID, second.Trade.ID)
	assert.Equal(t, 2, f.ex.calls)

	// Both rows survive for audit; only the executed one is replayable.
	trades, err := f.svc.ListTrades(context.Background(), f.pf.ID, 50)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
	third, err := f.svc.ExecuteTrade(context.Background(), f.request("req-1", "1000"))
	require.NoError(t, err)
	assert.True(t, third.Replayed)
	assert.Equal(t, second.Trade.ID, third.Trade.ID)
	assert.Equal(t, 2, f.ex.calls)
}

func TestSettlementFailureKeepsKeyConsumed(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.ExecuteTrade(context.Background(), f.request("req-1", "1000"))
	require.NoError(t, err)
	_, err = f.svc.FailTrade(context.Background(), res.Trade.ID, "settlement timeout")
	require.NoError(t, err)

	// A trade that executed and later failed did reach the venue; the
	// same request id replays it instead of executing again.
	replay, err := f.svc.ExecuteTrade(context.Background(), f.request("req-1", "1000"))
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, res.Trade.ID, replay.Trade.ID)
	assert.Equal(t, 1, f.ex.calls)
}

func TestExecuteTradeCommitFailureIsAtomic(t *testing.T) {
	f := newFixture(t)
	f.repo.FailCommit = errors.New("connection reset")

	_, err := f.svc.ExecuteTrade(context.Background(), f.request("req-1", "1000"))
	require.True(t, domain.IsPersistence(err))

	// All or nothing: no trade, no position, no outbox rows.
	trades, lerr := f.svc.ListTrades(context.Background(), f.pf.ID, 50)
	require.NoError(t, lerr)
	assert.Empty(t, trades)
	assert.Empty(t, f.pendingOutbox(t))

	// The retry succeeds and the exchange returns the original fill.
	res, err := f.svc.ExecuteTrade(context.Background(), f.request("req-1", "1000"))
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusExecuted, res.Trade.Status)
	assert.Len(t, f.pendingOutbox(t), 2)
}

func TestExecuteTradeValidation(t *testing.T) {
	f := newFixture(t)

	req := f.request("", "1000")
	_, err := f.svc.ExecuteTrade(context.Background(), req)
	assert.True(t, domain.IsValidation(err))

	req = f.request("req-1", "-5")
	_, err = f.svc.ExecuteTrade(context.Background(), req)
	assert.True(t, domain.IsValidation(err))

	req = f.request("req-2", "1000")
	req.Symbol = ""
	_, err = f.svc.ExecuteTrade(context.Background(), req)
	assert.True(t, domain.IsValidation(err))
}

func TestExecuteTradeUnknownPortfolio(t *testing.T) {
	f := newFixture(t)
	req := f.request("req-1", "1000")
	req.PortfolioID = "nope"
	_, err := f.svc.ExecuteTrade(context.Background(), req)
	assert.ErrorIs(t, err, ErrPortfolioNotFound)
}

func TestSettleTrade(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.ExecuteTrade(context.Background(), f.request("req-1", "1000"))
	require.NoError(t, err)

	settled, err := f.svc.SettleTrade(context.Background(), res.Trade.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusSettled, settled.Status)

	_, err = f.svc.SettleTrade(context.Background(), res.Trade.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// Terminal states never move: a settled trade cannot be failed.
	_, err = f.svc.FailTrade(context.Background(), res.Trade.ID, "late failure")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	got, err := f.svc.GetTrade(context.Background(), res.Trade.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusSettled, got.Status)
}

func TestProvisionDefaultPortfolio(t *testing.T) {
	f := newFixture(t)
	id, err := f.svc.ProvisionDefaultPortfolio(context.Background(), "user-2")
	require.NoError(t, err)

	pf, err := f.svc.GetPortfolio(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "user-2", pf.UserID)
	risk, err := DefaultRiskParameters()
	require.NoError(t, err)
	assert.True(t, pf.Risk.MaxPositionSize.Equal(risk.MaxPositionSize))
	assert.True(t, pf.Risk.MaxLeverage.Equal(risk.MaxLeverage))
}

func TestFailTradeEmitsEvent(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.ExecuteTrade(context.Background(), f.request("req-1", "1000"))
	require.NoError(t, err)

	failed, err := f.svc.FailTrade(context.Background(), res.Trade.ID, "settlement timeout")
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusFailed, failed.Status)

	rows := f.pendingOutbox(t)
	require.Len(t, rows, 3)
	assert.Equal(t, string(events.TypeTradeFailedV1), rows[2].EventType)
}

func TestSecondTradeAveragesPosition(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ExecuteTrade(context.Background(), f.request("req-1", "1000"))
	require.NoError(t, err)

	f.ex.fillPrice = decimal.RequireFromString("60000")
	_, err = f.svc.ExecuteTrade(context.Background(), f.request("req-2", "1000"))
	require.NoError(t, err)

	pf, err := f.svc.GetPortfolio(context.Background(), f.pf.ID)
	require.NoError(t, err)
	pos, ok := pf.Position("BTC-USD")
	require.True(t, ok)
	assert.Equal(t, "2000", pos.NetSize.String())
	assert.Equal(t, "55000 USD", pos.AvgEntryPrice.String())
}
