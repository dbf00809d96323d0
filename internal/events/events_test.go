package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/domain"
)

func executedTrade(t *testing.T) *domain.Trade {
	t.Helper()
	asset, err := domain.NewAsset("BTC-USD", domain.AssetCategoryCrypto)
	require.NoError(t, err)
	amount, err := domain.NewMoneyFromString("1000", "USD")
	require.NoError(t, err)
	tr, err := domain.NewTrade("pf-1", "req-1", asset, domain.DirectionLong, amount)
	require.NoError(t, err)
	entry, err := domain.NewMoneyFromString("50000", "USD")
	require.NoError(t, err)
	require.NoError(t, tr.MarkExecuted("ex-1", entry, time.Now()))
	return tr
}

func TestTradeExecutedRoundTrip(t *testing.T) {
	tr := executedTrade(t)
	env, err := NewTradeExecuted(tr)
	require.NoError(t, err)
	assert.Equal(t, tr.ID, env.AggregateID)
	assert.NotEmpty(t, env.EventID)

	raw, err := Encode(env)
	require.NoError(t, err)
	decoded, payload, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeTradeExecutedV1, decoded.EventType)

	p, ok := payload.(TradeExecutedV1)
	require.True(t, ok)
	assert.Equal(t, tr.ID, p.TradeID)
	assert.Equal(t, "BTC-USD", p.Asset)
	assert.Equal(t, "long", p.Direction)
	assert.Equal(t, "1000", p.Amount)
	assert.Equal(t, "50000", p.EntryPrice)
	assert.Equal(t, "USD", p.Currency)
}

func TestTradeExecutedRequiresEntryPrice(t *testing.T) {
	asset, err := domain.NewAsset("BTC-USD", domain.AssetCategoryCrypto)
	require.NoError(t, err)
	amount, err := domain.NewMoneyFromString("1000", "USD")
	require.NoError(t, err)
	tr, err := domain.NewTrade("pf-1", "req-1", asset, domain.DirectionLong, amount)
	require.NoError(t, err)

	_, err = NewTradeExecuted(tr)
	assert.Error(t, err)
}

func TestPositionUpdatedRoundTrip(t *testing.T) {
	tr := executedTrade(t)
	asset, _ := domain.NewAsset("BTC-USD", domain.AssetCategoryCrypto)
	pos := domain.NewPosition("pf-1", asset, "USD")

	env, err := NewPositionUpdated(tr, pos)
	require.NoError(t, err)
	assert.Equal(t, tr.ID, env.AggregateID, "position events share the trade's aggregate id")

	raw, err := Encode(env)
	require.NoError(t, err)
	_, payload, err := Decode(raw)
	require.NoError(t, err)
	p, ok := payload.(PositionUpdatedV1)
	require.True(t, ok)
	assert.Equal(t, "pf-1", p.PortfolioID)
	assert.Equal(t, "0", p.NetSize)
}

func TestTradeFailedRoundTrip(t *testing.T) {
	tr := executedTrade(t)
	require.NoError(t, tr.MarkFailed("settlement timeout"))

	env, err := NewTradeFailed(tr, time.Now())
	require.NoError(t, err)
	raw, err := Encode(env)
	require.NoError(t, err)
	_, payload, err := Decode(raw)
	require.NoError(t, err)
	p, ok := payload.(TradeFailedV1)
	require.True(t, ok)
	assert.Equal(t, "settlement timeout", p.Reason)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	env := Envelope{
		EventType:   Type("trade_executed.v9"),
		EventID:     "e-1",
		AggregateID: "a-1",
		OccurredAt:  time.Now().UTC(),
		Payload:     json.RawMessage(`{}`),
	}
	raw, err := Encode(env)
	require.NoError(t, err)

	_, _, err = Decode(raw)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "trades.trade_executed.v1", Topic(TypeTradeExecutedV1))
}
