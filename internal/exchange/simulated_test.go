package exchange

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedFillsNearBase(t *testing.T) {
	ex := NewSimulated(map[string]decimal.Decimal{"BTC-USD": decimal.NewFromInt(50000)})
	conf, err := ex.SubmitOrder(context.Background(), OrderRequest{
		ClientOrderID: "c1", Symbol: "BTC-USD", Direction: "long",
		Amount: decimal.NewFromInt(100), Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "sim-c1", conf.ExchangeOrderID)

	// Within half a percent of the seeded base.
	lo := decimal.RequireFromString("49750")
	hi := decimal.RequireFromString("50250")
	assert.True(t, conf.FillPrice.GreaterThanOrEqual(lo) && conf.FillPrice.LessThanOrEqual(hi),
		"fill %s outside band", conf.FillPrice)
}

func TestSimulatedResubmitReturnsOriginalFill(t *testing.T) {
	ex := NewSimulated(map[string]decimal.Decimal{"BTC-USD": decimal.NewFromInt(50000)})
	req := OrderRequest{
		ClientOrderID: "c1", Symbol: "BTC-USD", Direction: "long",
		Amount: decimal.NewFromInt(100), Currency: "USD",
	}
	first, err := ex.SubmitOrder(context.Background(), req)
	require.NoError(t, err)
	second, err := ex.SubmitOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSimulatedRejections(t *testing.T) {
	ex := NewSimulated(nil)
	ex.RejectUnknown = true

	_, err := ex.SubmitOrder(context.Background(), OrderRequest{
		ClientOrderID: "c1", Symbol: "NOPE", Amount: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, ErrRejected)

	_, err = ex.SubmitOrder(context.Background(), OrderRequest{
		ClientOrderID: "c2", Symbol: "BTC-USD", Amount: decimal.Zero,
	})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestDisabledAlwaysUnavailable(t *testing.T) {
	_, err := NewDisabled().SubmitOrder(context.Background(), OrderRequest{ClientOrderID: "c1"})
	assert.ErrorIs(t, err, ErrUnavailable)
}
