package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRisk(t *testing.T) RiskParameters {
	t.Helper()
	risk, err := NewRiskParameters(decimal.NewFromInt(10000), decimal.NewFromInt(10), decimal.RequireFromString("0.1"))
	require.NoError(t, err)
	return risk
}

func testPortfolio(t *testing.T) *Portfolio {
	t.Helper()
	pf, err := NewPortfolio("pf-1", "user-1", testRisk(t))
	require.NoError(t, err)
	return pf
}

func TestNewRiskParametersValidation(t *testing.T) {
	_, err := NewRiskParameters(decimal.Zero, decimal.NewFromInt(10), decimal.Zero)
	assert.True(t, IsValidation(err))

	_, err = NewRiskParameters(decimal.NewFromInt(1), decimal.RequireFromString("0.5"), decimal.Zero)
	assert.True(t, IsValidation(err))

	_, err = NewRiskParameters(decimal.NewFromInt(1), decimal.NewFromInt(1), decimal.RequireFromString("1.5"))
	assert.True(t, IsValidation(err))
}

func TestCheckRiskLeverage(t *testing.T) {
	pf := testPortfolio(t)
	asset, _ := NewAsset("BTC-USD", AssetCategoryCrypto)

	err := pf.CheckRisk(asset, DirectionLong, usd(t, "100"), decimal.NewFromInt(11))
	require.True(t, IsRiskLimit(err))
	var rle *RiskLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "max_leverage", rle.Limit)
}

func TestCheckRiskPositionSizeCountsExisting(t *testing.T) {
	pf := testPortfolio(t)
	asset, _ := NewAsset("BTC-USD", AssetCategoryCrypto)

	// Fresh portfolio: a 10000 trade is exactly at the limit.
	assert.NoError(t, pf.CheckRisk(asset, DirectionLong, usd(t, "10000"), decimal.NewFromInt(1)))

	tr, err := NewTrade(pf.ID, "req-1", asset, DirectionLong, usd(t, "9000"))
	require.NoError(t, err)
	require.NoError(t, tr.MarkExecuted("ex", usd(t, "50000"), time.Now()))
	_, _, err = pf.ApplyTrade(tr)
	require.NoError(t, err)

	// Another 2000 long would breach; refused, not clamped.
	err = pf.CheckRisk(asset, DirectionLong, usd(t, "2000"), decimal.NewFromInt(1))
	require.True(t, IsRiskLimit(err))
	var rle *RiskLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "max_position_size", rle.Limit)

	// A short reduces net exposure and passes.
	assert.NoError(t, pf.CheckRisk(asset, DirectionShort, usd(t, "2000"), decimal.NewFromInt(1)))
}

func TestCheckRiskShortSideAbsolute(t *testing.T) {
	pf := testPortfolio(t)
	asset, _ := NewAsset("BTC-USD", AssetCategoryCrypto)

	// Net -10001 breaches on absolute size.
	err := pf.CheckRisk(asset, DirectionShort, usd(t, "10001"), decimal.NewFromInt(1))
	assert.True(t, IsRiskLimit(err))
}

func TestApplyTradeOwnership(t *testing.T) {
	pf := testPortfolio(t)
	asset, _ := NewAsset("BTC-USD", AssetCategoryCrypto)
	tr, err := NewTrade("other-portfolio", "req-1", asset, DirectionLong, usd(t, "100"))
	require.NoError(t, err)
	require.NoError(t, tr.MarkExecuted("ex", usd(t, "50000"), time.Now()))

	_, _, err = pf.ApplyTrade(tr)
	assert.True(t, IsValidation(err))
}

func TestApplyTradeCreatesAndReportsChange(t *testing.T) {
	pf := testPortfolio(t)
	asset, _ := NewAsset("BTC-USD", AssetCategoryCrypto)
	tr, err := NewTrade(pf.ID, "req-1", asset, DirectionLong, usd(t, "100"))
	require.NoError(t, err)
	require.NoError(t, tr.MarkExecuted("ex", usd(t, "50000"), time.Now()))

	pos, changed, err := pf.ApplyTrade(tr)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "100", pos.NetSize.String())

	got, ok := pf.Position("BTC-USD")
	require.True(t, ok)
	assert.Same(t, pos, got)
}

func TestRestorePortfolioRejectsDuplicatePositions(t *testing.T) {
	asset, _ := NewAsset("BTC-USD", AssetCategoryCrypto)
	p1 := NewPosition("pf-1", asset, "USD")
	p2 := NewPosition("pf-1", asset, "USD")

	_, err := RestorePortfolio("pf-1", "user-1", testRisk(t), []*Position{p1, p2})
	assert.True(t, IsValidation(err))
}

func TestPositionsSorted(t *testing.T) {
	btc, _ := NewAsset("BTC-USD", AssetCategoryCrypto)
	eur, _ := NewAsset("EUR-USD", AssetCategoryForex)
	aapl, _ := NewAsset("AAPL", AssetCategoryIndex)
	pf, err := RestorePortfolio("pf-1", "user-1", testRisk(t), []*Position{
		NewPosition("pf-1", eur, "USD"),
		NewPosition("pf-1", btc, "USD"),
		NewPosition("pf-1", aapl, "USD"),
	})
	require.NoError(t, err)

	var symbols []string
	for _, p := range pf.Positions() {
		symbols = append(symbols, p.Asset.Symbol)
	}
	assert.Equal(t, []string{"AAPL", "BTC-USD", "EUR-USD"}, symbols)
}
