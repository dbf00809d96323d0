package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usd(t *testing.T, amount string) Money {
	t.Helper()
	m, err := NewMoneyFromString(amount, "USD")
	require.NoError(t, err)
	return m
}

func TestNewMoneyRejectsBadCurrency(t *testing.T) {
	for _, code := range []string{"", "usd", "US", "USDT", "U$D"} {
		_, err := NewMoney(decimal.NewFromInt(1), code)
		assert.Error(t, err, "currency %q", code)
		assert.True(t, IsValidation(err))
	}
}

func TestMoneyAddSub(t *testing.T) {
	a := usd(t, "10.10")
	b := usd(t, "0.90")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "11 USD", sum.String())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, "9.2 USD", diff.String())
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	a := usd(t, "1")
	b, err := NewMoneyFromString("1", "EUR")
	require.NoError(t, err)

	_, err = a.Add(b)
	assert.True(t, IsValidation(err))
	_, err = a.Sub(b)
	assert.True(t, IsValidation(err))
	_, err = a.Cmp(b)
	assert.True(t, IsValidation(err))
}

func TestMoneyDecimalExactness(t *testing.T) {
	// 0.1 + 0.2 must be exactly 0.3, which float64 cannot do.
	sum, err := usd(t, "0.1").Add(usd(t, "0.2"))
	require.NoError(t, err)
	assert.True(t, sum.Equal(usd(t, "0.3")))
}

func TestMoneyDivByZero(t *testing.T) {
	_, err := usd(t, "5").DivDecimal(decimal.Zero)
	assert.True(t, IsValidation(err))
}

func TestMoneyImmutability(t *testing.T) {
	a := usd(t, "5")
	_ = a.Neg()
	_, _ = a.Add(usd(t, "1"))
	assert.Equal(t, "5 USD", a.String())
}
