package domain

import (
	"github.com/shopspring/decimal"
)

// Money is an immutable amount in a single currency. All arithmetic uses
// exact decimal math; binary floating point corrupts financial values over
// compounding operations and is not accepted anywhere in this package.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// NewMoney builds a Money value, rejecting malformed currency codes.
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	if !validCurrency(currency) {
		return Money{}, validationErrorf("money.currency_code", "currency must be a 3-letter uppercase code, got %q", currency)
	}
	return Money{amount: amount, currency: currency}, nil
}

// NewMoneyFromString parses the decimal representation of amount.
func NewMoneyFromString(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, validationErrorf("money.amount", "invalid amount %q", amount)
	}
	return NewMoney(d, currency)
}

// ZeroMoney returns zero in the given currency. The currency is assumed to
// come from an already-validated Money value.
func ZeroMoney(currency string) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

func (m Money) Amount() decimal.Decimal { return m.amount }

func (m Money) Currency() string { return m.currency }

func (m Money) IsZero() bool { return m.amount.IsZero() }

func (m Money) IsPositive() bool { return m.amount.GreaterThan(decimal.Zero) }

func (m Money) IsNegative() bool { return m.amount.LessThan(decimal.Zero) }

// Add returns m + o. Both operands must share a currency.
func (m Money) Add(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(o.amount), currency: m.currency}, nil
}

// Sub returns m - o. Both operands must share a currency.
func (m Money) Sub(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Sub(o.amount), currency: m.currency}, nil
}

// MulDecimal scales the amount by a dimensionless factor.
func (m Money) MulDecimal(d decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(d), currency: m.currency}
}

// DivDecimal divides the amount by a dimensionless divisor.
func (m Money) DivDecimal(d decimal.Decimal) (Money, error) {
	if d.IsZero() {
		return Money{}, validationErrorf("money.divisor", "division by zero")
	}
	return Money{amount: m.amount.Div(d), currency: m.currency}, nil
}

// Neg returns the amount with its sign flipped.
func (m Money) Neg() Money {
	return Money{amount: m.amount.Neg(), currency: m.currency}
}

// Cmp compares two amounts of the same currency: -1 if m < o, 0 if equal,
// +1 if m > o.
func (m Money) Cmp(o Money) (int, error) {
	if err := m.sameCurrency(o); err != nil {
		return 0, err
	}
	return m.amount.Cmp(o.amount), nil
}

// Equal reports value equality: same currency and numerically equal amount.
func (m Money) Equal(o Money) bool {
	return m.currency == o.currency && m.amount.Equal(o.amount)
}

func (m Money) String() string {
	return m.amount.String() + " " + m.currency
}

func (m Money) sameCurrency(o Money) error {
	if m.currency != o.currency {
		return validationErrorf("money.same_currency", "%s vs %s", m.currency, o.currency)
	}
	return nil
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}
