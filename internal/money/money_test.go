package money

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"bizledger/internal/apperrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		minor    int64
		wantErr  bool
	}{
		{name: "two decimals", amount: "163.29", currency: USD, minor: 16329},
		{name: "integer", amount: "100", currency: EUR, minor: 10000},
		{name: "half cent rounds up", amount: "0.005", currency: USD, minor: 1},
		{name: "below half rounds down", amount: "12.7949", currency: USD, minor: 1279},
		{name: "zero exponent currency", amount: "1500", currency: JPY, minor: 1500},
		{name: "lowercase currency", amount: "1.00", currency: "usd", minor: 100},
		{name: "not a number", amount: "abc", currency: USD, wantErr: true},
		{name: "unsupported currency", amount: "1", currency: "XXX", wantErr: true},
		{name: "empty currency", amount: "1", currency: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse(tt.amount, tt.currency)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.minor, m.Minor())
		})
	}
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "$163.29", FromMinor(16329, USD).String())
	assert.Equal(t, "$0.00", Zero(USD).String())
	assert.Equal(t, "-$5.10", FromMinor(-510, USD).String())
	assert.Equal(t, "¥1500", FromMinor(1500, JPY).String())
	assert.Equal(t, "10.00 SEK", FromMinor(1000, "SEK").String())
}

func TestMoney_Arithmetic(t *testing.T) {
	a := FromMinor(10000, USD)
	b := FromMinor(6329, USD)
	eur := FromMinor(100, EUR)

	t.Run("add", func(t *testing.T) {
		sum, err := a.Add(b)
		require.NoError(t, err)
		assert.Equal(t, int64(16329), sum.Minor())
	})

	t.Run("subtract may go negative", func(t *testing.T) {
		diff, err := b.Sub(a)
		require.NoError(t, err)
		assert.Equal(t, int64(-3671), diff.Minor())
		assert.True(t, diff.IsNegative())
		assert.True(t, diff.ClampZero().IsZero())
	})

	t.Run("currency mismatch", func(t *testing.T) {
		_, err := a.Add(eur)
		assert.True(t, errors.Is(err, apperrors.ErrCurrencyMismatch))

		_, err = a.Sub(eur)
		assert.True(t, errors.Is(err, apperrors.ErrCurrencyMismatch))

		_, err = a.Compare(eur)
		assert.True(t, errors.Is(err, apperrors.ErrCurrencyMismatch))
	})

	t.Run("compare", func(t *testing.T) {
		c, err := a.Compare(b)
		require.NoError(t, err)
		assert.Equal(t, 1, c)
		c, err = b.Compare(a)
		require.NoError(t, err)
		assert.Equal(t, -1, c)
		c, err = a.Compare(FromMinor(10000, USD))
		require.NoError(t, err)
		assert.Equal(t, 0, c)
	})

	t.Run("sum", func(t *testing.T) {
		total, err := Sum(USD, a, b)
		require.NoError(t, err)
		assert.Equal(t, int64(16329), total.Minor())

		empty, err := Sum(USD)
		require.NoError(t, err)
		assert.True(t, empty.IsZero())

		_, err = Sum(USD, a, eur)
		assert.Error(t, err)
	})
}

func TestMoney_PercentOf(t *testing.T) {
	tests := []struct {
		name  string
		minor int64
		rate  string
		want  int64
	}{
		{name: "sales tax", minor: 15050, rate: "8.5", want: 1279},
		{name: "exact half rounds up", minor: 50, rate: "1", want: 1},
		{name: "zero rate", minor: 15050, rate: "0", want: 0},
		{name: "full rate", minor: 15050, rate: "100", want: 15050},
		{name: "fractional rate", minor: 9999, rate: "7.125", want: 712},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromMinor(tt.minor, USD).PercentOf(decimal.RequireFromString(tt.rate))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Minor())
			assert.Equal(t, USD, got.Currency())
		})
	}
}

func TestMoney_JSON(t *testing.T) {
	m := FromMinor(16329, USD)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"163.29","currency":"USD"}`, string(data))

	var decoded Money
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Equal(m))

	assert.Error(t, json.Unmarshal([]byte(`{"amount":"x","currency":"USD"}`), &decoded))
}

func TestFromMinor_PanicsOnBadCurrency(t *testing.T) {
	assert.Panics(t, func() { FromMinor(1, "??") })
}

func TestMinMax(t *testing.T) {
	a, b := FromMinor(100, USD), FromMinor(250, USD)

	lo, err := Min(a, b)
	require.NoError(t, err)
	assert.True(t, lo.Equal(a))

	hi, err := Max(a, b)
	require.NoError(t, err)
	assert.True(t, hi.Equal(b))

	_, err = Min(a, FromMinor(1, EUR))
	assert.ErrorIs(t, err, apperrors.ErrCurrencyMismatch)
}

func TestMoney_Overflow(t *testing.T) {
	maxUSD := FromMinor(math.MaxInt64, USD)
	minUSD := FromMinor(math.MinInt64, USD)
	one := FromMinor(1, USD)

	_, err := maxUSD.Add(one)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)

	_, err = minUSD.Sub(one)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)

	_, err = one.Sub(minUSD)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)

	_, err = Sum(USD, maxUSD, maxUSD)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)

	edge, err := maxUSD.Sub(one)
	require.NoError(t, err)
	back, err := edge.Add(one)
	require.NoError(t, err)
	assert.True(t, back.Equal(maxUSD))

	_, err = maxUSD.PercentOf(decimal.NewFromInt(101))
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)

	full, err := maxUSD.PercentOf(decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, full.Equal(maxUSD))
}

func TestParseExact(t *testing.T) {
	m, err := ParseExact("100.00", USD)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), m.Minor())

	m, err = ParseExact("100.010", USD)
	require.NoError(t, err)
	assert.Equal(t, int64(10001), m.Minor())

	_, err = ParseExact("100.005", USD)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)

	_, err = ParseExact("12.5", JPY)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)

	var decoded Money
	err = json.Unmarshal([]byte(`{"amount":"100.005","currency":"USD"}`), &decoded)
	require.Error(t, err)
	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.KindInvalidAmount, appErr.Kind)
}
