package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountRoundsHalfAwayFromZero(t *testing.T) {
	assert.True(t, Amount(decimal.RequireFromString("10.005")).Equal(decimal.RequireFromString("10.01")))
	assert.True(t, Amount(decimal.RequireFromString("10.004")).Equal(decimal.RequireFromString("10.00")))
	assert.True(t, Amount(decimal.RequireFromString("-10.005")).Equal(decimal.RequireFromString("-10.01")))
}

func TestRateKeepsFourPlaces(t *testing.T) {
	assert.Equal(t, "0.0200", Rate(decimal.RequireFromString("0.02")).StringFixed(RatePlaces))
	assert.True(t, Rate(decimal.RequireFromString("0.123456")).Equal(decimal.RequireFromString("0.1235")))
}

func TestParse(t *testing.T) {
	a, err := ParseAmount(" 8806200 ")
	require.NoError(t, err)
	assert.True(t, a.Equal(decimal.NewFromInt(8806200)))

	r, err := ParseRate("0.02")
	require.NoError(t, err)
	assert.True(t, r.Equal(decimal.RequireFromString("0.02")))

	_, err = ParseAmount("NaN")
	assert.Error(t, err)
	_, err = ParseRate("abc")
	assert.Error(t, err)
}

func TestInterest(t *testing.T) {
	got := Interest(decimal.NewFromInt(8806200), decimal.RequireFromString("0.02"))
	assert.True(t, got.Equal(decimal.NewFromInt(176124)), "got %s", got)

	got = Interest(decimal.RequireFromString("100.33"), decimal.RequireFromString("0.015"))
	assert.True(t, got.Equal(decimal.RequireFromString("1.50")), "got %s", got)
}

func TestSumAndMin(t *testing.T) {
	assert.True(t, Sum().Equal(decimal.Zero))
	assert.True(t, Sum(decimal.NewFromInt(1), decimal.NewFromInt(2)).Equal(decimal.NewFromInt(3)))
	assert.True(t, Min(decimal.NewFromInt(1), decimal.NewFromInt(2)).Equal(decimal.NewFromInt(1)))
	assert.True(t, IsPositive(decimal.NewFromInt(1)))
	assert.False(t, IsPositive(decimal.Zero))
}

func TestUnitsRoundTrip(t *testing.T) {
	a := decimal.RequireFromString("8806200.45")
	assert.Equal(t, int64(880620045), ToUnits(a, AmountPlaces))
	assert.True(t, FromUnits(880620045, AmountPlaces).Equal(a))

	r := decimal.RequireFromString("0.02")
	assert.Equal(t, int64(200), ToUnits(r, RatePlaces))
	assert.True(t, FromUnits(200, RatePlaces).Equal(r))
}
