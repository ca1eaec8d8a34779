package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddExact(t *testing.T) {
	a := MustFromString("100.250")
	b := MustFromString("0.750")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "101.000", sum.String())
}

func TestSubExact(t *testing.T) {
	a := MustFromString("0.600")
	b := MustFromString("0.400")

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.True(t, diff.Equal(MustFromString("0.200")))
}

func TestMulScaleIsSumOfOperandScales(t *testing.T) {
	price := MustFromString("100.00")  // scale 2
	qty := MustFromString("0.400")     // scale 3
	product, err := price.Mul(qty)
	require.NoError(t, err)
	_, scale := product.MantissaScale()
	assert.Equal(t, int32(5), scale)
	assert.True(t, product.Equal(MustFromString("40.00000")))
}

func TestCmpOrdering(t *testing.T) {
	assert.True(t, MustFromString("99.99").LessThan(MustFromString("100.00")))
	assert.True(t, MustFromString("100.01").GreaterThan(MustFromString("100.00")))
	assert.True(t, MustFromString("100.00").Equal(MustFromString("100.000")))
}

func TestDivisibleByTickSize(t *testing.T) {
	tick := MustFromString("0.01")
	assert.True(t, MustFromString("100.00").DivisibleBy(tick))
	assert.True(t, MustFromString("100.05").DivisibleBy(tick))
	assert.False(t, MustFromString("100.005").DivisibleBy(tick))
}

func TestPrecisionOverflowOnAdd(t *testing.T) {
	huge := MustFromString("99999999999999999999999999999999999999")
	_, err := huge.Add(MustFromString("1"))
	assert.ErrorIs(t, err, ErrPrecisionOverflow)
}

func TestRescaleHalfEven(t *testing.T) {
	// 0.125 rounds to 0.12 under half-even (tie -> even digit).
	v := MustFromString("0.125")
	assert.Equal(t, "0.12", v.Rescale(2, RoundHalfEven).String())

	// 0.135 rounds to 0.14 under half-even.
	v2 := MustFromString("0.135")
	assert.Equal(t, "0.14", v2.Rescale(2, RoundHalfEven).String())
}

func TestMantissaScaleRoundTrip(t *testing.T) {
	v := NewFromMantissaScale(10025, 2)
	assert.Equal(t, "100.25", v.String())
	mantissa, scale := v.MantissaScale()
	assert.Equal(t, int32(2), scale)
	assert.Equal(t, "10025", mantissa.String())
}

func TestJSONRoundTrip(t *testing.T) {
	v := MustFromString("42.50")
	b, err := v.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"42.50"`, string(b))

	var out Decimal
	require.NoError(t, out.UnmarshalJSON(b))
	assert.True(t, out.Equal(v))
}

func TestMinPicksLesser(t *testing.T) {
	a := MustFromString("1.000")
	b := MustFromString("0.600")
	assert.True(t, Min(a, b).Equal(b))
	assert.True(t, Min(b, a).Equal(b))
}
