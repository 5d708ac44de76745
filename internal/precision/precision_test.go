package precision

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestStepPrecision(t *testing.T) {
	cases := []struct {
		step string
		want int32
	}{
		{"0.00000001", 8},
		{"0.001", 3},
		{"0.00100000", 3},
		{"0.01", 2},
		{"0.1", 1},
		{"0.25", 1},
		{"1", 0},
		{"1.00000000", 0},
		{"10", -1},
		{"100", -2},
	}

	for _, tc := range cases {
		got, err := StepPrecision(d(tc.step))
		require.NoError(t, err, tc.step)
		assert.Equal(t, tc.want, got, "step %s", tc.step)
	}
}

func TestStepPrecisionRejectsNonPositive(t *testing.T) {
	_, err := StepPrecision(decimal.Zero)
	assert.Error(t, err)

	_, err = StepPrecision(d("-0.01"))
	assert.Error(t, err)
}

func TestRoundDown(t *testing.T) {
	cases := []struct {
		value, step, want string
	}{
		{"123.456789", "0.001", "123.456"},
		{"123.456789", "0.01", "123.45"},
		{"123.456789", "1", "123"},
		{"123.456789", "10", "120"},
		{"0.00001234", "0.00000001", "0.00001234"},
		{"99.999", "0.1", "99.9"},
		{"0.0549", "0.0001", "0.0549"},
	}

	for _, tc := range cases {
		got, err := RoundDown(d(tc.value), d(tc.step))
		require.NoError(t, err)
		assert.True(t, d(tc.want).Equal(got), "RoundDown(%s, %s) = %s, want %s",
			tc.value, tc.step, got, tc.want)
	}
}

// Rounding must never round up, the result must sit on the step grid, and
// the discarded remainder must be smaller than one increment.
func TestRoundDownProperties(t *testing.T) {
	steps := []string{"0.00000001", "0.0001", "0.001", "0.01", "0.1", "1", "10"}
	values := []string{"0.000123", "1.23456789", "42", "99.99999999", "1234.5678", "0.1"}

	for _, s := range steps {
		step := d(s)
		prec, err := StepPrecision(step)
		require.NoError(t, err)
		increment := decimal.New(1, -prec)

		for _, v := range values {
			value := d(v)
			r, err := RoundDown(value, step)
			require.NoError(t, err)

			assert.True(t, r.LessThanOrEqual(value), "r=%s > v=%s (step %s)", r, value, s)
			assert.True(t, r.Mod(increment).IsZero(), "r=%s not a multiple of %s", r, increment)
			assert.True(t, value.Sub(r).LessThan(increment), "v-r=%s >= %s", value.Sub(r), increment)
		}
	}
}

func TestParseStep(t *testing.T) {
	step, err := ParseStep("0.00100000")
	require.NoError(t, err)
	assert.True(t, step.Equal(d("0.001")))

	_, err = ParseStep("not-a-number")
	assert.Error(t, err)
}
