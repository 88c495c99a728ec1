package math_test

import (
	fpmath "LendLedger/internal/math"
	stdmath "math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccrue_ZeroElapsedIsNoop(t *testing.T) {
	got, err := fpmath.Accrue(12345, fpmath.MustFraction("0.001"), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), got)
}

func TestAccrue_NegativeElapsedFails(t *testing.T) {
	_, err := fpmath.Accrue(1000, fpmath.MustFraction("0.001"), -1)
	assert.ErrorIs(t, err, fpmath.ErrNegativeElapsed)
}

func TestAccrue_ZeroRate(t *testing.T) {
	got, err := fpmath.Accrue(1000, fpmath.Zero, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), got)
}

func TestAccrue_EulerNumber(t *testing.T) {
	// rate*elapsed = 1e-6 * 1e6 = 1, so the result is principal * e.
	got, err := fpmath.Accrue(1_000_000_000, fpmath.MustFraction("0.000001"), 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_718_281_828), got)
}

func TestAccrue_LargeExponentWithRangeReduction(t *testing.T) {
	// e^10 = 22026.46579480671651695790...
	got, err := fpmath.Accrue(1_000_000, fpmath.MustFraction("0.00001"), 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(22_026_465_794), got)
}

func TestAccrue_FivePercentForAYear(t *testing.T) {
	// 5% APR per second, one year: e^0.05 = 1.051271096376...
	rate := fpmath.MustFraction("0.000000001585489599") // ~0.05 / 31536000
	got, err := fpmath.Accrue(1_000_000_000, rate, fpmath.SecondsPerYear)
	require.NoError(t, err)
	assert.InDelta(t, 1_051_271_096, float64(got), 2)
}

func TestAccrue_Deterministic(t *testing.T) {
	rate := fpmath.MustFraction("0.0000000031")
	first, err := fpmath.Accrue(987_654_321, rate, 86_400*90)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := fpmath.Accrue(987_654_321, rate, 86_400*90)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestAccrue_MonotonicInElapsed(t *testing.T) {
	rate := fpmath.MustFraction("0.00000001")
	prev := uint64(0)
	for elapsed := int64(0); elapsed <= 10_000_000; elapsed += 250_000 {
		got, err := fpmath.Accrue(1_000_000, rate, elapsed)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, prev, "elapsed=%d", elapsed)
		prev = got
	}
}

func TestAccrue_OverflowNearDomainMax(t *testing.T) {
	_, err := fpmath.Accrue(stdmath.MaxUint64, fpmath.MustFraction("0.000000001"), 1000)
	assert.ErrorIs(t, err, fpmath.ErrOverflow)
}

func TestAccrue_HugeExponentOverflows(t *testing.T) {
	_, err := fpmath.Accrue(1, fpmath.One, 1000)
	assert.ErrorIs(t, err, fpmath.ErrOverflow)
}

func TestGrowthFactor_NeverBelowOne(t *testing.T) {
	one, err := fpmath.GrowthFactor(fpmath.Zero, 0)
	require.NoError(t, err)

	for _, elapsed := range []int64{1, 7, 3600, 86_400} {
		f, err := fpmath.GrowthFactor(fpmath.MustFraction("0.0000001"), elapsed)
		require.NoError(t, err)
		assert.True(t, !f.Lt(one), "elapsed=%d", elapsed)
	}
}
