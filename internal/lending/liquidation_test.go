package lending_test

import (
	"LendLedger/internal/lending"
	fpmath "LendLedger/internal/math"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// underwater deposits 1000 SOL at 1.0, borrows 800 USDC and then drops
// SOL to 0.9, leaving a health factor of 0.9.
func underwater(t *testing.T, bonus string) *market {
	t.Helper()
	m := newMarket(t, params("0.8", bonus))
	_, err := lending.Deposit(m.pos, m.collLeg(), 1000, t0)
	require.NoError(t, err)
	_, err = lending.Borrow(m.pos, m.debtLeg(), m.collLeg(), 800, t0)
	require.NoError(t, err)
	m.collQuote = quote(assetA, 90_000_000, -8)
	return m
}

func TestLiquidate_HalfCloseFactorScenario(t *testing.T) {
	m := underwater(t, "0")

	liq, err := lending.Liquidate(m.pos, m.collLeg(), m.debtLeg(), t0)
	require.NoError(t, err)
	assert.Equal(t, fpmath.MustFraction("0.9"), liq.Plan.HealthFactor)
	assert.Equal(t, uint64(400), liq.Plan.Repay)
	assert.Equal(t, uint64(444), liq.Plan.Seize) // 400 / 0.9
	assert.False(t, liq.Plan.Capped)

	assert.Equal(t, uint64(400), m.pos.Debt.BorrowedAmount)
	assert.Equal(t, uint64(556), m.pos.Collateral.DepositedAmount)
	assert.Equal(t, uint64(400), m.debt.TotalBorrowed)
	assert.Equal(t, uint64(556), m.coll.TotalDeposits)

	// 556 * 0.9 * 0.8 = 400.32 >= 400
	_, err = lending.Liquidate(m.pos, m.collLeg(), m.debtLeg(), t0)
	assert.ErrorIs(t, err, lending.ErrNotUnderCollateralized)
}

func TestLiquidate_BonusIncreasesSeize(t *testing.T) {
	m := underwater(t, "0.1")

	liq, err := lending.Liquidate(m.pos, m.collLeg(), m.debtLeg(), t0)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), liq.Plan.Repay)
	assert.Equal(t, uint64(488), liq.Plan.Seize) // 400 * 1.1 / 0.9
}

func TestLiquidate_SeizeCappedAtCollateralClaim(t *testing.T) {
	m := underwater(t, "0.1")
	m.collQuote = quote(assetA, 3, -1)

	liq, err := lending.Liquidate(m.pos, m.collLeg(), m.debtLeg(), t0)
	require.NoError(t, err)
	assert.True(t, liq.Plan.Capped)
	assert.Equal(t, uint64(1000), liq.Plan.Seize)
	// 300 / 1.1 = 272.7, rounded up against the liquidator.
	assert.Equal(t, uint64(273), liq.Plan.Repay)

	assert.Zero(t, m.pos.Collateral.DepositedShares)
	assert.Zero(t, m.coll.TotalDepositShares)
	assert.Zero(t, m.coll.TotalDeposits)
	assert.Equal(t, uint64(527), m.pos.Debt.BorrowedAmount)

	// Bad debt remains but no collateral is left to seize.
	_, err = lending.Liquidate(m.pos, m.collLeg(), m.debtLeg(), t0)
	assert.ErrorIs(t, err, lending.ErrNoDeposits)
}

func TestLiquidate_HealthyPositionRejected(t *testing.T) {
	m := newMarket(t, params("0.8", "0"))
	_, err := lending.Deposit(m.pos, m.collLeg(), 1000, t0)
	require.NoError(t, err)
	_, err = lending.Borrow(m.pos, m.debtLeg(), m.collLeg(), 800, t0)
	require.NoError(t, err)

	// Exactly at the threshold is still healthy.
	_, err = lending.Liquidate(m.pos, m.collLeg(), m.debtLeg(), t0)
	assert.ErrorIs(t, err, lending.ErrNotUnderCollateralized)
}

func TestLiquidate_NoBorrowsRejected(t *testing.T) {
	m := newMarket(t, params("0.8", "0"))
	_, err := lending.Deposit(m.pos, m.collLeg(), 1000, t0)
	require.NoError(t, err)

	_, err = lending.Liquidate(m.pos, m.collLeg(), m.debtLeg(), t0)
	assert.ErrorIs(t, err, lending.ErrNoOutstandingBorrows)
}

func TestLiquidate_SameSlotRejected(t *testing.T) {
	m := underwater(t, "0")
	_, err := lending.Liquidate(m.pos, m.debtLeg(), m.debtLeg(), t0)
	assert.ErrorIs(t, err, lending.ErrSameAsset)
}

// liquidate fails with NotUnderCollateralized iff C*t >= D.
func TestLiquidate_GatingIff(t *testing.T) {
	// SOL prices in 1e-4 units, from deep underwater to over-collateralized.
	for _, price := range []int64{1000, 5000, 8999, 9999, 10000, 10001, 12000} {
		t.Run(fmt.Sprintf("price=%d", price), func(t *testing.T) {
			m := newMarket(t, params("0.8", "0"))
			_, err := lending.Deposit(m.pos, m.collLeg(), 1000, t0)
			require.NoError(t, err)
			_, err = lending.Borrow(m.pos, m.debtLeg(), m.collLeg(), 800, t0)
			require.NoError(t, err)
			m.collQuote = quote(assetA, price, -4)

			// C*t >= D  <=>  1000 * price/1e4 * 0.8 >= 800  <=>  price >= 10000
			healthy := price >= 10000
			_, err = lending.Liquidate(m.pos, m.collLeg(), m.debtLeg(), t0)
			if healthy {
				assert.ErrorIs(t, err, lending.ErrNotUnderCollateralized)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPlanLiquidation_Pure(t *testing.T) {
	m := underwater(t, "0")
	before := *m.pos
	coll := lending.Exposure{Bank: m.coll, Slot: &m.pos.Collateral, Quote: m.collQuote}
	debt := lending.Exposure{Bank: m.debt, Slot: &m.pos.Debt, Quote: m.debtQuote}

	_, err := lending.PlanLiquidation(coll, debt)
	require.NoError(t, err)
	assert.Equal(t, before, *m.pos)
}
