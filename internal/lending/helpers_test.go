package lending_test

import (
	"LendLedger/internal/lending"
	fpmath "LendLedger/internal/math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	assetA lending.AssetID = "SOL"
	assetB lending.AssetID = "USDC"
	t0     int64           = 1_700_000_000
)

func params(threshold, bonus string) lending.BankParams {
	return lending.BankParams{
		LiquidationThreshold: fpmath.MustFraction(threshold),
		MaxLTV:               fpmath.MustFraction(threshold),
		LiquidationBonus:     fpmath.MustFraction(bonus),
	}.WithDefaults()
}

func newBank(t *testing.T, asset lending.AssetID, p lending.BankParams) *lending.Bank {
	t.Helper()
	require.NoError(t, lending.ValidateBankParams(p))
	return lending.NewBank(uuid.New(), asset, p, t0)
}

// market is a SOL-collateral / USDC-debt pair with one user position.
type market struct {
	coll *lending.Bank
	debt *lending.Bank
	pos  *lending.UserPosition

	collQuote lending.Quote
	debtQuote lending.Quote
}

func newMarket(t *testing.T, p lending.BankParams) *market {
	t.Helper()
	return &market{
		coll:      newBank(t, assetA, p),
		debt:      newBank(t, assetB, p),
		pos:       lending.NewUserPosition(uuid.New(), assetA, assetB, t0),
		collQuote: quote(assetA, 1, 0),
		debtQuote: quote(assetB, 1, 0),
	}
}

func (m *market) collLeg() lending.Leg {
	return lending.Leg{Bank: m.coll, Kind: lending.CollateralSlot, Quote: m.collQuote}
}

func (m *market) debtLeg() lending.Leg {
	return lending.Leg{Bank: m.debt, Kind: lending.DebtSlot, Quote: m.debtQuote}
}

func quote(asset lending.AssetID, price int64, expo int32) lending.Quote {
	return lending.Quote{Asset: asset, Price: price, Expo: expo, PublishedAt: t0}
}
