package custody

import (
	"LendLedger/internal/lending"

	"github.com/google/uuid"
)

// BatchGenerator builds the transfer batch settling one ledger action.
type BatchGenerator struct {
	Ref       string
	Sequence  int64
	Timestamp int64
}

func (g BatchGenerator) batch(transfers ...Transfer) *Batch {
	b := &Batch{
		BatchID:   uuid.New(),
		Ref:       g.Ref,
		Sequence:  g.Sequence,
		Timestamp: g.Timestamp,
		Transfers: transfers,
	}
	for i := range b.Transfers {
		t := &b.Transfers[i]
		t.ID = uuid.New()
		t.BatchID = b.BatchID
		t.Ref = g.Ref
		t.Sequence = g.Sequence
		t.Timestamp = g.Timestamp
	}
	return b
}

// walletToTreasury is signed by the owner.
func walletToTreasury(owner uuid.UUID, asset lending.AssetID, amount uint64, kind TransferKind) Transfer {
	return Transfer{
		From:      NewWalletKey(owner, asset),
		To:        NewTreasuryKey(asset),
		Asset:     asset,
		Amount:    amount,
		Kind:      kind,
		Authority: owner,
	}
}

// treasuryToWallet is signed by the bank's custody authority.
func treasuryToWallet(owner uuid.UUID, asset lending.AssetID, amount uint64, kind TransferKind) Transfer {
	return Transfer{
		From:      NewTreasuryKey(asset),
		To:        NewWalletKey(owner, asset),
		Asset:     asset,
		Amount:    amount,
		Kind:      kind,
		Authority: TreasuryAuthority(asset),
	}
}

// Deposit moves wallet -> treasury.
func (g BatchGenerator) Deposit(owner uuid.UUID, asset lending.AssetID, amount uint64) *Batch {
	return g.batch(walletToTreasury(owner, asset, amount, KindDeposit))
}

// Withdraw moves treasury -> wallet.
func (g BatchGenerator) Withdraw(owner uuid.UUID, asset lending.AssetID, amount uint64) *Batch {
	return g.batch(treasuryToWallet(owner, asset, amount, KindWithdraw))
}

// Borrow moves treasury -> wallet.
func (g BatchGenerator) Borrow(owner uuid.UUID, asset lending.AssetID, amount uint64) *Batch {
	return g.batch(treasuryToWallet(owner, asset, amount, KindBorrow))
}

// Repay moves wallet -> treasury.
func (g BatchGenerator) Repay(owner uuid.UUID, asset lending.AssetID, amount uint64) *Batch {
	return g.batch(walletToTreasury(owner, asset, amount, KindRepay))
}

// Liquidation is two legs: the liquidator pays repay of the debt asset into
// its treasury, then the collateral treasury pays seize to the liquidator.
func (g BatchGenerator) Liquidation(
	liquidator uuid.UUID,
	debtAsset lending.AssetID,
	repay uint64,
	collateralAsset lending.AssetID,
	seize uint64,
) *Batch {
	return g.batch(
		walletToTreasury(liquidator, debtAsset, repay, KindLiquidationRepay),
		treasuryToWallet(liquidator, collateralAsset, seize, KindLiquidationSeize),
	)
}
