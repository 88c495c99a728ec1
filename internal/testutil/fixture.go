package testutil

import (
	"LendLedger/internal/core"
	"LendLedger/internal/custody"
	"LendLedger/internal/event"
	"LendLedger/internal/lending"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/oracle"
	"LendLedger/internal/store"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

const (
	CollateralAsset lending.AssetID = "SOL"
	DebtAsset       lending.AssetID = "USDC"
)

// FixtureStart is the ledger time a fixture begins at.
var FixtureStart = time.Unix(1_700_000_000, 0).UTC()

// DefaultParams is threshold 0.8, max LTV 0.8, no bonus, close factor 0.5
// and no interest.
func DefaultParams() lending.BankParams {
	return lending.BankParams{
		LiquidationThreshold:   fpmath.MustFraction("0.8"),
		MaxLTV:                 fpmath.MustFraction("0.8"),
		LiquidationCloseFactor: fpmath.MustFraction("0.5"),
	}
}

// Fixture is an engine over the memory store, the in-process price feed
// and custody ledger, with both banks initialized and both assets priced
// at 1.0.
type Fixture struct {
	t       testing.TB
	Engine  *core.Engine
	Store   *store.Memory
	Feed    *oracle.Feed
	Custody *custody.Ledger
	Clock   *ManualClock
	// Persist receives every committed action. It is buffered; tests that
	// commit more than its capacity must drain it.
	Persist chan core.CoreOutput

	priceSeq map[lending.AssetID]int64
}

func NewFixture(t testing.TB, params lending.BankParams, opts ...core.Option) *Fixture {
	t.Helper()
	f := &Fixture{
		t:        t,
		Store:    store.NewMemory(),
		Clock:    NewManualClock(FixtureStart),
		Persist:  make(chan core.CoreOutput, 4096),
		priceSeq: make(map[lending.AssetID]int64),
	}
	f.Feed = oracle.NewFeed(f.Clock)
	f.Custody = custody.NewLedger(nil, f.Clock)

	cfg := core.Config{
		Assets:      [2]lending.AssetID{CollateralAsset, DebtAsset},
		MaxPriceAge: 60 * time.Second,
	}
	opts = append([]core.Option{core.WithOutputs(core.Outputs{Persist: f.Persist})}, opts...)
	eng, err := core.NewEngine(context.Background(), cfg, f.Store, f.Feed, f.Custody, f.Clock, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	f.Engine = eng

	authority := uuid.New()
	for _, asset := range cfg.Assets {
		if _, err := eng.InitializeBank(context.Background(), &event.InitializeBank{
			RequestID: uuid.New(),
			Authority: authority,
			Asset:     asset,
			Params:    params,
		}); err != nil {
			t.Fatalf("initialize bank %s: %v", asset, err)
		}
		f.SetPrice(asset, 100_000_000, -8)
	}
	return f
}

// SetPrice publishes a quote stamped with the fixture clock.
func (f *Fixture) SetPrice(asset lending.AssetID, price int64, expo int32) {
	f.t.Helper()
	f.priceSeq[asset]++
	_, err := f.Feed.Apply(oracle.Update{
		Quote: lending.Quote{
			Asset:       asset,
			Price:       price,
			Expo:        expo,
			PublishedAt: f.Clock.Now().Unix(),
		},
		Sequence: f.priceSeq[asset],
	})
	if err != nil {
		f.t.Fatalf("set price %s: %v", asset, err)
	}
}

// NewUser funds a fresh owner's wallets and initializes a position using
// collateral as its collateral asset.
func (f *Fixture) NewUser(collateral lending.AssetID, funds uint64) uuid.UUID {
	f.t.Helper()
	owner := uuid.New()
	f.Fund(owner, funds)
	if _, err := f.Engine.InitializeUser(context.Background(), &event.InitializeUser{
		RequestID:       uuid.New(),
		Owner:           owner,
		CollateralAsset: collateral,
	}); err != nil {
		f.t.Fatalf("initialize user: %v", err)
	}
	return owner
}

// Fund credits amount of both assets to owner's wallets.
func (f *Fixture) Fund(owner uuid.UUID, amount uint64) {
	f.t.Helper()
	if amount == 0 {
		return
	}
	for _, asset := range []lending.AssetID{CollateralAsset, DebtAsset} {
		if _, err := f.Custody.Fund(context.Background(), owner, asset, amount); err != nil {
			f.t.Fatalf("fund %s: %v", asset, err)
		}
	}
}

func assetAction(owner uuid.UUID, asset lending.AssetID, amount uint64) event.AssetAction {
	return event.AssetAction{RequestID: uuid.New(), Owner: owner, Asset: asset, Amount: amount}
}

func (f *Fixture) Deposit(owner uuid.UUID, asset lending.AssetID, amount uint64) (*core.Receipt, error) {
	return f.Engine.Deposit(context.Background(), &event.Deposit{AssetAction: assetAction(owner, asset, amount)})
}

func (f *Fixture) Withdraw(owner uuid.UUID, asset lending.AssetID, amount uint64) (*core.Receipt, error) {
	return f.Engine.Withdraw(context.Background(), &event.Withdraw{AssetAction: assetAction(owner, asset, amount)})
}

func (f *Fixture) Borrow(owner uuid.UUID, asset lending.AssetID, amount uint64) (*core.Receipt, error) {
	return f.Engine.Borrow(context.Background(), &event.Borrow{AssetAction: assetAction(owner, asset, amount)})
}

func (f *Fixture) Repay(owner uuid.UUID, asset lending.AssetID, amount uint64) (*core.Receipt, error) {
	return f.Engine.Repay(context.Background(), &event.Repay{AssetAction: assetAction(owner, asset, amount)})
}

func (f *Fixture) Liquidate(liquidator, user uuid.UUID) (*core.Receipt, error) {
	return f.Engine.Liquidate(context.Background(), &event.Liquidate{
		RequestID:       uuid.New(),
		Liquidator:      liquidator,
		User:            user,
		CollateralAsset: CollateralAsset,
		DebtAsset:       DebtAsset,
	})
}

// Position reads owner's stored position.
func (f *Fixture) Position(owner uuid.UUID) *lending.UserPosition {
	f.t.Helper()
	var pos *lending.UserPosition
	err := f.Store.View(context.Background(), func(tx store.Tx) error {
		var err error
		pos, err = tx.Position(owner)
		return err
	})
	if err != nil {
		f.t.Fatalf("read position: %v", err)
	}
	return pos
}

// Bank reads the stored bank for asset.
func (f *Fixture) Bank(asset lending.AssetID) *lending.Bank {
	f.t.Helper()
	var bank *lending.Bank
	err := f.Store.View(context.Background(), func(tx store.Tx) error {
		var err error
		bank, err = tx.Bank(asset)
		return err
	})
	if err != nil {
		f.t.Fatalf("read bank: %v", err)
	}
	return bank
}

// Wallet returns owner's custody balance of asset.
func (f *Fixture) Wallet(owner uuid.UUID, asset lending.AssetID) uint64 {
	return f.Custody.Balance(custody.NewWalletKey(owner, asset))
}

// Treasury returns the custody balance backing asset's bank.
func (f *Fixture) Treasury(asset lending.AssetID) uint64 {
	return f.Custody.Balance(custody.NewTreasuryKey(asset))
}
