package core

import (
	"LendLedger/internal/event"
	"LendLedger/internal/lending"
	"LendLedger/internal/store"
	"context"
	"errors"
	"fmt"
	"strconv"
)

// InitializeBank creates the pool for one asset of the pair. Omitted
// close factor defaults to 0.5; omitted bonus and interest rate stay 0.
func (e *Engine) InitializeBank(ctx context.Context, a *event.InitializeBank) (*Receipt, error) {
	return e.execute(ctx, a, func(ctx context.Context, tx store.Tx, h header) (*effect, error) {
		if !e.supported(a.Asset) {
			return nil, fmt.Errorf("%w: %s", lending.ErrUnsupportedAsset, a.Asset)
		}
		params := a.Params.WithDefaults()
		if err := lending.ValidateBankParams(params); err != nil {
			return nil, err
		}

		_, err := tx.Bank(a.Asset)
		switch {
		case err == nil:
			return nil, fmt.Errorf("%w: %s", lending.ErrBankExists, a.Asset)
		case !errors.Is(err, lending.ErrBankNotFound):
			return nil, err
		}

		bank := lending.NewBank(a.Authority, a.Asset, params, h.now)
		return &effect{banks: []*lending.Bank{bank}, primary: a.Asset}, nil
	})
}

// InitializeUser creates the caller's position. Repeating it with the same
// collateral asset returns the existing position unchanged.
func (e *Engine) InitializeUser(ctx context.Context, a *event.InitializeUser) (*Receipt, error) {
	return e.execute(ctx, a, func(ctx context.Context, tx store.Tx, h header) (*effect, error) {
		if !e.supported(a.CollateralAsset) {
			return nil, fmt.Errorf("%w: %s", lending.ErrUnsupportedAsset, a.CollateralAsset)
		}

		pos, err := tx.Position(a.Owner)
		switch {
		case err == nil:
			if pos.CollateralAsset != a.CollateralAsset {
				return nil, fmt.Errorf("%w: has %s, requested %s",
					lending.ErrCollateralMismatch, pos.CollateralAsset, a.CollateralAsset)
			}
		case errors.Is(err, lending.ErrPositionNotFound):
			pos = lending.NewUserPosition(a.Owner, a.CollateralAsset, e.counterpart(a.CollateralAsset), h.now)
		default:
			return nil, err
		}
		return &effect{position: pos}, nil
	})
}

func (e *Engine) Deposit(ctx context.Context, a *event.Deposit) (*Receipt, error) {
	return e.execute(ctx, a, func(ctx context.Context, tx store.Tx, h header) (*effect, error) {
		pos, leg, err := e.ownLeg(tx, a.AssetAction)
		if err != nil {
			return nil, err
		}
		ch, err := lending.Deposit(pos, leg, a.Amount, h.now)
		if err != nil {
			return nil, err
		}
		return &effect{
			banks:    []*lending.Bank{leg.Bank},
			position: pos,
			batch:    h.generator().Deposit(a.Owner, a.Asset, a.Amount),
			outcome:  Outcome{Change: &ch},
			primary:  a.Asset,
		}, nil
	})
}

// Withdraw prices both sides only when the other slot carries debt.
func (e *Engine) Withdraw(ctx context.Context, a *event.Withdraw) (*Receipt, error) {
	return e.execute(ctx, a, func(ctx context.Context, tx store.Tx, h header) (*effect, error) {
		pos, leg, err := e.ownLeg(tx, a.AssetAction)
		if err != nil {
			return nil, err
		}
		banks := []*lending.Bank{leg.Bank}

		var counter lending.Leg
		if pos.Slot(leg.Kind.Other()).BorrowedShares > 0 {
			if leg.Quote, err = e.quote(ctx, a.Asset); err != nil {
				return nil, err
			}
			if counter, err = e.pricedLeg(ctx, tx, pos, leg.Kind.Other()); err != nil {
				return nil, err
			}
			banks = append(banks, counter.Bank)
		}

		ch, err := lending.Withdraw(pos, leg, counter, a.Amount, h.now)
		if err != nil {
			return nil, err
		}
		return &effect{
			banks:    banks,
			position: pos,
			batch:    h.generator().Withdraw(a.Owner, a.Asset, a.Amount),
			outcome:  Outcome{Change: &ch},
			primary:  a.Asset,
		}, nil
	})
}

// Borrow lends a.Asset against the deposit in the position's other slot.
func (e *Engine) Borrow(ctx context.Context, a *event.Borrow) (*Receipt, error) {
	return e.execute(ctx, a, func(ctx context.Context, tx store.Tx, h header) (*effect, error) {
		pos, err := tx.Position(a.Owner)
		if err != nil {
			return nil, err
		}
		kind, err := pos.SlotFor(a.Asset)
		if err != nil {
			return nil, err
		}
		borrow, err := e.pricedLeg(ctx, tx, pos, kind)
		if err != nil {
			return nil, err
		}
		collateral, err := e.pricedLeg(ctx, tx, pos, kind.Other())
		if err != nil {
			return nil, err
		}

		ch, err := lending.Borrow(pos, borrow, collateral, a.Amount, h.now)
		if err != nil {
			return nil, err
		}
		return &effect{
			banks:    []*lending.Bank{borrow.Bank, collateral.Bank},
			position: pos,
			batch:    h.generator().Borrow(a.Owner, a.Asset, a.Amount),
			outcome:  Outcome{Change: &ch},
			primary:  a.Asset,
		}, nil
	})
}

func (e *Engine) Repay(ctx context.Context, a *event.Repay) (*Receipt, error) {
	return e.execute(ctx, a, func(ctx context.Context, tx store.Tx, h header) (*effect, error) {
		pos, leg, err := e.ownLeg(tx, a.AssetAction)
		if err != nil {
			return nil, err
		}
		ch, err := lending.Repay(pos, leg, a.Amount, h.now)
		if err != nil {
			return nil, err
		}
		return &effect{
			banks:    []*lending.Bank{leg.Bank},
			position: pos,
			batch:    h.generator().Repay(a.Owner, a.Asset, a.Amount),
			outcome:  Outcome{Change: &ch},
			primary:  a.Asset,
		}, nil
	})
}

// Liquidate repays part of an unhealthy position's debt from the
// liquidator's wallet and pays out collateral plus bonus in return.
func (e *Engine) Liquidate(ctx context.Context, a *event.Liquidate) (*Receipt, error) {
	return e.execute(ctx, a, func(ctx context.Context, tx store.Tx, h header) (*effect, error) {
		if a.Liquidator == a.User {
			return nil, lending.ErrSelfLiquidation
		}
		if a.CollateralAsset == a.DebtAsset {
			return nil, lending.ErrSameAsset
		}

		pos, err := tx.Position(a.User)
		if err != nil {
			return nil, err
		}
		collKind, err := pos.SlotFor(a.CollateralAsset)
		if err != nil {
			return nil, err
		}
		debtKind, err := pos.SlotFor(a.DebtAsset)
		if err != nil {
			return nil, err
		}
		collateral, err := e.pricedLeg(ctx, tx, pos, collKind)
		if err != nil {
			return nil, err
		}
		debt, err := e.pricedLeg(ctx, tx, pos, debtKind)
		if err != nil {
			return nil, err
		}

		liq, err := lending.Liquidate(pos, collateral, debt, h.now)
		if err != nil {
			return nil, err
		}
		plan := liq.Plan
		return &effect{
			banks:    []*lending.Bank{collateral.Bank, debt.Bank},
			position: pos,
			batch: h.generator().Liquidation(a.Liquidator, a.DebtAsset, plan.Repay,
				a.CollateralAsset, plan.Seize),
			outcome: Outcome{Liquidation: &LiquidationOutcome{
				User:            a.User.String(),
				CollateralAsset: a.CollateralAsset,
				DebtAsset:       a.DebtAsset,
				HealthFactor:    plan.HealthFactor,
				Repaid:          plan.Repay,
				RepaidShares:    liq.RepayShares,
				Seized:          plan.Seize,
				SeizedShares:    liq.SeizeShares,
				Capped:          plan.Capped,
			}},
			primary: a.DebtAsset,
			committed: func() {
				if e.metrics == nil {
					return
				}
				e.metrics.Liquidations.WithLabelValues(string(a.CollateralAsset), string(a.DebtAsset),
					strconv.FormatBool(plan.Capped)).Inc()
				e.metrics.LiquidatedRepaid.WithLabelValues(string(a.DebtAsset)).Add(float64(plan.Repay))
				e.metrics.LiquidatedSeized.WithLabelValues(string(a.CollateralAsset)).Add(float64(plan.Seize))
			},
		}, nil
	})
}

// ownLeg loads the owner's position and the unpriced leg for a.Asset.
func (e *Engine) ownLeg(tx store.Tx, a event.AssetAction) (*lending.UserPosition, lending.Leg, error) {
	pos, err := tx.Position(a.Owner)
	if err != nil {
		return nil, lending.Leg{}, err
	}
	kind, err := pos.SlotFor(a.Asset)
	if err != nil {
		return nil, lending.Leg{}, fmt.Errorf("position %s: %w", a.Owner, err)
	}
	bank, err := tx.Bank(a.Asset)
	if err != nil {
		return nil, lending.Leg{}, err
	}
	return pos, lending.Leg{Bank: bank, Kind: kind}, nil
}
