package store_test

import (
	"LendLedger/internal/lending"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/store"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

// backends runs each test against every Store implementation.
func backends(t *testing.T) map[string]store.Store {
	t.Helper()
	b, err := store.OpenBolt(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return map[string]store.Store{
		"memory": store.NewMemory(),
		"bolt":   b,
	}
}

func sampleBank() *lending.Bank {
	return lending.NewBank(uuid.New(), "SOL", lending.BankParams{
		LiquidationThreshold: fpmath.MustFraction("0.8"),
		MaxLTV:               fpmath.MustFraction("0.75"),
	}.WithDefaults(), 1_700_000_000)
}

func TestStore_PutAndGet(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			bank := sampleBank()
			bank.TotalDeposits = 42
			pos := lending.NewUserPosition(uuid.New(), "SOL", "USDC", 1_700_000_000)
			pos.Collateral.DepositedShares = 7

			err := s.Update(ctx, func(tx store.Tx) error {
				require.NoError(t, tx.PutBank(bank))
				require.NoError(t, tx.PutPosition(pos))
				return tx.PutChainTip(store.ChainTip{Sequence: 3, Hash: []byte{1, 2, 3}})
			})
			require.NoError(t, err)

			err = s.View(ctx, func(tx store.Tx) error {
				got, err := tx.Bank("SOL")
				require.NoError(t, err)
				assert.Equal(t, bank, got)

				gotPos, err := tx.Position(pos.Owner)
				require.NoError(t, err)
				assert.Equal(t, pos, gotPos)

				tip, err := tx.ChainTip()
				require.NoError(t, err)
				assert.Equal(t, int64(3), tip.Sequence)
				assert.Equal(t, []byte{1, 2, 3}, tip.Hash)

				banks, err := tx.Banks()
				require.NoError(t, err)
				assert.Len(t, banks, 1)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestStore_FailedUpdateWritesNothing(t *testing.T) {
	boom := errors.New("boom")
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Update(ctx, func(tx store.Tx) error {
				require.NoError(t, tx.PutBank(sampleBank()))
				require.NoError(t, tx.PutChainTip(store.ChainTip{Sequence: 1}))
				return boom
			})
			assert.ErrorIs(t, err, boom)

			err = s.View(ctx, func(tx store.Tx) error {
				_, err := tx.Bank("SOL")
				assert.ErrorIs(t, err, lending.ErrBankNotFound)
				tip, err := tx.ChainTip()
				require.NoError(t, err)
				assert.Zero(t, tip.Sequence)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestStore_MissingRecords(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.View(ctx, func(tx store.Tx) error {
				_, err := tx.Position(uuid.New())
				assert.ErrorIs(t, err, lending.ErrPositionNotFound)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestStore_ViewIsReadOnly(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.View(ctx, func(tx store.Tx) error {
				return tx.PutBank(sampleBank())
			})
			assert.ErrorIs(t, err, store.ErrReadOnly)
		})
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	s := store.NewMemory()
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		return tx.PutBank(sampleBank())
	}))

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		b, err := tx.Bank("SOL")
		require.NoError(t, err)
		b.TotalDeposits = 999
		return nil
	}))

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		b, err := tx.Bank("SOL")
		require.NoError(t, err)
		assert.Zero(t, b.TotalDeposits)
		return nil
	}))
}

func TestBolt_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := store.OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		return tx.PutBank(sampleBank())
	}))
	require.NoError(t, s.Close())

	s, err = store.OpenBolt(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		b, err := tx.Bank("SOL")
		require.NoError(t, err)
		assert.Equal(t, fpmath.MustFraction("0.8"), b.LiquidationThreshold)
		return nil
	}))
}
