package store

import (
	"LendLedger/internal/lending"
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrReadOnly = errors.New("store: write in read-only transaction")

// ChainTip is the last committed action sequence and state hash.
type ChainTip struct {
	Sequence int64  `json:"sequence"`
	Hash     []byte `json:"hash"`
}

// Tx is a view of the records inside one transaction. Records returned
// are copies; changes take effect only through Put.
type Tx interface {
	Bank(asset lending.AssetID) (*lending.Bank, error)
	PutBank(b *lending.Bank) error
	Banks() ([]*lending.Bank, error)

	Position(owner uuid.UUID) (*lending.UserPosition, error)
	PutPosition(p *lending.UserPosition) error
	Positions() ([]*lending.UserPosition, error)

	ChainTip() (ChainTip, error)
	PutChainTip(tip ChainTip) error
}

// Store is the key-indexed record store: asset -> Bank, owner ->
// UserPosition. Update runs fn exclusively and commits its writes only
// when fn returns nil.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	Close() error
}
