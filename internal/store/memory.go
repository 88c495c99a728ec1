package store

import (
	"LendLedger/internal/lending"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store. Writers are serialized; readers share.
type Memory struct {
	mu        sync.RWMutex
	banks     map[lending.AssetID]*lending.Bank
	positions map[uuid.UUID]*lending.UserPosition
	tip       ChainTip
}

func NewMemory() *Memory {
	return &Memory{
		banks:     make(map[lending.AssetID]*lending.Bank),
		positions: make(map[uuid.UUID]*lending.UserPosition),
	}
}

func (m *Memory) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		m:         m,
		writable:  true,
		banks:     make(map[lending.AssetID]*lending.Bank),
		positions: make(map[uuid.UUID]*lending.UserPosition),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for k, b := range tx.banks {
		m.banks[k] = b
	}
	for k, p := range tx.positions {
		m.positions[k] = p
	}
	if tx.tip != nil {
		m.tip = *tx.tip
	}
	return nil
}

func (m *Memory) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{m: m})
}

func (m *Memory) Close() error { return nil }

// memTx buffers writes until Update commits them.
type memTx struct {
	m         *Memory
	writable  bool
	banks     map[lending.AssetID]*lending.Bank
	positions map[uuid.UUID]*lending.UserPosition
	tip       *ChainTip
}

func (tx *memTx) Bank(asset lending.AssetID) (*lending.Bank, error) {
	if b, ok := tx.banks[asset]; ok {
		return b.Clone(), nil
	}
	if b, ok := tx.m.banks[asset]; ok {
		return b.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %s", lending.ErrBankNotFound, asset)
}

func (tx *memTx) PutBank(b *lending.Bank) error {
	if !tx.writable {
		return ErrReadOnly
	}
	tx.banks[b.AssetID] = b.Clone()
	return nil
}

func (tx *memTx) Banks() ([]*lending.Bank, error) {
	merged := make(map[lending.AssetID]*lending.Bank, len(tx.m.banks))
	for k, b := range tx.m.banks {
		merged[k] = b
	}
	for k, b := range tx.banks {
		merged[k] = b
	}
	out := make([]*lending.Bank, 0, len(merged))
	for _, b := range merged {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

func (tx *memTx) Position(owner uuid.UUID) (*lending.UserPosition, error) {
	if p, ok := tx.positions[owner]; ok {
		return p.Clone(), nil
	}
	if p, ok := tx.m.positions[owner]; ok {
		return p.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %s", lending.ErrPositionNotFound, owner)
}

func (tx *memTx) PutPosition(p *lending.UserPosition) error {
	if !tx.writable {
		return ErrReadOnly
	}
	tx.positions[p.Owner] = p.Clone()
	return nil
}

func (tx *memTx) Positions() ([]*lending.UserPosition, error) {
	merged := make(map[uuid.UUID]*lending.UserPosition, len(tx.m.positions))
	for k, p := range tx.m.positions {
		merged[k] = p
	}
	for k, p := range tx.positions {
		merged[k] = p
	}
	out := make([]*lending.UserPosition, 0, len(merged))
	for _, p := range merged {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner.String() < out[j].Owner.String() })
	return out, nil
}

func (tx *memTx) ChainTip() (ChainTip, error) {
	if tx.tip != nil {
		return *tx.tip, nil
	}
	return tx.m.tip, nil
}

func (tx *memTx) PutChainTip(tip ChainTip) error {
	if !tx.writable {
		return ErrReadOnly
	}
	tip.Hash = append([]byte(nil), tip.Hash...)
	tx.tip = &tip
	return nil
}
