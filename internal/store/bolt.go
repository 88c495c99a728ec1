package store

import (
	"LendLedger/internal/lending"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketBanks     = []byte("banks")
	bucketPositions = []byte("positions")
	bucketMeta      = []byte("meta")

	keyChainTip = []byte("chain_tip")
)

// Bolt is a Store backed by a bbolt file. Values are JSON.
type Bolt struct {
	db *bolt.DB
}

func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open store %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBanks, bucketPositions, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create buckets")
	}
	return &Bolt{db: db}, nil
}

func (s *Bolt) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (s *Bolt) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (s *Bolt) Close() error {
	return s.db.Close()
}

type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) get(bucket, key []byte, v any) (bool, error) {
	raw := t.tx.Bucket(bucket).Get(key)
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, errors.Wrapf(err, "decode %s/%s", bucket, key)
	}
	return true, nil
}

func (t *boltTx) put(bucket, key []byte, v any) error {
	if !t.tx.Writable() {
		return ErrReadOnly
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s/%s", bucket, key)
	}
	return t.tx.Bucket(bucket).Put(key, raw)
}

func (t *boltTx) Bank(asset lending.AssetID) (*lending.Bank, error) {
	var b lending.Bank
	ok, err := t.get(bucketBanks, []byte(asset), &b)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", lending.ErrBankNotFound, asset)
	}
	return &b, nil
}

func (t *boltTx) PutBank(b *lending.Bank) error {
	return t.put(bucketBanks, []byte(b.AssetID), b)
}

func (t *boltTx) Banks() ([]*lending.Bank, error) {
	var out []*lending.Bank
	err := t.tx.Bucket(bucketBanks).ForEach(func(k, v []byte) error {
		var b lending.Bank
		if err := json.Unmarshal(v, &b); err != nil {
			return errors.Wrapf(err, "decode bank %s", k)
		}
		out = append(out, &b)
		return nil
	})
	return out, err
}

func (t *boltTx) Position(owner uuid.UUID) (*lending.UserPosition, error) {
	var p lending.UserPosition
	ok, err := t.get(bucketPositions, owner[:], &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", lending.ErrPositionNotFound, owner)
	}
	return &p, nil
}

func (t *boltTx) PutPosition(p *lending.UserPosition) error {
	return t.put(bucketPositions, p.Owner[:], p)
}

func (t *boltTx) Positions() ([]*lending.UserPosition, error) {
	var out []*lending.UserPosition
	err := t.tx.Bucket(bucketPositions).ForEach(func(k, v []byte) error {
		var p lending.UserPosition
		if err := json.Unmarshal(v, &p); err != nil {
			return errors.Wrapf(err, "decode position %x", k)
		}
		out = append(out, &p)
		return nil
	})
	return out, err
}

func (t *boltTx) ChainTip() (ChainTip, error) {
	var tip ChainTip
	_, err := t.get(bucketMeta, keyChainTip, &tip)
	return tip, err
}

func (t *boltTx) PutChainTip(tip ChainTip) error {
	return t.put(bucketMeta, keyChainTip, tip)
}
