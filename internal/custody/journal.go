package custody

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Journal is an append-only record of applied transfers.
type Journal interface {
	Append(t Transfer) error
	Replay(fn func(Transfer) error) error
	Close() error
}

var transfersBucket = []byte("transfers")

// BoltJournal stores transfers in a bbolt file keyed by insertion order.
type BoltJournal struct {
	db *bolt.DB
}

func OpenBoltJournal(path string) (*BoltJournal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open custody journal %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(transfersBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create transfers bucket")
	}
	return &BoltJournal{db: db}, nil
}

func (j *BoltJournal) Append(t Transfer) error {
	val, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "marshal transfer")
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(transfersBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return errors.Wrap(err, "next journal sequence")
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, val)
	})
}

func (j *BoltJournal) Replay(fn func(Transfer) error) error {
	return j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(transfersBucket).ForEach(func(k, v []byte) error {
			var t Transfer
			if err := json.Unmarshal(v, &t); err != nil {
				return errors.Wrapf(err, "decode journal entry %d", binary.BigEndian.Uint64(k))
			}
			return fn(t)
		})
	})
}

func (j *BoltJournal) Close() error {
	return j.db.Close()
}
