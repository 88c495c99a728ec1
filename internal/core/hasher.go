package core

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const GenesisHashSeed = "LendLedger:genesis:v1"

// StateHasher extends the action hash chain. Compute is pure; the tip only
// moves when Commit is called after the store transaction succeeds.
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher starts a chain at the genesis hash.
func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: sha256.Sum256([]byte(GenesisHashSeed))}
}

// RestoreStateHasher resumes a chain from a persisted tip.
func RestoreStateHasher(tip []byte) (*StateHasher, error) {
	if len(tip) == 0 {
		return NewStateHasher(), nil
	}
	if len(tip) != sha256.Size {
		return nil, fmt.Errorf("chain tip is %d bytes, want %d", len(tip), sha256.Size)
	}
	h := &StateHasher{}
	copy(h.prevHash[:], tip)
	return h, nil
}

// Compute returns SHA-256(prev_hash || sequence LE || digest).
func (h *StateHasher) Compute(sequence int64, digest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])
	hasher.Write(digest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// Commit makes hash the new chain tip.
func (h *StateHasher) Commit(hash [32]byte) {
	h.prevHash = hash
}

// PrevHash returns the current chain tip.
func (h *StateHasher) PrevHash() [32]byte {
	return h.prevHash
}
