package core_test

import (
	"LendLedger/internal/core"
	"crypto/sha256"
	"testing"
)

// ============================================================================
// Test: StateHasher
// ============================================================================

func TestStateHasher_GenesisTip(t *testing.T) {
	h := core.NewStateHasher()
	want := sha256.Sum256([]byte(core.GenesisHashSeed))
	if h.PrevHash() != want {
		t.Errorf("genesis tip = %x, want %x", h.PrevHash(), want)
	}
}

func TestStateHasher_ComputeDoesNotMoveTip(t *testing.T) {
	h := core.NewStateHasher()
	before := h.PrevHash()

	a := h.Compute(1, []byte("digest"))
	b := h.Compute(1, []byte("digest"))
	if a != b {
		t.Errorf("Compute is not deterministic: %x != %x", a, b)
	}
	if h.PrevHash() != before {
		t.Error("Compute moved the chain tip")
	}

	h.Commit(a)
	if h.PrevHash() != a {
		t.Errorf("tip after Commit = %x, want %x", h.PrevHash(), a)
	}
}

func TestStateHasher_InputsChangeHash(t *testing.T) {
	h := core.NewStateHasher()
	base := h.Compute(1, []byte("digest"))

	if h.Compute(2, []byte("digest")) == base {
		t.Error("sequence does not affect the hash")
	}
	if h.Compute(1, []byte("digest2")) == base {
		t.Error("digest does not affect the hash")
	}

	other := core.NewStateHasher()
	other.Commit(base)
	if other.Compute(1, []byte("digest")) == base {
		t.Error("previous hash does not affect the hash")
	}
}

func TestRestoreStateHasher(t *testing.T) {
	h := core.NewStateHasher()
	tip := h.Compute(7, []byte("x"))

	restored, err := core.RestoreStateHasher(tip[:])
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.PrevHash() != tip {
		t.Errorf("restored tip = %x, want %x", restored.PrevHash(), tip)
	}

	empty, err := core.RestoreStateHasher(nil)
	if err != nil {
		t.Fatalf("restore empty: %v", err)
	}
	if empty.PrevHash() != core.NewStateHasher().PrevHash() {
		t.Error("empty tip should restore to genesis")
	}

	if _, err := core.RestoreStateHasher([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short tip")
	}
}
