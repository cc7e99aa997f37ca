package bloom

import (
	"testing"

	"github.com/bsv-blockchain/go-sdk/chainhash"
)

func TestFilterInsertContains(t *testing.T) {
	f := New(10, 0.0001, 0, UpdateNone)

	a := chainhash.DoubleHashH([]byte("tx-a"))
	b := chainhash.DoubleHashH([]byte("tx-b"))

	f.InsertHash(a)

	if !f.ContainsHash(a) {
		t.Error("Filter should contain inserted hash")
	}
	if f.ContainsHash(b) {
		t.Error("Filter should not contain hash that was never inserted")
	}
}

func TestFilterSizeLimits(t *testing.T) {
	f := New(10_000_000, 0.000001, 0, UpdateAll)

	if len(f.Data) != MaxFilterSize {
		t.Errorf("Expected filter size capped at %d, got %d", MaxFilterSize, len(f.Data))
	}
	if f.HashFuncs > MaxHashFuncs {
		t.Errorf("Expected at most %d hash funcs, got %d", MaxHashFuncs, f.HashFuncs)
	}
	if !f.IsValid() {
		t.Error("Capped filter should be valid")
	}
}

func TestMatchAll(t *testing.T) {
	f := MatchAll()

	if !f.IsFull() {
		t.Fatal("MatchAll filter should be full")
	}
	if !f.ContainsHash(chainhash.DoubleHashH([]byte("anything"))) {
		t.Error("MatchAll filter should match any hash")
	}
}

func TestEmptyFilterMatchesNothing(t *testing.T) {
	f := &Filter{}
	f.Insert([]byte("x"))

	if f.Contains([]byte("x")) {
		t.Error("Empty filter should not match")
	}
}

func TestFromHashes(t *testing.T) {
	var hashes []chainhash.Hash
	for i := 0; i < 50; i++ {
		hashes = append(hashes, chainhash.DoubleHashH([]byte{byte(i)}))
	}

	f := FromHashes(hashes, 0.001, 7)
	for i, h := range hashes {
		if !f.ContainsHash(h) {
			t.Errorf("Filter missing hash %d", i)
		}
	}
	if f.Tweak != 7 {
		t.Errorf("Expected tweak 7, got %d", f.Tweak)
	}
}
