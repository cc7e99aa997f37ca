package mempool

import (
	"testing"

	"github.com/shruggr/thinrelay/internal/thintest"
	"github.com/shruggr/thinrelay/messages"
	"github.com/shruggr/thinrelay/models"
	"github.com/shruggr/thinrelay/thinblock"
)

func TestPoolAddFind(t *testing.T) {
	p, err := New(10)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tx := thintest.Tx(1)
	txid := *tx.TxID()
	if !p.Add(tx) {
		t.Fatal("First add should store the transaction")
	}
	if p.Add(tx) {
		t.Error("Second add should report a duplicate")
	}

	if got := p.Find(thinblock.NewHashThinTx(txid)); got != tx {
		t.Error("Expected lookup by txid to find the transaction")
	}
	if got := p.Find(thinblock.NewCheapThinTx(messages.CheapHash(txid))); got != tx {
		t.Error("Expected lookup by cheap hash to find the transaction")
	}

	block := thintest.Block(&models.RegtestGenesis, 1, tx)
	keys := messages.NewShortIDKeys(&block.Header, 9)
	if got := p.Find(thinblock.NewShortThinTx(keys.ShortID(txid), keys)); got != tx {
		t.Error("Expected lookup by short id to find the transaction")
	}

	other := thintest.Tx(2)
	if p.Find(thinblock.NewHashThinTx(*other.TxID())) != nil {
		t.Error("Unknown transaction should not be found")
	}
}

func TestPoolEvictionUpdatesIndex(t *testing.T) {
	p, err := New(2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	first := thintest.Tx(1)
	p.Add(first)
	p.Add(thintest.Tx(2))
	p.Add(thintest.Tx(3))

	if p.Len() != 2 {
		t.Fatalf("Expected 2 transactions, got %d", p.Len())
	}
	if p.Find(thinblock.NewCheapThinTx(messages.CheapHash(*first.TxID()))) != nil {
		t.Error("Evicted transaction should leave the cheap hash index")
	}
	if len(p.cheap) != 2 {
		t.Errorf("Expected 2 cheap hash entries, got %d", len(p.cheap))
	}
}

func TestPoolCheapHashCollision(t *testing.T) {
	p, err := New(10)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	tx := thintest.Tx(1)
	txid := *tx.TxID()
	p.Add(tx)

	// A second txid sharing the first 8 bytes makes the cheap hash ambiguous
	twin := txid
	twin[31] ^= 0xff
	p.cheap[messages.CheapHash(txid)] = append(p.cheap[messages.CheapHash(txid)], twin)

	if p.Find(thinblock.NewCheapThinTx(messages.CheapHash(txid))) != nil {
		t.Error("Ambiguous cheap hash should not resolve")
	}
}

func TestPoolRemoveBlock(t *testing.T) {
	p, err := New(10)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	a, b, c := thintest.Tx(1), thintest.Tx(2), thintest.Tx(3)
	p.Add(a)
	p.Add(b)
	p.Add(c)

	p.RemoveBlock(thintest.Block(&models.RegtestGenesis, 1, a, b))
	if p.Len() != 1 {
		t.Fatalf("Expected 1 transaction left, got %d", p.Len())
	}
	if _, ok := p.Get(*c.TxID()); !ok {
		t.Error("Unconfirmed transaction should remain")
	}
	if len(p.cheap) != 1 {
		t.Errorf("Expected 1 cheap hash entry, got %d", len(p.cheap))
	}
}

func TestPoolFilter(t *testing.T) {
	p, err := New(10)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	tx := thintest.Tx(1)
	p.Add(tx)

	f := p.Filter(0.0001)
	if !f.ContainsHash(*tx.TxID()) {
		t.Error("Filter should contain pooled transaction")
	}
	if !f.IsValid() {
		t.Error("Filter should respect BIP37 limits")
	}
}

func TestCompactFinderKeys(t *testing.T) {
	p, err := New(10)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	tx := thintest.Tx(1)
	p.Add(tx)

	block := thintest.Block(&models.RegtestGenesis, 1, tx)
	keys := messages.NewShortIDKeys(&block.Header, 1)
	other := messages.NewShortIDKeys(&block.Header, 2)

	f := p.CompactFinder(keys)
	if f.Find(thinblock.NewShortThinTx(keys.ShortID(*tx.TxID()), keys)) != tx {
		t.Error("Expected short id to resolve")
	}
	if f.Find(thinblock.NewShortThinTx(other.ShortID(*tx.TxID()), other)) != nil {
		t.Error("Short id under other keys should not resolve")
	}
}
