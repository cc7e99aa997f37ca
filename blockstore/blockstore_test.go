package blockstore

import (
	"context"
	"testing"

	"github.com/shruggr/thinrelay/internal/thintest"
	"github.com/shruggr/thinrelay/kvstore/badger"
	"github.com/shruggr/thinrelay/kvstore/memory"
	"github.com/shruggr/thinrelay/models"
	"github.com/shruggr/thinrelay/multihash"
)

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s := New(memory.New())
	block := thintest.Block(&models.RegtestGenesis, 1, thintest.Tx(1), thintest.Tx(2))

	if err := s.Put(ctx, block); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get(ctx, block.Hash())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.Hash() != block.Hash() {
		t.Fatal("Expected the stored block back")
	}
	if len(got.Transactions) != 3 {
		t.Errorf("Expected 3 transactions, got %d", len(got.Transactions))
	}

	ok, err := s.Has(ctx, block.Hash())
	if err != nil || !ok {
		t.Errorf("Expected Has to report the block, got %v %v", ok, err)
	}
}

func TestGetMissing(t *testing.T) {
	s := New(memory.New())
	got, err := s.Get(context.Background(), models.RegtestGenesis.Hash())
	if err != nil || got != nil {
		t.Errorf("Expected nil, nil for a missing block, got %v %v", got, err)
	}
}

func TestCorruptValueDetected(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	s := New(kv)
	block := thintest.Block(&models.RegtestGenesis, 1, thintest.Tx(1))
	if err := s.Put(ctx, block); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	k, _ := multihash.WrapChainHash(block.Hash())
	value, _ := kv.Get(ctx, k)
	value[len(value)-1] ^= 0xff
	if err := kv.Put(ctx, k, value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if _, err := s.Get(ctx, block.Hash()); err == nil {
		t.Error("Expected corrupted block to fail verification")
	}
}

func TestBadgerBackend(t *testing.T) {
	ctx := context.Background()
	kv, err := badger.New(&badger.Config{DataDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("badger.New failed: %v", err)
	}
	defer kv.Close()

	s := New(kv)
	block := thintest.Block(&models.RegtestGenesis, 1, thintest.Tx(1))
	if err := s.Put(ctx, block); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := s.Get(ctx, block.Hash())
	if err != nil || got == nil || got.Hash() != block.Hash() {
		t.Fatalf("Expected the stored block back, got %v", err)
	}

	if err := s.Delete(ctx, block.Hash()); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, _ := s.Has(ctx, block.Hash()); ok {
		t.Error("Deleted block should be gone")
	}
}
