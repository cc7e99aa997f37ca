package sqlite

import (
	"context"
	"os"
	"slices"
	"testing"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/shruggr/thinrelay/metadata"
)

func newStore(t *testing.T, path string) *Store {
	t.Helper()
	os.Remove(path)
	t.Cleanup(func() { os.Remove(path) })

	store, err := New(&Config{DBPath: path})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutAndGetBlock(t *testing.T) {
	store := newStore(t, "/tmp/test_relay_metadata.db")
	ctx := context.Background()

	rec := &metadata.BlockRecord{
		Height:       100,
		BlockHash:    chainhash.Hash{1, 2, 3},
		MerkleRoot:   chainhash.Hash{4, 5, 6},
		TxCount:      50,
		Protocol:     "compact",
		Contributors: []string{"peer-b", "peer-a"},
		Timestamp:    1234567890,
	}

	if err := store.PutBlock(ctx, rec); err != nil {
		t.Fatalf("PutBlock failed: %v", err)
	}

	retrieved, err := store.GetBlock(ctx, 100)
	if err != nil {
		t.Fatalf("GetBlock failed: %v", err)
	}

	if retrieved == nil {
		t.Fatal("GetBlock returned nil")
	}

	if retrieved.BlockHash != rec.BlockHash {
		t.Error("BlockHash mismatch")
	}

	if retrieved.TxCount != rec.TxCount {
		t.Errorf("TxCount mismatch: expected %d, got %d", rec.TxCount, retrieved.TxCount)
	}

	if retrieved.Protocol != "compact" {
		t.Errorf("Protocol mismatch: expected compact, got %s", retrieved.Protocol)
	}

	if retrieved.Status != metadata.StatusMain {
		t.Errorf("Status mismatch: expected %s, got %s", metadata.StatusMain, retrieved.Status)
	}

	if !slices.Equal(retrieved.Contributors, rec.Contributors) {
		t.Errorf("Contributors mismatch: expected %v, got %v", rec.Contributors, retrieved.Contributors)
	}
}

func TestPutBlockReplacesContributors(t *testing.T) {
	store := newStore(t, "/tmp/test_relay_contributors.db")
	ctx := context.Background()

	rec := &metadata.BlockRecord{Height: 1, BlockHash: chainhash.Hash{1}, Protocol: "xthin", Contributors: []string{"a", "b"}}
	if err := store.PutBlock(ctx, rec); err != nil {
		t.Fatalf("PutBlock failed: %v", err)
	}
	rec.Contributors = []string{"c"}
	if err := store.PutBlock(ctx, rec); err != nil {
		t.Fatalf("PutBlock failed: %v", err)
	}

	retrieved, err := store.GetBlockByHash(ctx, rec.BlockHash)
	if err != nil {
		t.Fatalf("GetBlockByHash failed: %v", err)
	}
	if retrieved == nil || !slices.Equal(retrieved.Contributors, []string{"c"}) {
		t.Errorf("Expected contributors [c], got %v", retrieved)
	}

	counts, err := store.ContributionCounts(ctx)
	if err != nil {
		t.Fatalf("ContributionCounts failed: %v", err)
	}
	if counts["a"] != 0 || counts["c"] != 1 {
		t.Errorf("Unexpected contribution counts %v", counts)
	}
}

func TestGetMissingBlock(t *testing.T) {
	store := newStore(t, "/tmp/test_relay_missing.db")
	ctx := context.Background()

	rec, err := store.GetBlockByHash(ctx, chainhash.Hash{9})
	if err != nil {
		t.Fatalf("GetBlockByHash failed: %v", err)
	}
	if rec != nil {
		t.Error("Expected nil for a missing block")
	}
}

func TestLatestAndOrphans(t *testing.T) {
	store := newStore(t, "/tmp/test_relay_orphans.db")
	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		rec := &metadata.BlockRecord{
			Height:       i,
			BlockHash:    chainhash.Hash{byte(i)},
			Protocol:     "bloom",
			Contributors: []string{"a"},
		}
		if err := store.PutBlock(ctx, rec); err != nil {
			t.Fatalf("PutBlock failed: %v", err)
		}
	}

	latest, err := store.GetLatestBlock(ctx)
	if err != nil {
		t.Fatalf("GetLatestBlock failed: %v", err)
	}
	if latest == nil || latest.Height != 3 {
		t.Fatalf("Expected latest height 3, got %v", latest)
	}

	if err := store.SetStatus(ctx, chainhash.Hash{3}, metadata.StatusOrphan); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	latest, err = store.GetLatestBlock(ctx)
	if err != nil {
		t.Fatalf("GetLatestBlock failed: %v", err)
	}
	if latest == nil || latest.Height != 2 {
		t.Errorf("Expected latest height 2 after orphaning, got %v", latest)
	}
	if rec, _ := store.GetBlock(ctx, 3); rec != nil {
		t.Error("Orphaned record should not be returned by height")
	}
	if err := store.SetStatus(ctx, chainhash.Hash{9}, metadata.StatusOrphan); err != nil {
		t.Errorf("SetStatus on an unknown hash should be a no-op, got %v", err)
	}

	if err := store.CleanupOrphans(ctx, 10, 5); err != nil {
		t.Fatalf("CleanupOrphans failed: %v", err)
	}
	if rec, _ := store.GetBlockByHash(ctx, chainhash.Hash{3}); rec != nil {
		t.Error("Old orphan should be removed")
	}
	counts, err := store.ContributionCounts(ctx)
	if err != nil {
		t.Fatalf("ContributionCounts failed: %v", err)
	}
	if counts["a"] != 2 {
		t.Errorf("Expected 2 contributions left, got %d", counts["a"])
	}
}
