package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/shruggr/thinrelay/metadata"
	"github.com/shruggr/thinrelay/metadata/sqlite"
)

func TestMaintainMetadataPrunesOldOrphans(t *testing.T) {
	sq, err := sqlite.New(&sqlite.Config{DBPath: filepath.Join(t.TempDir(), "meta.db")})
	if err != nil {
		t.Fatalf("sqlite.New failed: %v", err)
	}
	defer sq.Close()
	ctx := context.Background()

	records := []*metadata.BlockRecord{
		{Height: 5, BlockHash: chainhash.Hash{1}, Protocol: "bloom", Contributors: []string{"a"}, Status: metadata.StatusOrphan},
		{Height: 195, BlockHash: chainhash.Hash{2}, Protocol: "compact", Contributors: []string{"a"}, Status: metadata.StatusOrphan},
		{Height: 200, BlockHash: chainhash.Hash{3}, Protocol: "compact", Contributors: []string{"b"}, Status: metadata.StatusMain},
	}
	for _, rec := range records {
		if err := sq.PutBlock(ctx, rec); err != nil {
			t.Fatalf("PutBlock failed: %v", err)
		}
	}

	maintainMetadata(ctx, sq, 100, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if rec, _ := sq.GetBlockByHash(ctx, chainhash.Hash{1}); rec != nil {
		t.Error("Orphan below the depth should be removed")
	}
	if rec, _ := sq.GetBlockByHash(ctx, chainhash.Hash{2}); rec == nil {
		t.Error("Recent orphan should be kept")
	}
	if rec, _ := sq.GetBlockByHash(ctx, chainhash.Hash{3}); rec == nil {
		t.Error("Main chain record should be kept")
	}
}
