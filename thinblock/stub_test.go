package thinblock_test

import (
	"errors"
	"testing"

	"github.com/shruggr/thinrelay/bloom"
	"github.com/shruggr/thinrelay/internal/thintest"
	"github.com/shruggr/thinrelay/messages"
	"github.com/shruggr/thinrelay/thinblock"
)

func TestBloomStubRequiresFullTree(t *testing.T) {
	block := testBlock(4)

	partial := bloom.New(1, 0.000001, 0, bloom.UpdateNone)
	partial.InsertHash(*block.Transactions[2].TxID())
	mb, matched, err := messages.NewMerkleBlock(block, partial)
	if err != nil {
		t.Fatalf("NewMerkleBlock failed: %v", err)
	}
	if len(matched) == len(block.Transactions) {
		t.Fatal("Filter unexpectedly matched every transaction")
	}
	if _, err := thinblock.NewBloomStub(mb); !errors.Is(err, thinblock.ErrMalformed) {
		t.Errorf("Expected ErrMalformed for partial reveal, got %v", err)
	}

	mb, _, _ = messages.NewMerkleBlock(block, bloom.MatchAll())
	mb.Header.MerkleRoot[3] ^= 1
	if _, err := thinblock.NewBloomStub(mb); !errors.Is(err, thinblock.ErrMerkleMismatch) {
		t.Errorf("Expected ErrMerkleMismatch, got %v", err)
	}
}

func TestCompactStubCollision(t *testing.T) {
	block := testBlock(3)
	cb := messages.NewCompactBlock(block, 42)
	cb.ShortIDs[1] = cb.ShortIDs[0]

	if _, err := thinblock.NewCompactStub(cb); !errors.Is(err, thinblock.ErrCollision) {
		t.Errorf("Expected ErrCollision, got %v", err)
	}
}

func TestCompactStubPlacesPrefilled(t *testing.T) {
	block := testBlock(3)
	cb := messages.NewCompactBlock(block, 42)

	stub, err := thinblock.NewCompactStub(cb)
	if err != nil {
		t.Fatalf("NewCompactStub failed: %v", err)
	}
	if len(stub.Txs) != 4 {
		t.Fatalf("Expected 4 placeholders, got %d", len(stub.Txs))
	}
	if !stub.Txs[0].HasTx() {
		t.Error("Coinbase should be prefilled at index 0")
	}
	for i := 1; i < 4; i++ {
		if stub.Txs[i].Form() != thinblock.FormShort {
			t.Errorf("Placeholder %d should be a short id", i)
		}
		if !stub.Txs[i].Matches(*block.Transactions[i].TxID()) {
			t.Errorf("Placeholder %d does not match its transaction", i)
		}
	}
}

func TestValidateCompactBlock(t *testing.T) {
	block := testBlock(2)

	cb := messages.NewCompactBlock(block, 1)
	if err := thinblock.ValidateCompactBlock(cb); err != nil {
		t.Fatalf("Valid compact block rejected: %v", err)
	}

	empty := &messages.CompactBlock{Header: block.Header}
	if err := thinblock.ValidateCompactBlock(empty); !errors.Is(err, thinblock.ErrMalformed) {
		t.Errorf("Expected empty block to be malformed, got %v", err)
	}

	outOfRange := messages.NewCompactBlock(block, 1)
	outOfRange.Prefilled[0].Index = 10
	if err := thinblock.ValidateCompactBlock(outOfRange); !errors.Is(err, thinblock.ErrMalformed) {
		t.Errorf("Expected out of range prefilled index to be malformed, got %v", err)
	}

	null := messages.NewCompactBlock(block, 1)
	null.Header.Bits = 0
	if err := thinblock.ValidateCompactBlock(null); !errors.Is(err, thinblock.ErrMalformed) {
		t.Errorf("Expected null header to be malformed, got %v", err)
	}
}

func TestValidateXThinBlock(t *testing.T) {
	block := testBlock(3)

	tests := []struct {
		name   string
		mutate func(xb *messages.XThinBlock)
	}{
		{"empty", func(xb *messages.XThinBlock) { xb.TxHashes = nil }},
		{"no coinbase", func(xb *messages.XThinBlock) { xb.MissingTxs = nil }},
		{"coinbase not first", func(xb *messages.XThinBlock) {
			xb.MissingTxs = append(xb.MissingTxs[:0:0], block.Transactions[1], block.Transactions[0])
		}},
		{"duplicate hash", func(xb *messages.XThinBlock) { xb.TxHashes[2] = xb.TxHashes[1] }},
		{"unlisted provided tx", func(xb *messages.XThinBlock) {
			xb.MissingTxs = append(xb.MissingTxs, thintest.Tx(99))
		}},
	}

	if err := thinblock.ValidateXThinBlock(messages.NewXThinBlock(block, nil)); err != nil {
		t.Fatalf("Valid xthin block rejected: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			xb := messages.NewXThinBlock(block, bloom.MatchAll())
			tt.mutate(xb)
			if err := thinblock.ValidateXThinBlock(xb); !errors.Is(err, thinblock.ErrMalformed) {
				t.Errorf("Expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestBuilderResolvesFromFinder(t *testing.T) {
	block := testBlock(4)
	stub := xthinStub(t, block)

	builder, err := thinblock.NewBuilder(stub, &thintest.Finder{Txs: block.Transactions[1:3]})
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	missing := builder.Missing()
	if len(missing) != 2 || missing[0].Index != 3 || missing[1].Index != 4 {
		t.Fatalf("Expected indexes 3 and 4 missing, got %+v", missing)
	}
	if missing[0].ID.Cheap() != messages.CheapHash(*block.Transactions[3].TxID()) {
		t.Error("Missing identifier should be the cheap hash of tx 3")
	}

	if builder.AddTx(thintest.Tx(50)) {
		t.Error("Unrelated tx should not resolve anything")
	}
	builder.AddTx(block.Transactions[4])
	builder.AddTx(block.Transactions[3])
	if !builder.IsComplete() {
		t.Fatal("Builder should be complete")
	}
	rebuilt, err := builder.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if rebuilt.Hash() != block.Hash() {
		t.Error("Rebuilt block hash differs")
	}
}

func TestBuilderRejectsForeignIdentifier(t *testing.T) {
	block := testBlock(2)
	stub := &thinblock.Stub{
		Protocol: thinblock.ProtocolXThin,
		Header:   block.Header,
		Txs: []thinblock.ThinTx{
			thinblock.NewFullThinTx(block.Transactions[0]),
			thinblock.NewCheapThinTx(messages.CheapHash(*block.Transactions[1].TxID())),
			thinblock.NewHashThinTx(*block.Transactions[2].TxID()),
		},
	}
	if _, err := thinblock.NewBuilder(stub, nil); !errors.Is(err, thinblock.ErrMalformed) {
		t.Errorf("Expected ErrMalformed for mixed identifiers, got %v", err)
	}

	stub.Txs[2] = thinblock.NewCheapThinTx(messages.CheapHash(*block.Transactions[2].TxID()))
	builder, err := thinblock.NewBuilder(stub, nil)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	if builder.StubResolved() != 1 {
		t.Errorf("Expected 1 placeholder resolved by the stub, got %d", builder.StubResolved())
	}
	for _, tx := range block.Transactions[1:] {
		if !builder.AddTx(tx) {
			t.Errorf("AddTx did not resolve %s by cheap hash", tx.TxID())
		}
	}
	if !builder.IsComplete() {
		t.Error("Expected builder to be complete")
	}
}
