package merkle

import (
	"errors"
	"testing"
)

func TestPartialTreeAllMatched(t *testing.T) {
	txids := testTxIDs(7)
	match := make([]bool, len(txids))
	for i := range match {
		match[i] = true
	}

	pt, err := NewPartialTree(txids, match)
	if err != nil {
		t.Fatalf("NewPartialTree failed: %v", err)
	}

	root, matches, indexes, err := pt.ExtractMatches()
	if err != nil {
		t.Fatalf("ExtractMatches failed: %v", err)
	}

	if root != Root(txids) {
		t.Error("Extracted root doesn't match merkle root")
	}
	if len(matches) != len(txids) {
		t.Fatalf("Expected %d matches, got %d", len(txids), len(matches))
	}
	for i := range txids {
		if matches[i] != txids[i] {
			t.Errorf("Match %d out of order", i)
		}
		if indexes[i] != uint32(i) {
			t.Errorf("Expected index %d, got %d", i, indexes[i])
		}
	}
}

func TestPartialTreeSomeMatched(t *testing.T) {
	txids := testTxIDs(10)
	match := make([]bool, len(txids))
	match[3] = true
	match[8] = true

	pt, err := NewPartialTree(txids, match)
	if err != nil {
		t.Fatalf("NewPartialTree failed: %v", err)
	}

	root, matches, indexes, err := pt.ExtractMatches()
	if err != nil {
		t.Fatalf("ExtractMatches failed: %v", err)
	}

	if root != Root(txids) {
		t.Error("Extracted root doesn't match merkle root")
	}
	if len(matches) != 2 || matches[0] != txids[3] || matches[1] != txids[8] {
		t.Errorf("Unexpected matches: %v", matches)
	}
	if len(indexes) != 2 || indexes[0] != 3 || indexes[1] != 8 {
		t.Errorf("Unexpected indexes: %v", indexes)
	}
}

func TestPartialTreeRejectsMalformed(t *testing.T) {
	txids := testTxIDs(4)
	match := []bool{true, true, true, true}

	pt, err := NewPartialTree(txids, match)
	if err != nil {
		t.Fatalf("NewPartialTree failed: %v", err)
	}

	truncated := &PartialTree{
		Transactions: pt.Transactions,
		Hashes:       pt.Hashes[:2],
		Flags:        pt.Flags,
	}
	if _, _, _, err := truncated.ExtractMatches(); !errors.Is(err, ErrBadPartialTree) {
		t.Errorf("Expected ErrBadPartialTree for truncated hashes, got %v", err)
	}

	empty := &PartialTree{}
	if _, _, _, err := empty.ExtractMatches(); !errors.Is(err, ErrBadPartialTree) {
		t.Errorf("Expected ErrBadPartialTree for empty tree, got %v", err)
	}
}

func TestPartialTreeRejectsDuplicateSiblings(t *testing.T) {
	txids := testTxIDs(2)
	txids[1] = txids[0]

	pt, err := NewPartialTree(txids, []bool{true, true})
	if err != nil {
		t.Fatalf("NewPartialTree failed: %v", err)
	}

	if _, _, _, err := pt.ExtractMatches(); !errors.Is(err, ErrBadPartialTree) {
		t.Errorf("Expected ErrBadPartialTree for duplicate siblings, got %v", err)
	}
}
