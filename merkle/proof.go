package merkle

import (
	"errors"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
)

// MaxTransactions bounds the transaction count a partial tree may claim
const MaxTransactions = 32_000_000 / 60

// ErrBadPartialTree is returned when a partial merkle tree is malformed
var ErrBadPartialTree = errors.New("malformed partial merkle tree")

// PartialTree is the BIP37 partial merkle tree carried by a merkleblock.
// It commits to the full tree while revealing only matched leaves.
type PartialTree struct {
	Transactions uint32
	Hashes       []chainhash.Hash
	Flags        []byte
}

// NewPartialTree builds a partial tree revealing the leaves where match is true
func NewPartialTree(txids []chainhash.Hash, match []bool) (*PartialTree, error) {
	if len(txids) == 0 {
		return nil, fmt.Errorf("cannot build tree with zero transactions")
	}
	if len(txids) != len(match) {
		return nil, fmt.Errorf("match count %d does not equal tx count %d", len(match), len(txids))
	}

	b := &partialBuilder{txids: txids, match: match}
	b.traverse(treeHeight(uint32(len(txids))), 0)

	flags := make([]byte, (len(b.bits)+7)/8)
	for i, bit := range b.bits {
		if bit {
			flags[i/8] |= 1 << (i % 8)
		}
	}

	return &PartialTree{
		Transactions: uint32(len(txids)),
		Hashes:       b.hashes,
		Flags:        flags,
	}, nil
}

type partialBuilder struct {
	txids  []chainhash.Hash
	match  []bool
	bits   []bool
	hashes []chainhash.Hash
}

func (b *partialBuilder) traverse(height, pos uint32) {
	parentOfMatch := false
	n := uint32(len(b.txids))
	for p := pos << height; p < (pos+1)<<height && p < n; p++ {
		parentOfMatch = parentOfMatch || b.match[p]
	}
	b.bits = append(b.bits, parentOfMatch)

	if height == 0 || !parentOfMatch {
		b.hashes = append(b.hashes, subtreeHash(b.txids, height, pos))
		return
	}

	b.traverse(height-1, pos*2)
	if pos*2+1 < treeWidth(n, height-1) {
		b.traverse(height-1, pos*2+1)
	}
}

// ExtractMatches validates the tree and returns its merkle root together
// with the matched transaction ids and their positions in the block
func (pt *PartialTree) ExtractMatches() (chainhash.Hash, []chainhash.Hash, []uint32, error) {
	if pt.Transactions == 0 {
		return chainhash.Hash{}, nil, nil, fmt.Errorf("%w: no transactions", ErrBadPartialTree)
	}
	if pt.Transactions > MaxTransactions {
		return chainhash.Hash{}, nil, nil, fmt.Errorf("%w: %d transactions exceeds limit", ErrBadPartialTree, pt.Transactions)
	}
	if uint32(len(pt.Hashes)) > pt.Transactions {
		return chainhash.Hash{}, nil, nil, fmt.Errorf("%w: more hashes than transactions", ErrBadPartialTree)
	}
	if len(pt.Flags)*8 < len(pt.Hashes) {
		return chainhash.Hash{}, nil, nil, fmt.Errorf("%w: fewer flag bits than hashes", ErrBadPartialTree)
	}

	e := &extractor{tree: pt}
	root, err := e.traverse(treeHeight(pt.Transactions), 0)
	if err != nil {
		return chainhash.Hash{}, nil, nil, err
	}

	if (e.bitsUsed+7)/8 != len(pt.Flags) {
		return chainhash.Hash{}, nil, nil, fmt.Errorf("%w: not all flag bytes consumed", ErrBadPartialTree)
	}
	if e.hashesUsed != len(pt.Hashes) {
		return chainhash.Hash{}, nil, nil, fmt.Errorf("%w: not all hashes consumed", ErrBadPartialTree)
	}

	return root, e.matches, e.indexes, nil
}

type extractor struct {
	tree       *PartialTree
	bitsUsed   int
	hashesUsed int
	matches    []chainhash.Hash
	indexes    []uint32
}

func (e *extractor) traverse(height, pos uint32) (chainhash.Hash, error) {
	if e.bitsUsed >= len(e.tree.Flags)*8 {
		return chainhash.Hash{}, fmt.Errorf("%w: overflowed flag bits", ErrBadPartialTree)
	}
	parentOfMatch := e.tree.Flags[e.bitsUsed/8]&(1<<(e.bitsUsed%8)) != 0
	e.bitsUsed++

	if height == 0 || !parentOfMatch {
		if e.hashesUsed >= len(e.tree.Hashes) {
			return chainhash.Hash{}, fmt.Errorf("%w: overflowed hash array", ErrBadPartialTree)
		}
		hash := e.tree.Hashes[e.hashesUsed]
		e.hashesUsed++
		if height == 0 && parentOfMatch {
			e.matches = append(e.matches, hash)
			e.indexes = append(e.indexes, pos)
		}
		return hash, nil
	}

	left, err := e.traverse(height-1, pos*2)
	if err != nil {
		return chainhash.Hash{}, err
	}
	right := left
	if pos*2+1 < treeWidth(e.tree.Transactions, height-1) {
		right, err = e.traverse(height-1, pos*2+1)
		if err != nil {
			return chainhash.Hash{}, err
		}
		// Identical siblings allow mutated trees with the same root
		if right == left {
			return chainhash.Hash{}, fmt.Errorf("%w: duplicate sibling hashes", ErrBadPartialTree)
		}
	}
	return hashPair(left, right), nil
}
