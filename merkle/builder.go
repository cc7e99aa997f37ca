package merkle

import (
	"github.com/bsv-blockchain/go-sdk/chainhash"
)

// Root computes the Bitcoin merkle root of the given transaction ids.
// An odd node at any level is paired with itself.
func Root(txids []chainhash.Hash) chainhash.Hash {
	if len(txids) == 0 {
		return chainhash.Hash{}
	}

	level := make([]chainhash.Hash, len(txids))
	copy(level, txids)

	for len(level) > 1 {
		next := make([]chainhash.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		level = next
	}

	return level[0]
}

// hashPair computes the Bitcoin merkle hash of two child hashes
func hashPair(left, right chainhash.Hash) chainhash.Hash {
	var combined [64]byte
	copy(combined[0:32], left[:])
	copy(combined[32:64], right[:])
	return doubleSHA256(combined[:])
}

// doubleSHA256 computes SHA256(SHA256(data))
func doubleSHA256(data []byte) chainhash.Hash {
	return chainhash.DoubleHashH(data)
}

// treeWidth returns the number of nodes at the given height of a tree
// with numTxs leaves
func treeWidth(numTxs uint32, height uint32) uint32 {
	return (numTxs + (1 << height) - 1) >> height
}

// treeHeight returns the height of the tree root
func treeHeight(numTxs uint32) uint32 {
	var height uint32
	for treeWidth(numTxs, height) > 1 {
		height++
	}
	return height
}

// subtreeHash computes the hash of the node at (height, pos)
func subtreeHash(txids []chainhash.Hash, height, pos uint32) chainhash.Hash {
	if height == 0 {
		return txids[pos]
	}
	left := subtreeHash(txids, height-1, pos*2)
	right := left
	if pos*2+1 < treeWidth(uint32(len(txids)), height-1) {
		right = subtreeHash(txids, height-1, pos*2+1)
	}
	return hashPair(left, right)
}
