package models

import (
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// Block is a header plus its ordered transactions
type Block struct {
	Header       BlockHeader
	Transactions []*transaction.Transaction
}

// Hash returns the block hash
func (b *Block) Hash() chainhash.Hash {
	return b.Header.Hash()
}

// TxIDs returns the transaction ids in block order
func (b *Block) TxIDs() []chainhash.Hash {
	ids := make([]chainhash.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		ids[i] = *tx.TxID()
	}
	return ids
}

// Genesis headers for the networks the relay knows about
var (
	MainnetGenesis = BlockHeader{
		Version:    1,
		MerkleRoot: mustHash("4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"),
		Timestamp:  1231006505,
		Bits:       0x1d00ffff,
		Nonce:      2083236893,
	}

	RegtestGenesis = BlockHeader{
		Version:    1,
		MerkleRoot: mustHash("4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"),
		Timestamp:  1296688602,
		Bits:       0x207fffff,
		Nonce:      2,
	}
)

func mustHash(s string) chainhash.Hash {
	h, err := chainhash.NewHashFromHex(s)
	if err != nil {
		panic(err)
	}
	return *h
}
