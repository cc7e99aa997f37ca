package metadata

import (
	"context"

	"github.com/bsv-blockchain/go-sdk/chainhash"
)

// BlockStatus is the chain status of a relayed block
type BlockStatus string

const (
	StatusMain   BlockStatus = "main"
	StatusOrphan BlockStatus = "orphan"
)

// BlockRecord describes one block the node reconstructed or downloaded.
// The block itself lives in the block store keyed by BlockHash.
type BlockRecord struct {
	Height       uint64
	BlockHash    chainhash.Hash
	MerkleRoot   chainhash.Hash
	TxCount      int
	Protocol     string   // thin block protocol, or "full" for a plain block download
	Contributors []string // peers that supplied transactions, in order of first contribution
	Status       BlockStatus
	Timestamp    int64
}

// Store defines the interface for relayed block metadata
// Implementations use SQLite or other relational databases
type Store interface {
	// PutBlock stores a block record with its contributors
	PutBlock(ctx context.Context, rec *BlockRecord) error

	// GetBlock retrieves the main chain record at height
	GetBlock(ctx context.Context, height uint64) (*BlockRecord, error)

	// GetBlockByHash retrieves a record by block hash
	GetBlockByHash(ctx context.Context, blockHash chainhash.Hash) (*BlockRecord, error)

	// GetLatestBlock returns the highest main chain record
	GetLatestBlock(ctx context.Context) (*BlockRecord, error)

	// SetStatus moves the record for blockHash onto or off the main chain.
	// Unknown hashes are ignored.
	SetStatus(ctx context.Context, blockHash chainhash.Hash, status BlockStatus) error

	// Close releases any resources
	Close() error
}
