// Package blockstore persists reconstructed blocks in a kvstore. Keys are
// dbl-sha2-256 multihashes of the block hash; values are the wire
// serialization prefixed with a BLAKE3 checksum that is verified on read.
package blockstore

import (
	"context"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/shruggr/thinrelay/kvstore"
	"github.com/shruggr/thinrelay/messages"
	"github.com/shruggr/thinrelay/models"
	"github.com/shruggr/thinrelay/multihash"
)

// Store reads and writes full blocks
type Store struct {
	kv kvstore.KVStore
}

// New creates a block store on kv
func New(kv kvstore.KVStore) *Store {
	return &Store{kv: kv}
}

func key(hash chainhash.Hash) ([]byte, error) {
	k, err := multihash.WrapChainHash(hash)
	if err != nil {
		return nil, err
	}
	return []byte(k), nil
}

// Put stores block under its hash
func (s *Store) Put(ctx context.Context, block *models.Block) error {
	hash := block.Hash()
	k, err := key(hash)
	if err != nil {
		return err
	}

	payload, err := messages.Encode(&messages.Block{Block: *block})
	if err != nil {
		return err
	}
	sum, err := multihash.NewChecksum(payload)
	if err != nil {
		return err
	}

	value := make([]byte, 0, len(sum)+len(payload))
	value = append(value, sum...)
	value = append(value, payload...)
	if err := s.kv.Put(ctx, k, value); err != nil {
		return fmt.Errorf("failed to store block %s: %w", hash, err)
	}
	return nil
}

// Get retrieves a block. Returns nil if it isn't stored.
func (s *Store) Get(ctx context.Context, hash chainhash.Hash) (*models.Block, error) {
	k, err := key(hash)
	if err != nil {
		return nil, err
	}
	value, err := s.kv.Get(ctx, k)
	if err != nil {
		return nil, fmt.Errorf("failed to load block %s: %w", hash, err)
	}
	if value == nil {
		return nil, nil
	}
	if len(value) < multihash.Size {
		return nil, fmt.Errorf("stored block %s is truncated", hash)
	}

	sum, payload := multihash.Checksum(value[:multihash.Size]), value[multihash.Size:]
	if err := sum.Verify(payload); err != nil {
		return nil, fmt.Errorf("stored block %s is corrupt: %w", hash, err)
	}

	var msg messages.Block
	if err := messages.DecodeInto(payload, &msg); err != nil {
		return nil, err
	}
	if got := msg.Block.Hash(); got != hash {
		return nil, fmt.Errorf("stored block %s has hash %s", hash, got)
	}
	return &msg.Block, nil
}

// Has reports whether the block is stored
func (s *Store) Has(ctx context.Context, hash chainhash.Hash) (bool, error) {
	k, err := key(hash)
	if err != nil {
		return false, err
	}
	return s.kv.Has(ctx, k)
}

// Delete removes a block
func (s *Store) Delete(ctx context.Context, hash chainhash.Hash) error {
	k, err := key(hash)
	if err != nil {
		return err
	}
	return s.kv.Delete(ctx, k)
}
