// Package multihash wraps the self-describing hashes used by the block
// store: dbl-sha2-256 keys for block hashes and BLAKE3 payload checksums.
package multihash

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	mh "github.com/multiformats/go-multihash"
	"lukechampine.com/blake3"
)

// Size is the encoded length of both hash kinds: code, length, 32 byte digest
const Size = 34

// Checksum is a BLAKE3 multihash over a stored payload
// Format: <0x1e><0x20><32 bytes> = 34 bytes total
type Checksum []byte

// NewChecksum hashes data with BLAKE3
func NewChecksum(data []byte) (Checksum, error) {
	sum := blake3.Sum256(data)
	h, err := mh.Encode(sum[:], mh.BLAKE3)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checksum: %w", err)
	}
	return Checksum(h), nil
}

// Verify checks that the checksum matches the provided data
func (c Checksum) Verify(data []byte) error {
	decoded, err := mh.Decode(mh.Multihash(c))
	if err != nil {
		return fmt.Errorf("invalid multihash: %w", err)
	}

	if decoded.Code != mh.BLAKE3 {
		return fmt.Errorf("expected BLAKE3 hash, got 0x%x", decoded.Code)
	}

	sum := blake3.Sum256(data)
	if !bytes.Equal(sum[:], decoded.Digest) {
		return fmt.Errorf("checksum verification failed")
	}

	return nil
}

// Hex returns the hex-encoded multihash
func (c Checksum) Hex() string {
	return hex.EncodeToString(c)
}

// BlockKey wraps a bitcoin double SHA-256 block hash
// Format: <0x56><0x20><32 bytes> = 34 bytes total
type BlockKey []byte

// WrapChainHash wraps a chainhash.Hash as a multihash
func WrapChainHash(hash chainhash.Hash) (BlockKey, error) {
	h, err := mh.Encode(hash[:], mh.DBL_SHA2_256)
	if err != nil {
		return nil, fmt.Errorf("failed to encode hash: %w", err)
	}
	return BlockKey(h), nil
}

// ChainHash extracts the block hash from the multihash
func (k BlockKey) ChainHash() (chainhash.Hash, error) {
	decoded, err := mh.Decode(mh.Multihash(k))
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("invalid multihash: %w", err)
	}

	if decoded.Code != mh.DBL_SHA2_256 {
		return chainhash.Hash{}, fmt.Errorf("expected dbl-sha2-256 hash, got 0x%x", decoded.Code)
	}
	if len(decoded.Digest) != chainhash.HashSize {
		return chainhash.Hash{}, fmt.Errorf("expected 32-byte digest, got %d bytes", len(decoded.Digest))
	}

	var hash chainhash.Hash
	copy(hash[:], decoded.Digest)
	return hash, nil
}

// Hex returns the hex-encoded multihash
func (k BlockKey) Hex() string {
	return hex.EncodeToString(k)
}
