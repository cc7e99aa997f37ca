package models

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/bsv-blockchain/go-sdk/chainhash"
)

// HeaderSize is the serialized size of a block header
const HeaderSize = 80

// BlockHeader represents a Bitcoin block header
type BlockHeader struct {
	Version    int32
	PrevHash   chainhash.Hash
	MerkleRoot chainhash.Hash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

// Bytes returns the 80-byte wire encoding of the header
func (h *BlockHeader) Bytes() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Version))
	copy(buf[4:36], h.PrevHash[:])
	copy(buf[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[72:76], h.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)
	return buf
}

// Hash returns the block hash (double SHA256 of the header)
func (h *BlockHeader) Hash() chainhash.Hash {
	return chainhash.DoubleHashH(h.Bytes())
}

// IsNull reports whether the header was never filled in
func (h *BlockHeader) IsNull() bool {
	return h.Bits == 0
}

// ParseBlockHeader decodes an 80-byte block header
func ParseBlockHeader(header []byte) (*BlockHeader, error) {
	if len(header) != HeaderSize {
		return nil, fmt.Errorf("invalid block header length: got %d, expected %d", len(header), HeaderSize)
	}

	// 0-4 version, 4-36 prev block hash, 36-68 merkle root,
	// 68-72 timestamp, 72-76 bits, 76-80 nonce
	prevBlockHash, err := chainhash.NewHash(header[4:36])
	if err != nil {
		return nil, fmt.Errorf("failed to parse prev block hash: %w", err)
	}

	merkleRoot, err := chainhash.NewHash(header[36:68])
	if err != nil {
		return nil, fmt.Errorf("failed to parse merkle root: %w", err)
	}

	return &BlockHeader{
		Version:    int32(binary.LittleEndian.Uint32(header[0:4])),
		PrevHash:   *prevBlockHash,
		MerkleRoot: *merkleRoot,
		Timestamp:  binary.LittleEndian.Uint32(header[68:72]),
		Bits:       binary.LittleEndian.Uint32(header[72:76]),
		Nonce:      binary.LittleEndian.Uint32(header[76:80]),
	}, nil
}

// BlockIndex is a header connected to the local header tree
type BlockIndex struct {
	Header   BlockHeader
	Hash     chainhash.Hash
	Height   uint64
	Work     *big.Int // cumulative chain work up to and including this block
	Parent   *BlockIndex
	HaveData bool
}

// Ancestor walks back to the given height
func (bi *BlockIndex) Ancestor(height uint64) *BlockIndex {
	if height > bi.Height {
		return nil
	}
	walk := bi
	for walk != nil && walk.Height > height {
		walk = walk.Parent
	}
	return walk
}

// HeaderChain tracks every known header and the active chain.
// The active chain only advances over blocks whose data is held locally.
type HeaderChain struct {
	mu     sync.RWMutex
	index  map[chainhash.Hash]*BlockIndex
	best   *BlockIndex   // most-work header
	active []*BlockIndex // height -> index
}

// NewHeaderChain creates a header chain rooted at genesis
func NewHeaderChain(genesis BlockHeader) *HeaderChain {
	g := &BlockIndex{
		Header:   genesis,
		Hash:     genesis.Hash(),
		Work:     CalcWork(genesis.Bits),
		HaveData: true,
	}
	return &HeaderChain{
		index:  map[chainhash.Hash]*BlockIndex{g.Hash: g},
		best:   g,
		active: []*BlockIndex{g},
	}
}

// Lookup returns the index for a known header
func (hc *HeaderChain) Lookup(hash chainhash.Hash) (*BlockIndex, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	bi, ok := hc.index[hash]
	return bi, ok
}

// Connect adds a header whose parent is already known. Connecting a known
// header returns the existing index.
func (hc *HeaderChain) Connect(header BlockHeader) (*BlockIndex, error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hash := header.Hash()
	if bi, ok := hc.index[hash]; ok {
		return bi, nil
	}

	parent, ok := hc.index[header.PrevHash]
	if !ok {
		return nil, fmt.Errorf("parent %s of header %s is unknown", header.PrevHash, hash)
	}

	bi := &BlockIndex{
		Header: header,
		Hash:   hash,
		Height: parent.Height + 1,
		Work:   new(big.Int).Add(parent.Work, CalcWork(header.Bits)),
		Parent: parent,
	}
	hc.index[hash] = bi

	if bi.Work.Cmp(hc.best.Work) > 0 {
		hc.best = bi
	}

	return bi, nil
}

// BestHeader returns the header with the most cumulative work
func (hc *HeaderChain) BestHeader() *BlockIndex {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	return hc.best
}

// ActiveTip returns the tip of the active chain
func (hc *HeaderChain) ActiveTip() *BlockIndex {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	return hc.active[len(hc.active)-1]
}

// Height returns the current active tip height
func (hc *HeaderChain) Height() uint64 {
	return hc.ActiveTip().Height
}

// Contains reports whether bi is part of the active chain
func (hc *HeaderChain) Contains(bi *BlockIndex) bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	return hc.contains(bi)
}

func (hc *HeaderChain) contains(bi *BlockIndex) bool {
	if bi == nil || bi.Height >= uint64(len(hc.active)) {
		return false
	}
	return hc.active[bi.Height] == bi
}

// Locator returns a block locator starting at bi, stepping back
// exponentially after the first ten entries. A nil bi uses the best header.
func (hc *HeaderChain) Locator(bi *BlockIndex) []chainhash.Hash {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	if bi == nil {
		bi = hc.best
	}

	var locator []chainhash.Hash
	step := uint64(1)
	for bi != nil {
		locator = append(locator, bi.Hash)
		if bi.Height == 0 {
			break
		}
		height := uint64(0)
		if bi.Height > step {
			height = bi.Height - step
		}
		bi = bi.Ancestor(height)
		if len(locator) > 10 {
			step *= 2
		}
	}
	return locator
}

// ChainUpdate lists how the active chain moved. Disconnected blocks left
// the active chain, tip first; Connected blocks joined it, lowest first.
type ChainUpdate struct {
	Connected    []*BlockIndex
	Disconnected []*BlockIndex
}

// MarkHaveData records that the full block is stored locally and advances
// the active chain if a branch with more work now has data
func (hc *HeaderChain) MarkHaveData(hash chainhash.Hash) (ChainUpdate, bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	bi, ok := hc.index[hash]
	if !ok {
		return ChainUpdate{}, false
	}
	bi.HaveData = true
	return hc.activateBestChain(), true
}

// HaveData reports whether the full block for hash is held locally
func (hc *HeaderChain) HaveData(hash chainhash.Hash) bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	bi, ok := hc.index[hash]
	return ok && bi.HaveData
}

func (hc *HeaderChain) activateBestChain() ChainUpdate {
	// Path from the best header back to the fork point with the active chain
	var path []*BlockIndex
	for walk := hc.best; walk != nil && !hc.contains(walk); walk = walk.Parent {
		path = append(path, walk)
	}
	if len(path) == 0 {
		return ChainUpdate{}
	}
	fork := path[len(path)-1].Parent
	if fork == nil {
		return ChainUpdate{}
	}

	// Only switch when the new branch has data and more work than the current tip
	var extended []*BlockIndex
	for i := len(path) - 1; i >= 0 && path[i].HaveData; i-- {
		extended = append(extended, path[i])
	}
	if len(extended) == 0 {
		return ChainUpdate{}
	}
	newTip := extended[len(extended)-1]
	if newTip.Work.Cmp(hc.active[len(hc.active)-1].Work) <= 0 {
		return ChainUpdate{}
	}

	var update ChainUpdate
	for i := len(hc.active) - 1; i > int(fork.Height); i-- {
		update.Disconnected = append(update.Disconnected, hc.active[i])
	}
	update.Connected = extended

	hc.active = append(hc.active[:fork.Height+1], extended...)
	return update
}
