// Package bloom implements the BIP37 transaction bloom filter used when
// requesting filtered and xthin blocks.
package bloom

import (
	"math"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/spaolacci/murmur3"
)

const (
	// MaxFilterSize is the maximum filter size in bytes
	MaxFilterSize = 36000

	// MaxHashFuncs is the maximum number of hash functions
	MaxHashFuncs = 50

	ln2Squared = math.Ln2 * math.Ln2
	seedScale  = 0xfba4c795
)

// UpdateFlags controls how a remote peer updates the filter on matches
type UpdateFlags uint8

const (
	UpdateNone UpdateFlags = iota
	UpdateAll
	UpdateP2PubkeyOnly
)

// Filter is a BIP37 bloom filter
type Filter struct {
	Data      []byte
	HashFuncs uint32
	Tweak     uint32
	Flags     UpdateFlags
}

// New creates a filter sized for elements entries at the given false
// positive rate
func New(elements int, fpRate float64, tweak uint32, flags UpdateFlags) *Filter {
	if elements < 1 {
		elements = 1
	}
	fpRate = math.Max(1e-9, math.Min(fpRate, 1))

	dataLen := uint32(-1 * float64(elements) * math.Log(fpRate) / ln2Squared / 8)
	dataLen = min(max(dataLen, 1), MaxFilterSize)

	hashFuncs := uint32(float64(dataLen*8) / float64(elements) * math.Ln2)
	hashFuncs = min(max(hashFuncs, 1), MaxHashFuncs)

	return &Filter{
		Data:      make([]byte, dataLen),
		HashFuncs: hashFuncs,
		Tweak:     tweak,
		Flags:     flags,
	}
}

// MatchAll returns a filter that matches every element
func MatchAll() *Filter {
	return &Filter{
		Data:      []byte{0xff},
		HashFuncs: 1,
	}
}

// IsFull reports whether every bit is set
func (f *Filter) IsFull() bool {
	for _, b := range f.Data {
		if b != 0xff {
			return false
		}
	}
	return len(f.Data) > 0
}

// IsValid checks the BIP37 size limits
func (f *Filter) IsValid() bool {
	return len(f.Data) > 0 && len(f.Data) <= MaxFilterSize && f.HashFuncs <= MaxHashFuncs
}

func (f *Filter) hash(i uint32, data []byte) uint32 {
	return murmur3.Sum32WithSeed(data, i*seedScale+f.Tweak) % (uint32(len(f.Data)) << 3)
}

// Insert adds data to the filter
func (f *Filter) Insert(data []byte) {
	if len(f.Data) == 0 {
		return
	}
	for i := uint32(0); i < f.HashFuncs; i++ {
		idx := f.hash(i, data)
		f.Data[idx>>3] |= 1 << (idx & 7)
	}
}

// InsertHash adds a transaction or block hash to the filter
func (f *Filter) InsertHash(h chainhash.Hash) {
	f.Insert(h[:])
}

// Contains reports whether data may be in the filter
func (f *Filter) Contains(data []byte) bool {
	if len(f.Data) == 0 {
		return false
	}
	if f.IsFull() {
		return true
	}
	for i := uint32(0); i < f.HashFuncs; i++ {
		idx := f.hash(i, data)
		if f.Data[idx>>3]&(1<<(idx&7)) == 0 {
			return false
		}
	}
	return true
}

// ContainsHash reports whether a hash may be in the filter
func (f *Filter) ContainsHash(h chainhash.Hash) bool {
	return f.Contains(h[:])
}

// FromHashes builds a filter containing the given hashes
func FromHashes(hashes []chainhash.Hash, fpRate float64, tweak uint32) *Filter {
	f := New(len(hashes), fpRate, tweak, UpdateNone)
	for _, h := range hashes {
		f.InsertHash(h)
	}
	return f
}
