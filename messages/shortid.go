package messages

import (
	"encoding/binary"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/dchest/siphash"
	"github.com/shruggr/thinrelay/models"
)

// ShortIDSize is the wire size of a compact block short id
const ShortIDSize = 6

const shortIDMask = 0xffffffffffff

// ShortIDKeys are the per-block SipHash keys used for compact short ids
type ShortIDKeys struct {
	K0 uint64
	K1 uint64
}

// NewShortIDKeys derives the keys from SHA256(header || nonce)
func NewShortIDKeys(header *models.BlockHeader, nonce uint64) ShortIDKeys {
	buf := make([]byte, models.HeaderSize+8)
	copy(buf, header.Bytes())
	binary.LittleEndian.PutUint64(buf[models.HeaderSize:], nonce)
	sum := chainhash.HashB(buf)
	return ShortIDKeys{
		K0: binary.LittleEndian.Uint64(sum[0:8]),
		K1: binary.LittleEndian.Uint64(sum[8:16]),
	}
}

// ShortID returns the 48-bit short id of a transaction id
func (k ShortIDKeys) ShortID(txid chainhash.Hash) uint64 {
	return siphash.Hash(k.K0, k.K1, txid[:]) & shortIDMask
}

// CheapHash returns the 64-bit xthin identifier of a transaction id
func CheapHash(txid chainhash.Hash) uint64 {
	return binary.LittleEndian.Uint64(txid[:8])
}
