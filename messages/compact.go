package messages

import (
	"fmt"
	"math"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/shruggr/thinrelay/merkle"
	"github.com/shruggr/thinrelay/models"
)

// PrefilledTx is a transaction sent inline in a compact block. Index is the
// absolute position in the block; the wire form is differential.
type PrefilledTx struct {
	Index uint32
	Tx    *transaction.Transaction
}

// CompactBlock is a BIP152 compact block
type CompactBlock struct {
	Header    models.BlockHeader
	Nonce     uint64
	ShortIDs  []uint64
	Prefilled []PrefilledTx
}

// NewCompactBlock encodes block with only the coinbase prefilled
func NewCompactBlock(block *models.Block, nonce uint64) *CompactBlock {
	cb := &CompactBlock{
		Header: block.Header,
		Nonce:  nonce,
	}
	if len(block.Transactions) == 0 {
		return cb
	}
	cb.Prefilled = []PrefilledTx{{Index: 0, Tx: block.Transactions[0]}}

	keys := cb.Keys()
	cb.ShortIDs = make([]uint64, 0, len(block.Transactions)-1)
	for _, tx := range block.Transactions[1:] {
		cb.ShortIDs = append(cb.ShortIDs, keys.ShortID(*tx.TxID()))
	}
	return cb
}

// Keys returns the short id keys for this block
func (m *CompactBlock) Keys() ShortIDKeys {
	return NewShortIDKeys(&m.Header, m.Nonce)
}

// TxCount returns the number of transactions the block claims
func (m *CompactBlock) TxCount() int {
	return len(m.ShortIDs) + len(m.Prefilled)
}

func (m *CompactBlock) Command() string { return CmdCmpctBlock }

func (m *CompactBlock) EncodeTo(e *Encoder) {
	e.WriteHeader(&m.Header)
	e.WriteUint64(m.Nonce)

	e.WriteVarInt(uint64(len(m.ShortIDs)))
	var buf [8]byte
	for _, id := range m.ShortIDs {
		for i := 0; i < ShortIDSize; i++ {
			buf[i] = byte(id >> (8 * i))
		}
		e.Write(buf[:ShortIDSize])
	}

	e.WriteVarInt(uint64(len(m.Prefilled)))
	var last int64 = -1
	for _, p := range m.Prefilled {
		e.WriteVarInt(uint64(int64(p.Index) - last - 1))
		e.WriteTx(p.Tx)
		last = int64(p.Index)
	}
}

func (m *CompactBlock) DecodeFrom(d *Decoder) {
	m.Header = d.ReadHeader()
	m.Nonce = d.ReadUint64()

	n := d.ReadCount(merkle.MaxTransactions, ShortIDSize, "short ids")
	m.ShortIDs = make([]uint64, n)
	var buf [ShortIDSize]byte
	for i := range m.ShortIDs {
		d.Read(buf[:])
		var id uint64
		for j := ShortIDSize - 1; j >= 0; j-- {
			id = id<<8 | uint64(buf[j])
		}
		m.ShortIDs[i] = id
	}

	n = d.ReadCount(merkle.MaxTransactions, minTxSize+1, "prefilled transactions")
	m.Prefilled = make([]PrefilledTx, 0, n)
	indexes := newDifferential(d)
	for i := 0; i < n && d.Err() == nil; i++ {
		idx := indexes.next()
		tx := d.ReadTx()
		m.Prefilled = append(m.Prefilled, PrefilledTx{Index: idx, Tx: tx})
	}
}

// differential decodes the BIP152 differential index encoding where each
// value is the gap from the previous index
type differential struct {
	d    *Decoder
	last int64
}

func newDifferential(d *Decoder) *differential {
	return &differential{d: d, last: -1}
}

func (df *differential) next() uint32 {
	gap := df.d.ReadVarInt()
	if df.d.Err() != nil {
		return 0
	}
	if gap > math.MaxUint32 {
		df.d.SetErr(fmt.Errorf("differential index gap %d overflows", gap))
		return 0
	}
	idx := df.last + 1 + int64(gap)
	if idx > math.MaxUint32 {
		df.d.SetErr(fmt.Errorf("differential index %d overflows", idx))
		return 0
	}
	df.last = idx
	return uint32(idx)
}

// CompactReRequest asks for transactions of a compact block by position
type CompactReRequest struct {
	BlockHash chainhash.Hash
	Indexes   []uint32
}

func (m *CompactReRequest) Command() string { return CmdGetBlockTxn }

// EncodeTo writes the indexes differentially; they must be ascending
func (m *CompactReRequest) EncodeTo(e *Encoder) {
	e.WriteHash(m.BlockHash)
	e.WriteVarInt(uint64(len(m.Indexes)))
	var last int64 = -1
	for _, idx := range m.Indexes {
		if int64(idx) <= last {
			if e.err == nil {
				e.err = fmt.Errorf("indexes not ascending at %d", idx)
			}
			return
		}
		e.WriteVarInt(uint64(int64(idx) - last - 1))
		last = int64(idx)
	}
}

func (m *CompactReRequest) DecodeFrom(d *Decoder) {
	m.BlockHash = d.ReadHash()
	n := d.ReadCount(merkle.MaxTransactions, 1, "indexes")
	m.Indexes = make([]uint32, 0, n)
	df := newDifferential(d)
	for i := 0; i < n && d.Err() == nil; i++ {
		m.Indexes = append(m.Indexes, df.next())
	}
}

// CompactReReqResponse carries the transactions requested by getblocktxn,
// in request order
type CompactReReqResponse struct {
	BlockHash chainhash.Hash
	Txs       []*transaction.Transaction
}

func (m *CompactReReqResponse) Command() string { return CmdBlockTxn }

func (m *CompactReReqResponse) EncodeTo(e *Encoder) {
	e.WriteHash(m.BlockHash)
	encodeTxList(e, m.Txs)
}

func (m *CompactReReqResponse) DecodeFrom(d *Decoder) {
	m.BlockHash = d.ReadHash()
	m.Txs = decodeTxList(d)
}
