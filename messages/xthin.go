package messages

import (
	"slices"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/shruggr/thinrelay/bloom"
	"github.com/shruggr/thinrelay/merkle"
	"github.com/shruggr/thinrelay/models"
)

// XThinBlock announces a block as a list of 64-bit cheap hashes plus the
// transactions the sender expects the receiver not to have
type XThinBlock struct {
	Header     models.BlockHeader
	TxHashes   []uint64
	MissingTxs []*transaction.Transaction
}

// NewXThinBlock builds an xthin block, providing inline every transaction
// not matched by the receiver's filter. The coinbase is always included.
func NewXThinBlock(block *models.Block, filter *bloom.Filter) *XThinBlock {
	xb := &XThinBlock{
		Header:   block.Header,
		TxHashes: make([]uint64, len(block.Transactions)),
	}
	for i, tx := range block.Transactions {
		txid := *tx.TxID()
		xb.TxHashes[i] = CheapHash(txid)
		if i == 0 || filter == nil || !filter.ContainsHash(txid) {
			xb.MissingTxs = append(xb.MissingTxs, tx)
		}
	}
	return xb
}

func (m *XThinBlock) Command() string { return CmdXThinBlock }

func (m *XThinBlock) EncodeTo(e *Encoder) {
	e.WriteHeader(&m.Header)
	e.WriteVarInt(uint64(len(m.TxHashes)))
	for _, h := range m.TxHashes {
		e.WriteUint64(h)
	}
	encodeTxList(e, m.MissingTxs)
}

func (m *XThinBlock) DecodeFrom(d *Decoder) {
	m.Header = d.ReadHeader()
	n := d.ReadCount(merkle.MaxTransactions, 8, "cheap hashes")
	m.TxHashes = make([]uint64, n)
	for i := range m.TxHashes {
		m.TxHashes[i] = d.ReadUint64()
	}
	m.MissingTxs = decodeTxList(d)
}

// GetXThin requests a block as xthin, passing a filter of the transactions
// the requester already holds
type GetXThin struct {
	Inv    InvVect
	Filter bloom.Filter
}

func (m *GetXThin) Command() string { return CmdGetXThin }

func (m *GetXThin) EncodeTo(e *Encoder) {
	m.Inv.encodeTo(e)
	encodeFilter(e, &m.Filter)
}

func (m *GetXThin) DecodeFrom(d *Decoder) {
	m.Inv.decodeFrom(d)
	decodeFilter(d, &m.Filter)
}

// XThinReRequest asks for the transactions behind a set of cheap hashes
type XThinReRequest struct {
	Block       chainhash.Hash
	TxRequested []uint64
}

func (m *XThinReRequest) Command() string { return CmdGetXBlockTx }

// EncodeTo writes the cheap hashes as a sorted set
func (m *XThinReRequest) EncodeTo(e *Encoder) {
	e.WriteHash(m.Block)
	set := slices.Clone(m.TxRequested)
	slices.Sort(set)
	set = slices.Compact(set)
	e.WriteVarInt(uint64(len(set)))
	for _, h := range set {
		e.WriteUint64(h)
	}
}

func (m *XThinReRequest) DecodeFrom(d *Decoder) {
	m.Block = d.ReadHash()
	n := d.ReadCount(merkle.MaxTransactions, 8, "cheap hashes")
	m.TxRequested = make([]uint64, n)
	for i := range m.TxRequested {
		m.TxRequested[i] = d.ReadUint64()
	}
}

// XThinReReqResponse carries the transactions requested by get_xblocktx
type XThinReReqResponse struct {
	Block       chainhash.Hash
	TxRequested []*transaction.Transaction
}

func (m *XThinReReqResponse) Command() string { return CmdXBlockTx }

func (m *XThinReReqResponse) EncodeTo(e *Encoder) {
	e.WriteHash(m.Block)
	encodeTxList(e, m.TxRequested)
}

func (m *XThinReReqResponse) DecodeFrom(d *Decoder) {
	m.Block = d.ReadHash()
	m.TxRequested = decodeTxList(d)
}
