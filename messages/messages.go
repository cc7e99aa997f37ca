package messages

import (
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/shruggr/thinrelay/bloom"
	"github.com/shruggr/thinrelay/merkle"
	"github.com/shruggr/thinrelay/models"
)

// Network commands handled by the relay
const (
	CmdBlock       = "block"
	CmdTx          = "tx"
	CmdGetData     = "getdata"
	CmdInv         = "inv"
	CmdGetHeaders  = "getheaders"
	CmdHeaders     = "headers"
	CmdPing        = "ping"
	CmdPong        = "pong"
	CmdReject      = "reject"
	CmdFilterLoad  = "filterload"
	CmdMerkleBlock = "merkleblock"
	CmdXThinBlock  = "xthinblock"
	CmdGetXThin    = "get_xthin"
	CmdGetXBlockTx = "get_xblocktx"
	CmdXBlockTx    = "xblocktx"
	CmdCmpctBlock  = "cmpctblock"
	CmdSendCmpct   = "sendcmpct"
	CmdGetBlockTxn = "getblocktxn"
	CmdBlockTxn    = "blocktxn"
)

// Limits applied while decoding
const (
	MaxInvPerMsg     = 50_000
	MaxHeadersPerMsg = 2_000
	MaxLocatorHashes = 101
	MaxRejectReason  = 111
	MaxCommandSize   = 12
	ProtocolVersion  = 80_003
	CompactVersion   = 1
)

// Message is a payload exchanged with peers
type Message interface {
	Command() string
	EncodeTo(e *Encoder)
	DecodeFrom(d *Decoder)
}

// InvType identifies the object an inventory vector refers to
type InvType uint32

const (
	InvError InvType = iota
	InvTx
	InvBlock
	InvFilteredBlock
	InvCompactBlock
	InvXThinBlock
)

func (t InvType) String() string {
	switch t {
	case InvTx:
		return "tx"
	case InvBlock:
		return "block"
	case InvFilteredBlock:
		return "filtered_block"
	case InvCompactBlock:
		return "cmpct_block"
	case InvXThinBlock:
		return "xthin_block"
	default:
		return fmt.Sprintf("inv(%d)", uint32(t))
	}
}

// InvVect is an inventory vector
type InvVect struct {
	Type InvType
	Hash chainhash.Hash
}

func (iv *InvVect) encodeTo(e *Encoder) {
	e.WriteUint32(uint32(iv.Type))
	e.WriteHash(iv.Hash)
}

func (iv *InvVect) decodeFrom(d *Decoder) {
	iv.Type = InvType(d.ReadUint32())
	iv.Hash = d.ReadHash()
}

func encodeInvList(e *Encoder, list []InvVect) {
	e.WriteVarInt(uint64(len(list)))
	for i := range list {
		list[i].encodeTo(e)
	}
}

func decodeInvList(d *Decoder) []InvVect {
	n := d.ReadCount(MaxInvPerMsg, 36, "inventory vectors")
	list := make([]InvVect, n)
	for i := range list {
		list[i].decodeFrom(d)
	}
	return list
}

// GetData requests the listed objects
type GetData struct {
	Inventory []InvVect
}

func (m *GetData) Command() string       { return CmdGetData }
func (m *GetData) EncodeTo(e *Encoder)   { encodeInvList(e, m.Inventory) }
func (m *GetData) DecodeFrom(d *Decoder) { m.Inventory = decodeInvList(d) }

// Inv announces the listed objects
type Inv struct {
	Inventory []InvVect
}

func (m *Inv) Command() string       { return CmdInv }
func (m *Inv) EncodeTo(e *Encoder)   { encodeInvList(e, m.Inventory) }
func (m *Inv) DecodeFrom(d *Decoder) { m.Inventory = decodeInvList(d) }

// GetHeaders asks a peer for headers following the locator
type GetHeaders struct {
	Version  uint32
	Locator  []chainhash.Hash
	HashStop chainhash.Hash
}

func (m *GetHeaders) Command() string { return CmdGetHeaders }

func (m *GetHeaders) EncodeTo(e *Encoder) {
	e.WriteUint32(m.Version)
	e.WriteVarInt(uint64(len(m.Locator)))
	for _, h := range m.Locator {
		e.WriteHash(h)
	}
	e.WriteHash(m.HashStop)
}

func (m *GetHeaders) DecodeFrom(d *Decoder) {
	m.Version = d.ReadUint32()
	n := d.ReadCount(MaxLocatorHashes, 32, "locator hashes")
	m.Locator = make([]chainhash.Hash, n)
	for i := range m.Locator {
		m.Locator[i] = d.ReadHash()
	}
	m.HashStop = d.ReadHash()
}

// Headers carries a batch of block headers. Each header is followed by a
// zero transaction count on the wire.
type Headers struct {
	Headers []models.BlockHeader
}

func (m *Headers) Command() string { return CmdHeaders }

func (m *Headers) EncodeTo(e *Encoder) {
	e.WriteVarInt(uint64(len(m.Headers)))
	for i := range m.Headers {
		e.WriteHeader(&m.Headers[i])
		e.WriteVarInt(0)
	}
}

func (m *Headers) DecodeFrom(d *Decoder) {
	n := d.ReadCount(MaxHeadersPerMsg, models.HeaderSize+1, "headers")
	m.Headers = make([]models.BlockHeader, n)
	for i := range m.Headers {
		m.Headers[i] = d.ReadHeader()
		if txs := d.ReadVarInt(); txs != 0 {
			d.SetErr(fmt.Errorf("header %d has non-zero transaction count %d", i, txs))
		}
	}
}

// Ping is a liveness check
type Ping struct {
	Nonce uint64
}

func (m *Ping) Command() string       { return CmdPing }
func (m *Ping) EncodeTo(e *Encoder)   { e.WriteUint64(m.Nonce) }
func (m *Ping) DecodeFrom(d *Decoder) { m.Nonce = d.ReadUint64() }

// Pong answers a ping with the same nonce
type Pong struct {
	Nonce uint64
}

func (m *Pong) Command() string       { return CmdPong }
func (m *Pong) EncodeTo(e *Encoder)   { e.WriteUint64(m.Nonce) }
func (m *Pong) DecodeFrom(d *Decoder) { m.Nonce = d.ReadUint64() }

// RejectCode classifies a reject message
type RejectCode uint8

const (
	RejectMalformed RejectCode = 0x01
	RejectInvalid   RejectCode = 0x10
	RejectDuplicate RejectCode = 0x12
)

// Reject tells a peer one of its messages was refused
type Reject struct {
	Message string
	Code    RejectCode
	Reason  string
	Hash    chainhash.Hash
}

func (m *Reject) Command() string { return CmdReject }

func (m *Reject) EncodeTo(e *Encoder) {
	e.WriteVarString(m.Message)
	e.WriteUint8(uint8(m.Code))
	e.WriteVarString(m.Reason)
	e.WriteHash(m.Hash)
}

func (m *Reject) DecodeFrom(d *Decoder) {
	m.Message = d.ReadVarString(MaxCommandSize)
	m.Code = RejectCode(d.ReadUint8())
	m.Reason = d.ReadVarString(MaxRejectReason)
	// the hash is only present for block and tx rejects
	if d.Remaining() >= chainhash.HashSize {
		m.Hash = d.ReadHash()
	}
}

// Tx relays a single transaction
type Tx struct {
	Tx *transaction.Transaction
}

func (m *Tx) Command() string       { return CmdTx }
func (m *Tx) EncodeTo(e *Encoder)   { e.WriteTx(m.Tx) }
func (m *Tx) DecodeFrom(d *Decoder) { m.Tx = d.ReadTx() }

// Block carries a full block
type Block struct {
	Block models.Block
}

func (m *Block) Command() string { return CmdBlock }

func (m *Block) EncodeTo(e *Encoder) {
	e.WriteHeader(&m.Block.Header)
	encodeTxList(e, m.Block.Transactions)
}

func (m *Block) DecodeFrom(d *Decoder) {
	m.Block.Header = d.ReadHeader()
	m.Block.Transactions = decodeTxList(d)
}

func encodeTxList(e *Encoder, txs []*transaction.Transaction) {
	e.WriteVarInt(uint64(len(txs)))
	for _, tx := range txs {
		e.WriteTx(tx)
	}
}

func decodeTxList(d *Decoder) []*transaction.Transaction {
	n := d.ReadCount(merkle.MaxTransactions, minTxSize, "transactions")
	txs := make([]*transaction.Transaction, 0, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		txs = append(txs, d.ReadTx())
	}
	return txs
}

// FilterLoad installs a BIP37 bloom filter on the remote peer
type FilterLoad struct {
	Filter bloom.Filter
}

func (m *FilterLoad) Command() string       { return CmdFilterLoad }
func (m *FilterLoad) EncodeTo(e *Encoder)   { encodeFilter(e, &m.Filter) }
func (m *FilterLoad) DecodeFrom(d *Decoder) { decodeFilter(d, &m.Filter) }

func encodeFilter(e *Encoder, f *bloom.Filter) {
	e.WriteVarBytes(f.Data)
	e.WriteUint32(f.HashFuncs)
	e.WriteUint32(f.Tweak)
	e.WriteUint8(uint8(f.Flags))
}

func decodeFilter(d *Decoder, f *bloom.Filter) {
	f.Data = d.ReadVarBytes(bloom.MaxFilterSize)
	f.HashFuncs = d.ReadUint32()
	f.Tweak = d.ReadUint32()
	f.Flags = bloom.UpdateFlags(d.ReadUint8())
	if d.Err() == nil && f.HashFuncs > bloom.MaxHashFuncs {
		d.SetErr(fmt.Errorf("bloom filter uses %d hash funcs, max %d", f.HashFuncs, bloom.MaxHashFuncs))
	}
}

// SendCmpct negotiates compact block relay. Announce asks the peer to
// push new blocks as cmpctblock without an inv round trip.
type SendCmpct struct {
	Announce bool
	Version  uint64
}

func (m *SendCmpct) Command() string { return CmdSendCmpct }

func (m *SendCmpct) EncodeTo(e *Encoder) {
	e.WriteBool(m.Announce)
	e.WriteUint64(m.Version)
}

func (m *SendCmpct) DecodeFrom(d *Decoder) {
	m.Announce = d.ReadBool()
	m.Version = d.ReadUint64()
}
