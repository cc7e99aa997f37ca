package messages

import (
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/shruggr/thinrelay/bloom"
	"github.com/shruggr/thinrelay/merkle"
	"github.com/shruggr/thinrelay/models"
)

// MerkleBlock is a BIP37 filtered block: a header plus a partial merkle
// tree revealing the transactions that matched the peer's filter. The
// matched transactions follow as separate tx messages.
type MerkleBlock struct {
	Header models.BlockHeader
	Tree   merkle.PartialTree
}

// NewMerkleBlock builds a filtered block matching filter. It returns the
// merkleblock and the indexes of the matched transactions.
func NewMerkleBlock(block *models.Block, filter *bloom.Filter) (*MerkleBlock, []int, error) {
	txids := block.TxIDs()
	match := make([]bool, len(txids))
	var matched []int
	for i, txid := range txids {
		if filter.ContainsHash(txid) {
			match[i] = true
			matched = append(matched, i)
		}
	}

	tree, err := merkle.NewPartialTree(txids, match)
	if err != nil {
		return nil, nil, err
	}
	return &MerkleBlock{Header: block.Header, Tree: *tree}, matched, nil
}

func (m *MerkleBlock) Command() string { return CmdMerkleBlock }

func (m *MerkleBlock) EncodeTo(e *Encoder) {
	e.WriteHeader(&m.Header)
	e.WriteUint32(m.Tree.Transactions)
	e.WriteVarInt(uint64(len(m.Tree.Hashes)))
	for _, h := range m.Tree.Hashes {
		e.WriteHash(h)
	}
	e.WriteVarBytes(m.Tree.Flags)
}

func (m *MerkleBlock) DecodeFrom(d *Decoder) {
	m.Header = d.ReadHeader()
	m.Tree.Transactions = d.ReadUint32()
	n := d.ReadCount(merkle.MaxTransactions, 32, "merkle hashes")
	m.Tree.Hashes = make([]chainhash.Hash, n)
	for i := range m.Tree.Hashes {
		m.Tree.Hashes[i] = d.ReadHash()
	}
	m.Tree.Flags = d.ReadVarBytes(merkle.MaxTransactions/8 + 1)
}
