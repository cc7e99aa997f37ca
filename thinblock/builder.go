package thinblock

import (
	"fmt"
	"slices"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/shruggr/thinrelay/merkle"
	"github.com/shruggr/thinrelay/messages"
	"github.com/shruggr/thinrelay/models"
)

// MissingTx is an unresolved placeholder and its position in the block
type MissingTx struct {
	Index int
	ID    ThinTx
}

// Builder is the mutable reconstruction state of one block
type Builder struct {
	header  models.BlockHeader
	form    IDForm
	keys    messages.ShortIDKeys
	ids     []ThinTx
	txs     []*transaction.Transaction
	missing map[idKey][]int
	left    int

	// fromStub counts placeholders filled by the stub's own transactions
	fromStub int
}

// NewBuilder creates a builder from stub, resolving what it can through
// finder and then through the stub's provided transactions. Every
// identifier in a stub has the form of its protocol.
func NewBuilder(stub *Stub, finder TxFinder) (*Builder, error) {
	if len(stub.Txs) == 0 {
		return nil, fmt.Errorf("%w: stub has no transactions", ErrMalformed)
	}

	b := &Builder{
		header:  stub.Header,
		form:    stub.Protocol.IDForm(),
		ids:     stub.Txs,
		txs:     make([]*transaction.Transaction, len(stub.Txs)),
		missing: make(map[idKey][]int),
	}

	for i, id := range stub.Txs {
		if id.HasTx() {
			b.txs[i] = id.Tx()
			b.fromStub++
			continue
		}
		if id.Form() != b.form {
			return nil, fmt.Errorf("%w: %s stub carries identifier %s", ErrMalformed, stub.Protocol, id)
		}
		if b.form == FormShort {
			b.keys = id.Keys()
		}
		if finder != nil {
			if tx := finder.Find(id); tx != nil && id.Matches(*tx.TxID()) {
				b.txs[i] = tx
				continue
			}
		}
		b.missing[id.key()] = append(b.missing[id.key()], i)
		b.left++
	}

	for _, tx := range stub.Provided {
		if tx != nil && b.AddTx(tx) {
			b.fromStub++
		}
	}
	return b, nil
}

// StubResolved returns how many placeholders the stub's own transactions
// filled, prefilled entries included
func (b *Builder) StubResolved() int {
	return b.fromStub
}

// Hash returns the hash of the block being built
func (b *Builder) Hash() chainhash.Hash {
	return b.header.Hash()
}

// AddTx resolves every placeholder tx matches. It reports whether at
// least one missing index was filled.
func (b *Builder) AddTx(tx *transaction.Transaction) bool {
	if b.left == 0 {
		return false
	}
	key := keyFor(b.form, b.keys, *tx.TxID())
	indexes, ok := b.missing[key]
	if !ok {
		return false
	}
	for _, i := range indexes {
		b.txs[i] = tx
	}
	b.left -= len(indexes)
	delete(b.missing, key)
	return true
}

// IsComplete reports whether every index is resolved
func (b *Builder) IsComplete() bool {
	return b.left == 0
}

// Missing returns the unresolved placeholders ordered by index
func (b *Builder) Missing() []MissingTx {
	missing := make([]MissingTx, 0, b.left)
	for _, indexes := range b.missing {
		for _, i := range indexes {
			missing = append(missing, MissingTx{Index: i, ID: b.ids[i]})
		}
	}
	slices.SortFunc(missing, func(a, b MissingTx) int { return a.Index - b.Index })
	return missing
}

// Finish assembles the block and checks its merkle root against the header
func (b *Builder) Finish() (*models.Block, error) {
	if !b.IsComplete() {
		return nil, fmt.Errorf("block %s still missing %d transactions", b.Hash(), b.left)
	}
	block := &models.Block{
		Header:       b.header,
		Transactions: slices.Clone(b.txs),
	}
	if root := merkle.Root(block.TxIDs()); root != b.header.MerkleRoot {
		return nil, fmt.Errorf("%w: block %s rebuilt with root %s", ErrMerkleMismatch, b.Hash(), root)
	}
	return block, nil
}
