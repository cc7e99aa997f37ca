package thinblock

import (
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/shruggr/thinrelay/merkle"
	"github.com/shruggr/thinrelay/messages"
	"github.com/shruggr/thinrelay/models"
)

// Stub is the immutable skeleton of a candidate block: the header, one
// placeholder per transaction in block order, and any full transactions
// the peer supplied alongside.
type Stub struct {
	Protocol Protocol
	Header   models.BlockHeader
	Txs      []ThinTx
	Provided []*transaction.Transaction
}

// Hash returns the block hash
func (s *Stub) Hash() chainhash.Hash {
	return s.Header.Hash()
}

// Supplied returns every full transaction the stub carries: the prefilled
// placeholders followed by the provided transactions
func (s *Stub) Supplied() []*transaction.Transaction {
	var txs []*transaction.Transaction
	for _, id := range s.Txs {
		if id.HasTx() {
			txs = append(txs, id.Tx())
		}
	}
	for _, tx := range s.Provided {
		if tx != nil {
			txs = append(txs, tx)
		}
	}
	return txs
}

// NewBloomStub builds a stub from a merkleblock. The partial tree must
// commit to the header's merkle root and reveal every transaction.
func NewBloomStub(mb *messages.MerkleBlock) (*Stub, error) {
	root, matches, _, err := mb.Tree.ExtractMatches()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if root != mb.Header.MerkleRoot {
		return nil, fmt.Errorf("%w: partial tree root %s, header has %s", ErrMerkleMismatch, root, mb.Header.MerkleRoot)
	}
	if len(matches) != int(mb.Tree.Transactions) {
		return nil, fmt.Errorf("%w: merkleblock reveals %d of %d transactions", ErrMalformed, len(matches), mb.Tree.Transactions)
	}

	s := &Stub{
		Protocol: ProtocolBloom,
		Header:   mb.Header,
		Txs:      make([]ThinTx, len(matches)),
	}
	for i, txid := range matches {
		s.Txs[i] = NewHashThinTx(txid)
	}
	return s, nil
}

// NewXThinStub builds a stub from a validated xthin block
func NewXThinStub(xb *messages.XThinBlock) (*Stub, error) {
	if len(xb.TxHashes) == 0 {
		return nil, fmt.Errorf("%w: xthin block has no transactions", ErrMalformed)
	}
	s := &Stub{
		Protocol: ProtocolXThin,
		Header:   xb.Header,
		Txs:      make([]ThinTx, len(xb.TxHashes)),
		Provided: xb.MissingTxs,
	}
	for i, cheap := range xb.TxHashes {
		s.Txs[i] = NewCheapThinTx(cheap)
	}
	return s, nil
}

// NewCompactStub builds a stub from a validated compact block, placing the
// prefilled transactions at their indexes. Colliding short ids make the
// block impossible to rebuild reliably and are rejected.
func NewCompactStub(cb *messages.CompactBlock) (*Stub, error) {
	total := cb.TxCount()
	if total == 0 {
		return nil, fmt.Errorf("%w: compact block has no transactions", ErrMalformed)
	}

	s := &Stub{
		Protocol: ProtocolCompact,
		Header:   cb.Header,
		Txs:      make([]ThinTx, total),
	}

	filled := make([]bool, total)
	for _, p := range cb.Prefilled {
		if int(p.Index) >= total {
			return nil, fmt.Errorf("%w: prefilled index %d out of range", ErrMalformed, p.Index)
		}
		if p.Tx == nil {
			return nil, fmt.Errorf("%w: prefilled transaction %d is null", ErrMalformed, p.Index)
		}
		s.Txs[p.Index] = NewFullThinTx(p.Tx)
		filled[p.Index] = true
	}

	keys := cb.Keys()
	seen := make(map[uint64]struct{}, len(cb.ShortIDs))
	next := 0
	for i := range s.Txs {
		if filled[i] {
			continue
		}
		if next >= len(cb.ShortIDs) {
			return nil, fmt.Errorf("%w: not enough short ids", ErrMalformed)
		}
		id := cb.ShortIDs[next]
		next++
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: short id %012x appears twice", ErrCollision, id)
		}
		seen[id] = struct{}{}
		s.Txs[i] = NewShortThinTx(id, keys)
	}
	return s, nil
}

// ValidateXThinBlock checks an xthin block for internal consistency
func ValidateXThinBlock(xb *messages.XThinBlock) error {
	if len(xb.TxHashes) == 0 {
		return fmt.Errorf("%w: empty xthin block", ErrMalformed)
	}
	if len(xb.TxHashes) > merkle.MaxTransactions {
		return fmt.Errorf("%w: too many transactions", ErrMalformed)
	}
	if len(xb.MissingTxs) > len(xb.TxHashes) {
		return fmt.Errorf("%w: more provided than total transactions", ErrMalformed)
	}
	if len(xb.MissingTxs) == 0 {
		return fmt.Errorf("%w: coinbase not provided", ErrMalformed)
	}
	if !xb.MissingTxs[0].IsCoinbase() {
		return fmt.Errorf("%w: first provided transaction is not coinbase", ErrMalformed)
	}

	listed := make(map[uint64]struct{}, len(xb.TxHashes))
	for _, h := range xb.TxHashes {
		if _, dup := listed[h]; dup {
			return fmt.Errorf("%w: duplicate cheap hash %016x", ErrMalformed, h)
		}
		listed[h] = struct{}{}
	}
	for _, tx := range xb.MissingTxs {
		if tx == nil {
			return fmt.Errorf("%w: null provided transaction", ErrMalformed)
		}
		if _, ok := listed[messages.CheapHash(*tx.TxID())]; !ok {
			return fmt.Errorf("%w: provided transaction %s not in block", ErrMalformed, tx.TxID())
		}
	}
	return nil
}

// ValidateCompactBlock checks a compact block for internal consistency
func ValidateCompactBlock(cb *messages.CompactBlock) error {
	if cb.Header.IsNull() {
		return fmt.Errorf("%w: null header", ErrMalformed)
	}
	total := cb.TxCount()
	if total == 0 {
		return fmt.Errorf("%w: empty compact block", ErrMalformed)
	}
	if total > merkle.MaxTransactions {
		return fmt.Errorf("%w: too many transactions", ErrMalformed)
	}
	last := -1
	for _, p := range cb.Prefilled {
		if int(p.Index) <= last {
			return fmt.Errorf("%w: prefilled indexes not ascending", ErrMalformed)
		}
		if int(p.Index) >= total {
			return fmt.Errorf("%w: prefilled index %d out of range", ErrMalformed, p.Index)
		}
		if p.Tx == nil {
			return fmt.Errorf("%w: null prefilled transaction", ErrMalformed)
		}
		last = int(p.Index)
	}
	return nil
}
