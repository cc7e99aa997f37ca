// Package mempool holds unconfirmed transactions for thin block
// reconstruction. It is a bounded LRU pool with secondary indexes for the
// xthin cheap hash and per-block compact short ids.
package mempool

import (
	"sync"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shruggr/thinrelay/bloom"
	"github.com/shruggr/thinrelay/messages"
	"github.com/shruggr/thinrelay/models"
	"github.com/shruggr/thinrelay/thinblock"
	"lukechampine.com/frand"
)

// DefaultSize is the number of transactions kept when no size is given
const DefaultSize = 100_000

// Pool is an in-memory LRU transaction pool
type Pool struct {
	txs   *lru.Cache[chainhash.Hash, *transaction.Transaction]
	cheap map[uint64][]chainhash.Hash
	mu    sync.RWMutex
}

// New creates a pool holding at most size transactions
func New(size int) (*Pool, error) {
	if size <= 0 {
		size = DefaultSize
	}
	p := &Pool{cheap: make(map[uint64][]chainhash.Hash)}

	l, err := lru.NewWithEvict(size, p.onEvict)
	if err != nil {
		return nil, err
	}
	p.txs = l
	return p, nil
}

// onEvict runs with mu held by the caller of Add or Remove
func (p *Pool) onEvict(txid chainhash.Hash, _ *transaction.Transaction) {
	key := messages.CheapHash(txid)
	ids := p.cheap[key]
	for i, id := range ids {
		if id == txid {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(p.cheap, key)
		return
	}
	p.cheap[key] = ids
}

// Add stores tx. It reports false if the transaction was already present.
func (p *Pool) Add(tx *transaction.Transaction) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	txid := *tx.TxID()
	if p.txs.Contains(txid) {
		return false
	}
	p.txs.Add(txid, tx)
	key := messages.CheapHash(txid)
	p.cheap[key] = append(p.cheap[key], txid)
	return true
}

// Get retrieves a transaction by id
func (p *Pool) Get(txid chainhash.Hash) (*transaction.Transaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.txs.Peek(txid)
}

// Remove drops a transaction
func (p *Pool) Remove(txid chainhash.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.txs.Remove(txid)
}

// RemoveBlock drops every transaction confirmed by block
func (p *Pool) RemoveBlock(block *models.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, txid := range block.TxIDs() {
		p.txs.Remove(txid)
	}
}

// Len returns the number of pooled transactions
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.txs.Len()
}

// Find resolves a thin block placeholder. Ambiguous cheap hashes and short
// ids resolve to nil so the transaction is fetched from the peer instead.
func (p *Pool) Find(id thinblock.ThinTx) *transaction.Transaction {
	if id.HasTx() {
		return id.Tx()
	}

	switch id.Form() {
	case thinblock.FormHash:
		tx, _ := p.Get(id.Hash())
		return tx
	case thinblock.FormCheap:
		p.mu.RLock()
		defer p.mu.RUnlock()

		ids := p.cheap[id.Cheap()]
		if len(ids) != 1 {
			return nil
		}
		tx, _ := p.txs.Peek(ids[0])
		return tx
	case thinblock.FormShort:
		return p.CompactFinder(id.Keys()).Find(id)
	default:
		return nil
	}
}

// CompactFinder indexes the pool by the short ids of one compact block
func (p *Pool) CompactFinder(keys messages.ShortIDKeys) thinblock.TxFinder {
	p.mu.RLock()
	defer p.mu.RUnlock()

	f := &compactFinder{keys: keys, ids: make(map[uint64]*transaction.Transaction, p.txs.Len())}
	for _, txid := range p.txs.Keys() {
		short := keys.ShortID(txid)
		if _, dup := f.ids[short]; dup {
			f.ids[short] = nil
			continue
		}
		tx, _ := p.txs.Peek(txid)
		f.ids[short] = tx
	}
	return f
}

type compactFinder struct {
	keys messages.ShortIDKeys
	ids  map[uint64]*transaction.Transaction
}

func (f *compactFinder) Find(id thinblock.ThinTx) *transaction.Transaction {
	if id.HasTx() {
		return id.Tx()
	}
	if id.Form() != thinblock.FormShort || id.Keys() != f.keys {
		return nil
	}
	return f.ids[id.ShortID()]
}

// Filter returns a bloom filter of every pooled transaction id, sent with
// xthin requests so the peer can skip what we already have
func (p *Pool) Filter(fpRate float64) *bloom.Filter {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return bloom.FromHashes(p.txs.Keys(), fpRate, uint32(frand.Uint64n(1<<32)))
}
