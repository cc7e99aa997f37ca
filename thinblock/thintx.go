package thinblock

import (
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/shruggr/thinrelay/messages"
)

// IDForm is the kind of identifier a ThinTx carries
type IDForm uint8

const (
	FormHash IDForm = iota
	FormCheap
	FormShort
)

// ThinTx is a transaction placeholder. It either holds the full transaction
// or an identifier that must be resolved: a full txid, a 64-bit cheap hash
// or a 48-bit keyed short id.
type ThinTx struct {
	tx   *transaction.Transaction
	form IDForm
	hash chainhash.Hash
	id   uint64
	keys messages.ShortIDKeys
}

// NewFullThinTx wraps a transaction that is already known
func NewFullThinTx(tx *transaction.Transaction) ThinTx {
	return ThinTx{tx: tx, form: FormHash, hash: *tx.TxID()}
}

// NewHashThinTx identifies a transaction by txid
func NewHashThinTx(txid chainhash.Hash) ThinTx {
	return ThinTx{form: FormHash, hash: txid}
}

// NewCheapThinTx identifies a transaction by its xthin cheap hash
func NewCheapThinTx(cheap uint64) ThinTx {
	return ThinTx{form: FormCheap, id: cheap}
}

// NewShortThinTx identifies a transaction by a compact short id
func NewShortThinTx(id uint64, keys messages.ShortIDKeys) ThinTx {
	return ThinTx{form: FormShort, id: id, keys: keys}
}

// Form returns the identifier kind
func (t ThinTx) Form() IDForm { return t.form }

// HasTx reports whether the full transaction is known
func (t ThinTx) HasTx() bool { return t.tx != nil }

// Tx returns the full transaction or nil
func (t ThinTx) Tx() *transaction.Transaction { return t.tx }

// Hash returns the txid. Only meaningful for FormHash.
func (t ThinTx) Hash() chainhash.Hash { return t.hash }

// Cheap returns the 64-bit cheap hash. For FormHash it is derived from the txid.
func (t ThinTx) Cheap() uint64 {
	if t.form == FormHash {
		return messages.CheapHash(t.hash)
	}
	return t.id
}

// ShortID returns the compact short id
func (t ThinTx) ShortID() uint64 { return t.id }

// Keys returns the short id keys of a FormShort placeholder
func (t ThinTx) Keys() messages.ShortIDKeys { return t.keys }

// Matches reports whether txid is the transaction this placeholder refers to
func (t ThinTx) Matches(txid chainhash.Hash) bool {
	return t.key() == keyFor(t.form, t.keys, txid)
}

func (t ThinTx) key() idKey {
	if t.form == FormHash {
		return idKey{hash: t.hash}
	}
	return idKey{id: t.id}
}

func (t ThinTx) String() string {
	switch t.form {
	case FormCheap:
		return fmt.Sprintf("cheap:%016x", t.id)
	case FormShort:
		return fmt.Sprintf("short:%012x", t.id)
	default:
		return t.hash.String()
	}
}

// idKey is the lookup key of an identifier within one block
type idKey struct {
	hash chainhash.Hash
	id   uint64
}

func keyFor(form IDForm, keys messages.ShortIDKeys, txid chainhash.Hash) idKey {
	switch form {
	case FormCheap:
		return idKey{id: messages.CheapHash(txid)}
	case FormShort:
		return idKey{id: keys.ShortID(txid)}
	default:
		return idKey{hash: txid}
	}
}
