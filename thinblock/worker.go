package thinblock

import (
	"fmt"
	"maps"
	"slices"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/shruggr/thinrelay/bloom"
	"github.com/shruggr/thinrelay/messages"
)

type assignment struct {
	reRequesting bool
}

// Worker is a peer's session with the manager. It records which blocks
// the peer is sending; all block state lives in the manager.
type Worker struct {
	mg       *Manager
	peer     PeerID
	protocol Protocol
	work     map[chainhash.Hash]*assignment
}

// NewWorker creates a worker for peer speaking protocol
func NewWorker(mg *Manager, peer PeerID, protocol Protocol) *Worker {
	return &Worker{
		mg:       mg,
		peer:     peer,
		protocol: protocol,
		work:     make(map[chainhash.Hash]*assignment),
	}
}

func (w *Worker) Peer() PeerID           { return w.peer }
func (w *Worker) Protocol() Protocol     { return w.protocol }
func (w *Worker) SupportsParallel() bool { return w.protocol.SupportsParallel() }

// IsWorking reports whether the worker has any assignment
func (w *Worker) IsWorking() bool {
	return len(w.work) > 0
}

// IsWorkingOn reports whether the worker is assigned hash
func (w *Worker) IsWorkingOn(hash chainhash.Hash) bool {
	_, ok := w.work[hash]
	return ok
}

// Blocks returns the assigned block hashes
func (w *Worker) Blocks() []chainhash.Hash {
	return slices.Collect(maps.Keys(w.work))
}

// IsOnlyWorker reports whether this worker is the last one on hash
func (w *Worker) IsOnlyWorker(hash chainhash.Hash) bool {
	return w.IsWorkingOn(hash) && w.mg.NumWorkers(hash) == 1
}

// SetToWork assigns hash. A worker whose protocol cannot multiplex
// refuses a second block while it is busy.
func (w *Worker) SetToWork(hash chainhash.Hash) bool {
	if w.IsWorkingOn(hash) {
		return true
	}
	if w.IsWorking() && !w.SupportsParallel() {
		return false
	}
	w.AddWork(hash)
	return true
}

// AddWork assigns hash unconditionally
func (w *Worker) AddWork(hash chainhash.Hash) {
	if w.IsWorkingOn(hash) {
		return
	}
	w.work[hash] = &assignment{}
	w.mg.AddWorker(hash, w)
}

// StopWork drops the assignment of hash
func (w *Worker) StopWork(hash chainhash.Hash) {
	if !w.IsWorkingOn(hash) {
		return
	}
	delete(w.work, hash)
	w.mg.DelWorker(hash, w)
}

// StopAllWork drops every assignment
func (w *Worker) StopAllWork() {
	for hash := range w.work {
		w.StopWork(hash)
	}
}

// SetAvailable makes the worker free to take a new block
func (w *Worker) SetAvailable() {
	w.StopAllWork()
}

// released is called by the manager when it drops a block
func (w *Worker) released(hash chainhash.Hash) {
	delete(w.work, hash)
}

// BuildStub hands stub to the manager
func (w *Worker) BuildStub(stub *Stub, finder TxFinder) error {
	if !w.IsWorkingOn(stub.Hash()) {
		return fmt.Errorf("peer %s not assigned block %s", w.peer, stub.Hash())
	}
	return w.mg.BuildStub(w, stub, finder)
}

// IsStubBuilt reports whether the block has a builder
func (w *Worker) IsStubBuilt(hash chainhash.Hash) bool {
	return w.mg.IsStubBuilt(hash)
}

// AddTx supplies a transaction for an assigned block
func (w *Worker) AddTx(hash chainhash.Hash, tx *transaction.Transaction) (bool, error) {
	if !w.IsWorkingOn(hash) {
		return false, nil
	}
	return w.mg.AddTx(w.peer, hash, tx)
}

// GetTxsMissing returns the unresolved placeholders of hash
func (w *Worker) GetTxsMissing(hash chainhash.Hash) []MissingTx {
	if !w.IsWorkingOn(hash) {
		return nil
	}
	return w.mg.GetTxsMissing(hash)
}

func (w *Worker) SetReRequesting(hash chainhash.Hash, on bool) {
	if a, ok := w.work[hash]; ok {
		a.reRequesting = on
	}
}

func (w *Worker) IsReRequesting(hash chainhash.Hash) bool {
	a, ok := w.work[hash]
	return ok && a.reRequesting
}

// RequestBlock asks the peer for hash in the worker's protocol and assigns
// it. known is the requester's mempool filter, used by xthin.
func (w *Worker) RequestBlock(hash chainhash.Hash, sender Sender, known *bloom.Filter) error {
	var msgs []messages.Message
	switch w.protocol {
	case ProtocolBloom:
		msgs = []messages.Message{
			&messages.FilterLoad{Filter: *bloom.MatchAll()},
			&messages.GetData{Inventory: []messages.InvVect{{Type: messages.InvFilteredBlock, Hash: hash}}},
		}
	case ProtocolXThin:
		if known == nil {
			known = bloom.New(1, 0.0001, 0, bloom.UpdateNone)
		}
		msgs = []messages.Message{
			&messages.GetXThin{Inv: messages.InvVect{Type: messages.InvXThinBlock, Hash: hash}, Filter: *known},
		}
	case ProtocolCompact:
		msgs = []messages.Message{
			&messages.GetData{Inventory: []messages.InvVect{{Type: messages.InvCompactBlock, Hash: hash}}},
		}
	default:
		return fmt.Errorf("unsupported protocol %s", w.protocol)
	}

	for _, msg := range msgs {
		if err := sender.Send(w.peer, msg); err != nil {
			return fmt.Errorf("failed to request block %s: %w", hash, err)
		}
	}
	w.AddWork(hash)
	return nil
}

// RequestBlockAnnouncements asks the peer to push new blocks
func (w *Worker) RequestBlockAnnouncements(sender Sender) error {
	return w.mg.RequestBlockAnnouncements(w, sender)
}

// Close deregisters the worker from every block and the announcer set
func (w *Worker) Close() {
	w.StopAllWork()
	w.mg.forgetAnnouncer(w.peer)
}
