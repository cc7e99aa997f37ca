package thinblock

import (
	"bytes"
	"fmt"
	"log/slog"
	"slices"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shruggr/thinrelay/models"
)

// DefaultMaxAnnouncers is the number of peers asked to announce new blocks
const DefaultMaxAnnouncers = 3

// FinishedBlock is emitted once for every block the manager completes
type FinishedBlock struct {
	Block *models.Block

	// Contributors are the peers whose data resolved at least one
	// placeholder, in order of first contribution
	Contributors []PeerID

	// Released are the peers whose workers were downloading the block
	Released []PeerID
}

type activeBuilder struct {
	builder      *Builder
	workers      []*Worker
	contributors []PeerID
}

func (ab *activeBuilder) contributed(peer PeerID) {
	if !slices.Contains(ab.contributors, peer) {
		ab.contributors = append(ab.contributors, peer)
	}
}

// Manager tracks every active thin block download. It is not safe for
// concurrent use.
type Manager struct {
	builders   map[chainhash.Hash]*activeBuilder
	finished   []FinishedBlock
	announcers *lru.Cache[PeerID, *announceHandle]
	logger     *slog.Logger
}

// NewManager creates a manager asking at most maxAnnouncers peers for
// block announcements
func NewManager(maxAnnouncers int, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAnnouncers <= 0 {
		maxAnnouncers = DefaultMaxAnnouncers
	}

	announcers, err := lru.NewWithEvict(maxAnnouncers, func(peer PeerID, h *announceHandle) {
		h.release()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create announcer cache: %w", err)
	}

	return &Manager{
		builders:   make(map[chainhash.Hash]*activeBuilder),
		announcers: announcers,
		logger:     logger,
	}, nil
}

// AddWorker registers w as downloading hash
func (mg *Manager) AddWorker(hash chainhash.Hash, w *Worker) {
	ab, ok := mg.builders[hash]
	if !ok {
		ab = &activeBuilder{}
		mg.builders[hash] = ab
	}
	if !slices.Contains(ab.workers, w) {
		ab.workers = append(ab.workers, w)
	}
}

// DelWorker removes w from hash. The entry is dropped with its last worker.
func (mg *Manager) DelWorker(hash chainhash.Hash, w *Worker) {
	ab, ok := mg.builders[hash]
	if !ok {
		return
	}
	ab.workers = slices.DeleteFunc(ab.workers, func(x *Worker) bool { return x == w })
	if len(ab.workers) == 0 {
		mg.logger.Debug("no workers left on block", "block", hash)
		delete(mg.builders, hash)
	}
}

// NumWorkers returns how many workers are downloading hash
func (mg *Manager) NumWorkers(hash chainhash.Hash) int {
	if ab, ok := mg.builders[hash]; ok {
		return len(ab.workers)
	}
	return 0
}

// NumBlocks returns the number of blocks being downloaded
func (mg *Manager) NumBlocks() int {
	return len(mg.builders)
}

// BuildStub attaches stub to the download of its block. The first stub
// creates the shared builder; later stubs only contribute their full
// transactions to it. A peer counts as a contributor only when one of its
// transactions filled a placeholder.
func (mg *Manager) BuildStub(w *Worker, stub *Stub, finder TxFinder) error {
	hash := stub.Hash()
	ab, ok := mg.builders[hash]
	if !ok || !slices.Contains(ab.workers, w) {
		return fmt.Errorf("peer %s is not working on block %s", w.Peer(), hash)
	}

	if ab.builder != nil {
		mg.logger.Debug("builder already exists, attaching worker", "peer", w.Peer(), "block", hash)
		for _, tx := range stub.Supplied() {
			if ab.builder.AddTx(tx) {
				ab.contributed(w.Peer())
			}
		}
		return mg.finishIfComplete(hash, ab)
	}

	builder, err := NewBuilder(stub, finder)
	if err != nil {
		return err
	}
	ab.builder = builder
	if builder.StubResolved() > 0 {
		ab.contributed(w.Peer())
	}
	mg.logger.Debug("built stub", "peer", w.Peer(), "block", hash,
		"txs", len(stub.Txs), "missing", builder.left)

	return mg.finishIfComplete(hash, ab)
}

// IsStubBuilt reports whether a builder exists for hash
func (mg *Manager) IsStubBuilt(hash chainhash.Hash) bool {
	ab, ok := mg.builders[hash]
	return ok && ab.builder != nil
}

// AddTx feeds tx supplied by peer into the builder for hash. It reports
// whether the transaction resolved a missing placeholder.
func (mg *Manager) AddTx(peer PeerID, hash chainhash.Hash, tx *transaction.Transaction) (bool, error) {
	ab, ok := mg.builders[hash]
	if !ok || ab.builder == nil {
		return false, nil
	}
	if !ab.builder.AddTx(tx) {
		return false, nil
	}
	ab.contributed(peer)
	return true, mg.finishIfComplete(hash, ab)
}

// AddTxAllBlocks feeds tx into every active builder. It returns the number
// of blocks it resolved a placeholder in.
func (mg *Manager) AddTxAllBlocks(peer PeerID, tx *transaction.Transaction) (int, error) {
	hashes := make([]chainhash.Hash, 0, len(mg.builders))
	for hash, ab := range mg.builders {
		if ab.builder != nil {
			hashes = append(hashes, hash)
		}
	}
	slices.SortFunc(hashes, func(a, b chainhash.Hash) int { return bytes.Compare(a[:], b[:]) })

	used := 0
	var firstErr error
	for _, hash := range hashes {
		ok, err := mg.AddTx(peer, hash, tx)
		if ok {
			used++
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return used, firstErr
}

// GetTxsMissing returns the unresolved placeholders of hash in block
// order. An empty result means there is nothing left to fetch.
func (mg *Manager) GetTxsMissing(hash chainhash.Hash) []MissingTx {
	ab, ok := mg.builders[hash]
	if !ok || ab.builder == nil {
		return nil
	}
	return ab.builder.Missing()
}

// RemoveIfExists drops the download of hash, stopping every worker on it
func (mg *Manager) RemoveIfExists(hash chainhash.Hash) {
	ab, ok := mg.builders[hash]
	if !ok {
		return
	}
	delete(mg.builders, hash)
	for _, w := range ab.workers {
		w.released(hash)
	}
}

// TakeFinished returns and clears the blocks completed since the last call
func (mg *Manager) TakeFinished() []FinishedBlock {
	finished := mg.finished
	mg.finished = nil
	return finished
}

func (mg *Manager) finishIfComplete(hash chainhash.Hash, ab *activeBuilder) error {
	if !ab.builder.IsComplete() {
		return nil
	}

	released := make([]PeerID, 0, len(ab.workers))
	for _, w := range ab.workers {
		released = append(released, w.Peer())
	}

	block, err := ab.builder.Finish()
	mg.RemoveIfExists(hash)
	if err != nil {
		mg.logger.Warn("rebuilt block failed verification", "block", hash, "error", err)
		return err
	}

	mg.logger.Info("finished thin block", "block", hash,
		"txs", len(block.Transactions), "contributors", len(ab.contributors))
	mg.finished = append(mg.finished, FinishedBlock{
		Block:        block,
		Contributors: ab.contributors,
		Released:     released,
	})
	return nil
}
