package processor

import (
	"github.com/shruggr/thinrelay/messages"
	"github.com/shruggr/thinrelay/thinblock"
)

// CompactPool produces a finder for one compact block's short id keys
type CompactPool interface {
	CompactFinder(keys messages.ShortIDKeys) thinblock.TxFinder
}

// CompactProcessor handles cmpctblock messages
type CompactProcessor struct {
	BlockProcessor
	pool CompactPool
}

// NewCompactProcessor creates a processor for w's compact blocks
func NewCompactProcessor(deps Deps, w *thinblock.Worker, pool CompactPool) *CompactProcessor {
	return &CompactProcessor{
		BlockProcessor: newBlockProcessor(deps, w, messages.CmdCmpctBlock),
		pool:           pool,
	}
}

// Process handles one cmpctblock payload
func (p *CompactProcessor) Process(payload []byte) Result {
	var block messages.CompactBlock
	if err := decode(payload, &block); err != nil {
		return p.rejectBlock(block.Header.Hash(), err.Error(), thinblock.PenaltyMalformed)
	}
	hash := block.Header.Hash()
	p.Logger.Info("received compactblock", "peer", p.peer(), "block", hash, "txs", block.TxCount())

	if err := thinblock.ValidateCompactBlock(&block); err != nil {
		return p.rejectBlock(hash, err.Error(), thinblock.PenaltyMalformed)
	}

	if res, ok := p.prepare(&block.Header); !ok {
		return res
	}

	stub, err := thinblock.NewCompactStub(&block)
	if err != nil {
		return p.rejectBlock(hash, err.Error(), thinblock.PenaltyBadStub)
	}
	if res, ok := p.buildStub(stub, p.pool.CompactFinder(block.Keys())); !ok {
		return res
	}

	missing := p.worker.GetTxsMissing(hash)
	req := &messages.CompactReRequest{BlockHash: hash}
	for _, m := range missing {
		req.Indexes = append(req.Indexes, uint32(m.Index))
	}

	p.Logger.Debug("re-requesting compact transactions", "peer", p.peer(), "block", hash, "missing", len(missing))
	if err := p.Sender.Send(p.peer(), req); err != nil {
		p.Logger.Warn("failed to send re-request", "peer", p.peer(), "error", err)
	}
	return ResultReRequested
}
