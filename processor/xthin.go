package processor

import (
	"github.com/shruggr/thinrelay/messages"
	"github.com/shruggr/thinrelay/thinblock"
)

// XThinProcessor handles xthinblock messages
type XThinProcessor struct {
	BlockProcessor
	finder thinblock.TxFinder
}

// NewXThinProcessor creates a processor for w's xthin announcements
func NewXThinProcessor(deps Deps, w *thinblock.Worker, finder thinblock.TxFinder) *XThinProcessor {
	return &XThinProcessor{
		BlockProcessor: newBlockProcessor(deps, w, messages.CmdXThinBlock),
		finder:         finder,
	}
}

// Process handles one xthinblock payload
func (p *XThinProcessor) Process(payload []byte) Result {
	var block messages.XThinBlock
	if err := decode(payload, &block); err != nil {
		return p.rejectBlock(block.Header.Hash(), err.Error(), thinblock.PenaltyMalformed)
	}
	hash := block.Header.Hash()
	p.Logger.Info("received xthinblock", "peer", p.peer(), "block", hash, "txs", len(block.TxHashes))

	if err := thinblock.ValidateXThinBlock(&block); err != nil {
		return p.rejectBlock(hash, err.Error(), thinblock.PenaltyMalformed)
	}

	if res, ok := p.prepare(&block.Header); !ok {
		return res
	}

	stub, err := thinblock.NewXThinStub(&block)
	if err != nil {
		return p.rejectBlock(hash, err.Error(), thinblock.PenaltyBadStub)
	}
	if res, ok := p.buildStub(stub, p.finder); !ok {
		return res
	}

	missing := p.worker.GetTxsMissing(hash)
	req := &messages.XThinReRequest{Block: hash}
	for _, m := range missing {
		req.TxRequested = append(req.TxRequested, m.ID.Cheap())
	}

	p.Logger.Info("re-requesting xthin transactions", "peer", p.peer(), "block", hash, "missing", len(missing))
	if err := p.Sender.Send(p.peer(), req); err != nil {
		p.Logger.Warn("failed to send re-request", "peer", p.peer(), "error", err)
	}
	return ResultReRequested
}
