package processor

import (
	"github.com/shruggr/thinrelay/messages"
	"github.com/shruggr/thinrelay/thinblock"
)

// BloomProcessor handles merkleblock messages. Missing transactions arrive
// as separate tx messages, so instead of re-requesting it sends a ping and
// lets the BloomConcluder decide once the pong arrives.
type BloomProcessor struct {
	BlockProcessor
	finder thinblock.TxFinder
	pongs  *thinblock.PongTracker
	nonce  func() uint64
}

// NewBloomProcessor creates a processor for w's filtered blocks
func NewBloomProcessor(deps Deps, w *thinblock.Worker, finder thinblock.TxFinder, pongs *thinblock.PongTracker) *BloomProcessor {
	return &BloomProcessor{
		BlockProcessor: newBlockProcessor(deps, w, messages.CmdMerkleBlock),
		finder:         finder,
		pongs:          pongs,
		nonce:          thinblock.NewNonce,
	}
}

// SetNonceSource replaces the ping nonce generator
func (p *BloomProcessor) SetNonceSource(nonce func() uint64) {
	p.nonce = nonce
}

// Process handles one merkleblock payload
func (p *BloomProcessor) Process(payload []byte) Result {
	var block messages.MerkleBlock
	if err := decode(payload, &block); err != nil {
		return p.rejectBlock(block.Header.Hash(), err.Error(), thinblock.PenaltyMalformed)
	}
	hash := block.Header.Hash()
	p.Logger.Debug("received merkleblock", "peer", p.peer(), "block", hash, "txs", block.Tree.Transactions)

	if res, ok := p.prepare(&block.Header); !ok {
		return res
	}

	stub, err := thinblock.NewBloomStub(&block)
	if err != nil {
		return p.rejectBlock(hash, err.Error(), thinblock.PenaltyBadStub)
	}
	if res, ok := p.buildStub(stub, p.finder); !ok {
		return res
	}

	nonce := p.nonce()
	p.pongs.Expect(nonce, hash)
	if err := p.Sender.Send(p.peer(), &messages.Ping{Nonce: nonce}); err != nil {
		p.Logger.Warn("failed to send ping", "peer", p.peer(), "error", err)
	}
	return ResultReRequested
}
