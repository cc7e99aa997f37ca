package node

import (
	"errors"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/shruggr/thinrelay/bloom"
	"github.com/shruggr/thinrelay/headers"
	"github.com/shruggr/thinrelay/messages"
	"github.com/shruggr/thinrelay/models"
	"github.com/shruggr/thinrelay/thinblock"
)

func (n *Node) handleHeaders(p *peerState, payload []byte) {
	var msg messages.Headers
	if !n.decode(p, payload, &msg) || len(msg.Headers) == 0 {
		return
	}

	peerSentMax := len(msg.Headers) == messages.MaxHeadersPerMsg
	_, toFetch, err := n.headers.ProcessHeaders(p.id, msg.Headers, peerSentMax)
	switch {
	case errors.Is(err, headers.ErrUnconnected):
		n.headers.RequestConnectHeaders(&msg.Headers[0], p.id)
		return
	case err != nil:
		n.logger.Info("invalid headers", "peer", p.id, "error", err)
		n.Penalize(p.id, thinblock.PenaltyInvalidHeader)
		return
	}

	for _, bi := range toFetch {
		if !n.requestBlock(p, bi.Hash) {
			break
		}
	}
}

// requestBlock asks p for hash in its protocol. It reports false when the
// worker cannot take more work.
func (n *Node) requestBlock(p *peerState, hash chainhash.Hash) bool {
	if n.IsInFlight(hash) || n.HaveData(hash) {
		return true
	}
	if p.worker.IsWorking() && !p.worker.SupportsParallel() {
		return false
	}

	var known *bloom.Filter
	if p.worker.Protocol() == thinblock.ProtocolXThin {
		known = n.pool.Filter(n.cfg.FilterFPRate)
	}
	if err := p.worker.RequestBlock(hash, n.sender, known); err != nil {
		n.logger.Warn("failed to request block", "peer", p.id, "block", hash, "error", err)
		return false
	}
	n.markInFlight(p.id, hash, false)
	n.logger.Debug("requested block", "peer", p.id, "block", hash, "protocol", p.worker.Protocol())

	// a pong that overtakes the merkleblock means the peer never sent one
	if p.worker.Protocol() == thinblock.ProtocolBloom {
		nonce := thinblock.NewNonce()
		p.pongs.Expect(nonce, hash)
		n.send(p.id, &messages.Ping{Nonce: nonce})
	}
	return true
}

func (n *Node) handleInv(p *peerState, payload []byte) {
	var msg messages.Inv
	if !n.decode(p, payload, &msg) {
		return
	}

	var wantTxs []messages.InvVect
	askedHeaders := false
	for _, inv := range msg.Inventory {
		switch inv.Type {
		case messages.InvBlock:
			if askedHeaders || n.HaveData(inv.Hash) || n.IsInFlight(inv.Hash) {
				continue
			}
			if _, known := n.chain.Lookup(inv.Hash); known {
				continue
			}
			n.send(p.id, &messages.GetHeaders{
				Version:  messages.ProtocolVersion,
				Locator:  n.chain.Locator(n.chain.BestHeader()),
				HashStop: inv.Hash,
			})
			askedHeaders = true
		case messages.InvTx:
			if _, ok := n.pool.Get(inv.Hash); !ok {
				wantTxs = append(wantTxs, inv)
			}
		}
	}
	if len(wantTxs) > 0 {
		n.send(p.id, &messages.GetData{Inventory: wantTxs})
	}
}

// handleGetHeaders serves active chain headers after the first locator
// hash we know
func (n *Node) handleGetHeaders(p *peerState, payload []byte) {
	var req messages.GetHeaders
	if !n.decode(p, payload, &req) {
		return
	}

	tip := n.chain.ActiveTip()
	var start uint64
	for _, hash := range req.Locator {
		if bi, ok := n.chain.Lookup(hash); ok && n.chain.Contains(bi) {
			start = bi.Height
			break
		}
	}

	var out []models.BlockHeader
	for h := start + 1; h <= tip.Height && len(out) < messages.MaxHeadersPerMsg; h++ {
		bi := tip.Ancestor(h)
		out = append(out, bi.Header)
		if bi.Hash == req.HashStop {
			break
		}
	}
	n.send(p.id, &messages.Headers{Headers: out})
}
