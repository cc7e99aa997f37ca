package node

import (
	"context"
	"errors"
	"slices"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/shruggr/thinrelay/headers"
	"github.com/shruggr/thinrelay/merkle"
	"github.com/shruggr/thinrelay/messages"
	"github.com/shruggr/thinrelay/metadata"
	"github.com/shruggr/thinrelay/models"
	"github.com/shruggr/thinrelay/thinblock"
)

// ProtocolFull names plain block downloads in metadata records
const ProtocolFull = "full"

func (n *Node) handleXBlockTx(p *peerState, payload []byte) {
	var msg messages.XThinReReqResponse
	if !n.decode(p, payload, &msg) {
		return
	}
	outcome, err := n.xthin.Conclude(p.worker, &msg)
	n.logger.Debug("xthin re-request concluded", "peer", p.id, "block", msg.Block, "outcome", outcome, "error", err)
}

func (n *Node) handleBlockTxn(p *peerState, payload []byte) {
	var msg messages.CompactReReqResponse
	if !n.decode(p, payload, &msg) {
		return
	}
	outcome, err := n.compact.Conclude(p.worker, &msg)
	n.logger.Debug("compact re-request concluded", "peer", p.id, "block", msg.BlockHash, "outcome", outcome, "error", err)
}

func (n *Node) handleTx(p *peerState, payload []byte) {
	var msg messages.Tx
	if !n.decode(p, payload, &msg) {
		return
	}
	n.pool.Add(msg.Tx)

	used, err := n.mg.AddTxAllBlocks(p.id, msg.Tx)
	if errors.Is(err, thinblock.ErrMerkleMismatch) {
		n.Penalize(p.id, thinblock.PenaltyBadStub)
		return
	}
	if used > 0 {
		n.logger.Debug("transaction resolved thin block placeholders", "peer", p.id, "tx", msg.Tx.TxID(), "blocks", used)
	}
}

// handleBlock accepts a full block, completing any thin download of it
func (n *Node) handleBlock(ctx context.Context, p *peerState, payload []byte) {
	var msg messages.Block
	if !n.decode(p, payload, &msg) {
		return
	}
	block := &msg.Block
	hash := block.Hash()

	if len(block.Transactions) == 0 || merkle.Root(block.TxIDs()) != block.Header.MerkleRoot {
		n.logger.Info("block merkle root mismatch", "peer", p.id, "block", hash)
		n.Penalize(p.id, thinblock.PenaltyBadStub)
		n.EraseInFlight(p.id, hash)
		return
	}

	if n.headers.RequestConnectHeaders(&block.Header, p.id) {
		return
	}
	if _, _, err := n.headers.ProcessHeaders(p.id, []models.BlockHeader{block.Header}, false); err != nil {
		if !errors.Is(err, headers.ErrUnconnected) {
			n.Penalize(p.id, thinblock.PenaltyInvalidHeader)
		}
		return
	}

	if n.HaveData(hash) {
		n.EraseInFlight(p.id, hash)
		return
	}

	n.mg.RemoveIfExists(hash)
	delete(n.inFlight, hash)
	n.acceptBlock(ctx, block, ProtocolFull, []thinblock.PeerID{p.id})
}

func (n *Node) handlePing(p *peerState, payload []byte) {
	var msg messages.Ping
	if !n.decode(p, payload, &msg) {
		return
	}
	n.send(p.id, &messages.Pong{Nonce: msg.Nonce})
}

func (n *Node) handlePong(p *peerState, payload []byte) {
	var msg messages.Pong
	if !n.decode(p, payload, &msg) {
		return
	}
	outcome := n.bloom.Conclude(p.worker, &p.pongs, msg.Nonce)
	n.logger.Debug("pong concluded", "peer", p.id, "outcome", outcome)
}

func (n *Node) handleReject(p *peerState, payload []byte) {
	var msg messages.Reject
	if !n.decode(p, payload, &msg) {
		return
	}
	n.logger.Info("peer rejected message", "peer", p.id, "message", msg.Message,
		"code", msg.Code, "reason", msg.Reason, "hash", msg.Hash)
}

// reconcile settles the downloads finished while handling the last
// message
func (n *Node) reconcile(ctx context.Context) {
	for _, fb := range n.mg.TakeFinished() {
		hash := fb.Block.Hash()
		for _, peer := range fb.Released {
			n.EraseInFlight(peer, hash)
		}
		delete(n.inFlight, hash)

		n.acceptBlock(ctx, fb.Block, n.protocolOf(fb.Contributors), fb.Contributors)
		n.promote(fb.Contributors)
	}
	n.pruneInFlight()
}

func (n *Node) protocolOf(contributors []thinblock.PeerID) string {
	for _, id := range contributors {
		if p, ok := n.peers[id]; ok {
			return p.worker.Protocol().String()
		}
	}
	return "thin"
}

// promote asks peers that helped reconstruct a block to announce future
// blocks directly
func (n *Node) promote(contributors []thinblock.PeerID) {
	for _, id := range contributors {
		p, ok := n.peers[id]
		if !ok || !p.worker.Protocol().SupportsAnnouncements() {
			continue
		}
		if err := p.worker.RequestBlockAnnouncements(n.sender); err != nil {
			n.logger.Warn("failed to request block announcements", "peer", id, "error", err)
		}
	}
}

// acceptBlock stores a complete block, advances the chain, records it and
// announces it to the peers that did not supply it
func (n *Node) acceptBlock(ctx context.Context, block *models.Block, protocol string, from []thinblock.PeerID) {
	hash := block.Hash()
	if err := n.blocks.Put(ctx, block); err != nil {
		n.logger.Error("failed to store block", "block", hash, "error", err)
		return
	}
	update, _ := n.chain.MarkHaveData(hash)
	n.pool.RemoveBlock(block)

	var height uint64
	status := metadata.StatusOrphan
	if bi, ok := n.chain.Lookup(hash); ok {
		height = bi.Height
		if n.chain.Contains(bi) {
			status = metadata.StatusMain
		}
	}
	n.logger.Info("accepted block", "block", hash, "height", height, "txs", len(block.Transactions),
		"protocol", protocol, "status", status)
	if len(update.Disconnected) > 0 {
		n.logger.Info("active chain reorganized", "fork_height", update.Disconnected[len(update.Disconnected)-1].Height-1,
			"disconnected", len(update.Disconnected), "connected", len(update.Connected))
	}

	if n.meta != nil {
		contributors := make([]string, len(from))
		for i, id := range from {
			contributors[i] = string(id)
		}
		rec := &metadata.BlockRecord{
			Height:       height,
			BlockHash:    hash,
			MerkleRoot:   block.Header.MerkleRoot,
			TxCount:      len(block.Transactions),
			Protocol:     protocol,
			Contributors: contributors,
			Status:       status,
			Timestamp:    int64(block.Header.Timestamp),
		}
		if err := n.meta.PutBlock(ctx, rec); err != nil {
			n.logger.Error("failed to record block metadata", "block", hash, "error", err)
		}
		n.recordChainUpdate(ctx, hash, update)
	}

	n.announce(block, from)
}

// recordChainUpdate moves the records of blocks that left or rejoined the
// active chain. The accepted block's own record is already current.
func (n *Node) recordChainUpdate(ctx context.Context, accepted chainhash.Hash, update models.ChainUpdate) {
	for _, bi := range update.Disconnected {
		if err := n.meta.SetStatus(ctx, bi.Hash, metadata.StatusOrphan); err != nil {
			n.logger.Error("failed to mark block orphaned", "block", bi.Hash, "error", err)
		}
	}
	for _, bi := range update.Connected {
		if bi.Hash == accepted {
			continue
		}
		if err := n.meta.SetStatus(ctx, bi.Hash, metadata.StatusMain); err != nil {
			n.logger.Error("failed to mark block main chain", "block", bi.Hash, "error", err)
		}
	}
}

func (n *Node) announce(block *models.Block, skip []thinblock.PeerID) {
	hash := block.Hash()
	inv := &messages.Inv{Inventory: []messages.InvVect{{Type: messages.InvBlock, Hash: hash}}}

	for _, id := range n.Peers() {
		if slices.Contains(skip, id) {
			continue
		}
		if n.peers[id].announce {
			n.send(id, messages.NewCompactBlock(block, thinblock.NewNonce()))
			continue
		}
		n.send(id, inv)
	}
}

// Block loads a stored block
func (n *Node) Block(ctx context.Context, hash chainhash.Hash) (*models.Block, error) {
	return n.blocks.Get(ctx, hash)
}
