package node

import (
	"context"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/shruggr/thinrelay/bloom"
	"github.com/shruggr/thinrelay/messages"
	"github.com/shruggr/thinrelay/models"
	"github.com/shruggr/thinrelay/thinblock"
)

// storedBlock loads a block for serving, logging failures
func (n *Node) storedBlock(ctx context.Context, p *peerState, hash chainhash.Hash) *models.Block {
	block, err := n.blocks.Get(ctx, hash)
	if err != nil {
		n.logger.Error("failed to load block", "peer", p.id, "block", hash, "error", err)
		return nil
	}
	if block == nil {
		n.logger.Debug("peer asked for unknown block", "peer", p.id, "block", hash)
	}
	return block
}

func (n *Node) handleGetData(ctx context.Context, p *peerState, payload []byte) {
	var msg messages.GetData
	if !n.decode(p, payload, &msg) {
		return
	}

	for _, inv := range msg.Inventory {
		switch inv.Type {
		case messages.InvTx:
			if tx, ok := n.pool.Get(inv.Hash); ok {
				n.send(p.id, &messages.Tx{Tx: tx})
			}
		case messages.InvBlock:
			if block := n.storedBlock(ctx, p, inv.Hash); block != nil {
				n.send(p.id, &messages.Block{Block: *block})
			}
		case messages.InvCompactBlock:
			if block := n.storedBlock(ctx, p, inv.Hash); block != nil {
				n.send(p.id, messages.NewCompactBlock(block, thinblock.NewNonce()))
			}
		case messages.InvFilteredBlock:
			if block := n.storedBlock(ctx, p, inv.Hash); block != nil {
				n.serveFilteredBlock(p, block)
			}
		default:
			n.logger.Debug("ignoring getdata entry", "peer", p.id, "type", inv.Type, "hash", inv.Hash)
		}
	}
}

// serveFilteredBlock sends a merkleblock followed by every matched
// transaction
func (n *Node) serveFilteredBlock(p *peerState, block *models.Block) {
	filter := p.filter
	if filter == nil {
		filter = bloom.MatchAll()
	}
	mb, matched, err := messages.NewMerkleBlock(block, filter)
	if err != nil {
		n.logger.Error("failed to build merkleblock", "peer", p.id, "block", block.Hash(), "error", err)
		return
	}
	n.send(p.id, mb)
	for _, i := range matched {
		n.send(p.id, &messages.Tx{Tx: block.Transactions[i]})
	}
}

func (n *Node) handleGetXThin(ctx context.Context, p *peerState, payload []byte) {
	var msg messages.GetXThin
	if !n.decode(p, payload, &msg) {
		return
	}
	if !msg.Filter.IsValid() {
		n.Penalize(p.id, thinblock.PenaltyMalformed)
		return
	}
	if block := n.storedBlock(ctx, p, msg.Inv.Hash); block != nil {
		n.send(p.id, messages.NewXThinBlock(block, &msg.Filter))
	}
}

func (n *Node) handleGetXBlockTx(ctx context.Context, p *peerState, payload []byte) {
	var msg messages.XThinReRequest
	if !n.decode(p, payload, &msg) {
		return
	}
	block := n.storedBlock(ctx, p, msg.Block)
	if block == nil {
		return
	}

	wanted := make(map[uint64]bool, len(msg.TxRequested))
	for _, cheap := range msg.TxRequested {
		wanted[cheap] = true
	}
	resp := &messages.XThinReReqResponse{Block: msg.Block}
	for _, tx := range block.Transactions {
		if wanted[messages.CheapHash(*tx.TxID())] {
			resp.TxRequested = append(resp.TxRequested, tx)
		}
	}
	n.send(p.id, resp)
}

func (n *Node) handleGetBlockTxn(ctx context.Context, p *peerState, payload []byte) {
	var msg messages.CompactReRequest
	if !n.decode(p, payload, &msg) {
		return
	}
	block := n.storedBlock(ctx, p, msg.BlockHash)
	if block == nil {
		return
	}

	txs := make([]*transaction.Transaction, 0, len(msg.Indexes))
	for _, i := range msg.Indexes {
		if int(i) >= len(block.Transactions) {
			n.logger.Info("getblocktxn index out of range", "peer", p.id, "block", msg.BlockHash, "index", i)
			n.Penalize(p.id, thinblock.PenaltyMalformed)
			return
		}
		txs = append(txs, block.Transactions[i])
	}
	n.send(p.id, &messages.CompactReReqResponse{BlockHash: msg.BlockHash, Txs: txs})
}

func (n *Node) handleFilterLoad(p *peerState, payload []byte) {
	var msg messages.FilterLoad
	if !n.decode(p, payload, &msg) {
		return
	}
	if !msg.Filter.IsValid() {
		n.Penalize(p.id, thinblock.PenaltyMalformed)
		return
	}
	p.filter = &msg.Filter
}

func (n *Node) handleSendCmpct(p *peerState, payload []byte) {
	var msg messages.SendCmpct
	if !n.decode(p, payload, &msg) {
		return
	}
	if msg.Version != messages.CompactVersion {
		return
	}
	p.announce = msg.Announce
	n.logger.Debug("peer set compact announcements", "peer", p.id, "announce", msg.Announce)
}
