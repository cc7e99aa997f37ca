package node

import (
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/shruggr/thinrelay/thinblock"
)

// Penalize adds points to a peer's misbehaviour score and bans the peer
// once the score reaches the threshold
func (n *Node) Penalize(peer thinblock.PeerID, points int) {
	p, ok := n.peers[peer]
	if !ok {
		return
	}
	p.score += points
	n.logger.Info("peer misbehaved", "peer", peer, "points", points, "score", p.score)

	if p.score >= n.cfg.BanThreshold {
		n.logger.Warn("banning peer", "peer", peer, "score", p.score)
		n.banned[peer] = true
		n.RemovePeer(peer)
	}
}

// Score returns a peer's misbehaviour score
func (n *Node) Score(peer thinblock.PeerID) int {
	if p, ok := n.peers[peer]; ok {
		return p.score
	}
	return 0
}

// IsBanned reports whether a peer has been banned
func (n *Node) IsBanned(peer thinblock.PeerID) bool {
	return n.banned[peer]
}

// MarkInFlight records a full block request
func (n *Node) MarkInFlight(peer thinblock.PeerID, hash chainhash.Hash) {
	n.markInFlight(peer, hash, true)
}

func (n *Node) markInFlight(peer thinblock.PeerID, hash chainhash.Hash, full bool) {
	set, ok := n.inFlight[hash]
	if !ok {
		set = make(map[thinblock.PeerID]bool)
		n.inFlight[hash] = set
	}
	set[peer] = set[peer] || full
}

// EraseInFlight forgets a peer's request for hash
func (n *Node) EraseInFlight(peer thinblock.PeerID, hash chainhash.Hash) {
	set, ok := n.inFlight[hash]
	if !ok {
		return
	}
	delete(set, peer)
	if len(set) == 0 {
		delete(n.inFlight, hash)
	}
}

// IsInFlight reports whether any peer is fetching hash
func (n *Node) IsInFlight(hash chainhash.Hash) bool {
	return len(n.inFlight[hash]) > 0
}

// pruneInFlight forgets thin requests whose worker no longer downloads the
// block. Full block requests stay until the block arrives or the peer
// leaves.
func (n *Node) pruneInFlight() {
	for hash, set := range n.inFlight {
		for peer, full := range set {
			if full {
				continue
			}
			if p, ok := n.peers[peer]; !ok || !p.worker.IsWorkingOn(hash) {
				delete(set, peer)
			}
		}
		if len(set) == 0 {
			delete(n.inFlight, hash)
		}
	}
}
