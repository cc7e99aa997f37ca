// Package node ties the thin block machinery to peers. A Node owns every
// peer session, the header chain, the mempool and the download manager,
// and is driven by a single goroutine feeding it inbound messages.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/shruggr/thinrelay/blockstore"
	"github.com/shruggr/thinrelay/bloom"
	"github.com/shruggr/thinrelay/headers"
	"github.com/shruggr/thinrelay/mempool"
	"github.com/shruggr/thinrelay/messages"
	"github.com/shruggr/thinrelay/metadata"
	"github.com/shruggr/thinrelay/models"
	"github.com/shruggr/thinrelay/processor"
	"github.com/shruggr/thinrelay/thinblock"
)

// Config holds node configuration
type Config struct {
	MaxAnnouncers             int                // peers asked to announce blocks with cmpctblock
	BanThreshold              int                // misbehaviour score at which a peer is banned
	MaxBlocksInTransitPerPeer int                // blocks requested from one peer per headers batch
	DefaultProtocol           thinblock.Protocol // protocol used for peers added implicitly
	MempoolSize               int                // transactions kept in the mempool
	FilterFPRate              float64            // false positive rate of the xthin mempool filter
}

const (
	DefaultBanThreshold = 100
	DefaultFilterFPRate = 0.0001
)

func (c *Config) setDefaults() {
	if c.MaxAnnouncers <= 0 {
		c.MaxAnnouncers = thinblock.DefaultMaxAnnouncers
	}
	if c.BanThreshold <= 0 {
		c.BanThreshold = DefaultBanThreshold
	}
	if c.MaxBlocksInTransitPerPeer <= 0 {
		c.MaxBlocksInTransitPerPeer = headers.DefaultMaxBlocksInTransitPerPeer
	}
	if c.MempoolSize <= 0 {
		c.MempoolSize = mempool.DefaultSize
	}
	if c.FilterFPRate <= 0 {
		c.FilterFPRate = DefaultFilterFPRate
	}
}

// Message is one inbound message from a peer
type Message struct {
	Peer    thinblock.PeerID
	Command string
	Payload []byte
}

type peerState struct {
	id       thinblock.PeerID
	worker   *thinblock.Worker
	pongs    thinblock.PongTracker
	score    int
	filter   *bloom.Filter // loaded with filterload
	announce bool          // peer asked for cmpctblock announcements
}

// Node is a thin block relay node. It is not safe for concurrent use;
// Run serializes all access.
type Node struct {
	cfg    Config
	logger *slog.Logger

	sender  thinblock.Sender
	chain   *models.HeaderChain
	headers *headers.Processor
	mg      *thinblock.Manager
	pool    *mempool.Pool
	blocks  *blockstore.Store
	meta    metadata.Store

	peers    map[thinblock.PeerID]*peerState
	banned   map[thinblock.PeerID]bool
	inFlight map[chainhash.Hash]map[thinblock.PeerID]bool // true for full block requests

	bloom   *thinblock.BloomConcluder
	xthin   *thinblock.XThinConcluder
	compact *thinblock.CompactConcluder
}

// New creates a node. meta may be nil.
func New(cfg Config, chain *models.HeaderChain, sender thinblock.Sender, blocks *blockstore.Store, meta metadata.Store, logger *slog.Logger) (*Node, error) {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	mg, err := thinblock.NewManager(cfg.MaxAnnouncers, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create thin block manager: %w", err)
	}
	pool, err := mempool.New(cfg.MempoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create mempool: %w", err)
	}

	n := &Node{
		cfg:      cfg,
		logger:   logger,
		sender:   sender,
		chain:    chain,
		mg:       mg,
		pool:     pool,
		blocks:   blocks,
		meta:     meta,
		peers:    make(map[thinblock.PeerID]*peerState),
		banned:   make(map[thinblock.PeerID]bool),
		inFlight: make(map[chainhash.Hash]map[thinblock.PeerID]bool),
	}
	n.headers = headers.NewProcessor(chain, n, sender, headers.Config{
		MaxBlocksInTransitPerPeer: cfg.MaxBlocksInTransitPerPeer,
	}, logger)
	n.bloom = &thinblock.BloomConcluder{Sender: sender, Sink: n, InFlight: n, Logger: logger}
	n.xthin = &thinblock.XThinConcluder{ResponseConcluder: thinblock.ResponseConcluder{Sink: n, Logger: logger}}
	n.compact = &thinblock.CompactConcluder{ResponseConcluder: thinblock.ResponseConcluder{Sink: n, Logger: logger}}
	return n, nil
}

// Mempool returns the node's transaction pool
func (n *Node) Mempool() *mempool.Pool { return n.pool }

// AddPeer registers a peer that downloads blocks with protocol
func (n *Node) AddPeer(id thinblock.PeerID, protocol thinblock.Protocol) error {
	if n.banned[id] {
		return fmt.Errorf("peer %s is banned", id)
	}
	if _, ok := n.peers[id]; ok {
		return nil
	}
	n.peers[id] = &peerState{id: id, worker: thinblock.NewWorker(n.mg, id, protocol)}
	n.logger.Info("peer connected", "peer", id, "protocol", protocol)
	return nil
}

// RemovePeer drops a peer and everything it was downloading
func (n *Node) RemovePeer(id thinblock.PeerID) {
	p, ok := n.peers[id]
	if !ok {
		return
	}
	p.worker.Close()
	delete(n.peers, id)
	for hash, set := range n.inFlight {
		delete(set, id)
		if len(set) == 0 {
			delete(n.inFlight, hash)
		}
	}
	n.logger.Info("peer disconnected", "peer", id)
}

// Peers returns the connected peers in sorted order
func (n *Node) Peers() []thinblock.PeerID {
	ids := make([]thinblock.PeerID, 0, len(n.peers))
	for id := range n.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Run handles messages from inbox until ctx is done or inbox is closed
func (n *Node) Run(ctx context.Context, inbox <-chan Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbox:
			if !ok {
				return nil
			}
			n.Handle(ctx, msg)
		}
	}
}

// Handle processes one inbound message and then settles any downloads it
// finished
func (n *Node) Handle(ctx context.Context, msg Message) {
	if n.banned[msg.Peer] {
		n.logger.Debug("dropping message from banned peer", "peer", msg.Peer, "command", msg.Command)
		return
	}
	p, ok := n.peers[msg.Peer]
	if !ok {
		if err := n.AddPeer(msg.Peer, n.cfg.DefaultProtocol); err != nil {
			return
		}
		p = n.peers[msg.Peer]
	}

	n.dispatch(ctx, p, msg)
	n.reconcile(ctx)
}

func (n *Node) dispatch(ctx context.Context, p *peerState, msg Message) {
	switch msg.Command {
	case messages.CmdHeaders:
		n.handleHeaders(p, msg.Payload)
	case messages.CmdInv:
		n.handleInv(p, msg.Payload)
	case messages.CmdGetHeaders:
		n.handleGetHeaders(p, msg.Payload)

	case messages.CmdXThinBlock:
		processor.NewXThinProcessor(n.deps(), p.worker, n.pool).Process(msg.Payload)
	case messages.CmdCmpctBlock:
		processor.NewCompactProcessor(n.deps(), p.worker, n.pool).Process(msg.Payload)
	case messages.CmdMerkleBlock:
		processor.NewBloomProcessor(n.deps(), p.worker, n.pool, &p.pongs).Process(msg.Payload)
	case messages.CmdXBlockTx:
		n.handleXBlockTx(p, msg.Payload)
	case messages.CmdBlockTxn:
		n.handleBlockTxn(p, msg.Payload)
	case messages.CmdTx:
		n.handleTx(p, msg.Payload)
	case messages.CmdBlock:
		n.handleBlock(ctx, p, msg.Payload)
	case messages.CmdPing:
		n.handlePing(p, msg.Payload)
	case messages.CmdPong:
		n.handlePong(p, msg.Payload)

	case messages.CmdGetData:
		n.handleGetData(ctx, p, msg.Payload)
	case messages.CmdGetXThin:
		n.handleGetXThin(ctx, p, msg.Payload)
	case messages.CmdGetXBlockTx:
		n.handleGetXBlockTx(ctx, p, msg.Payload)
	case messages.CmdGetBlockTxn:
		n.handleGetBlockTxn(ctx, p, msg.Payload)
	case messages.CmdFilterLoad:
		n.handleFilterLoad(p, msg.Payload)
	case messages.CmdSendCmpct:
		n.handleSendCmpct(p, msg.Payload)
	case messages.CmdReject:
		n.handleReject(p, msg.Payload)

	default:
		n.logger.Debug("ignoring unknown command", "peer", p.id, "command", msg.Command)
	}
}

func (n *Node) deps() processor.Deps {
	return processor.Deps{
		Sender:  n.sender,
		Sink:    n,
		Headers: n.headers,
		Blocks:  n,
		Logger:  n.logger,
	}
}

// decode parses a payload for a handler, penalizing the peer on failure
func (n *Node) decode(p *peerState, payload []byte, msg messages.Message) bool {
	if err := messages.DecodeInto(payload, msg); err != nil {
		n.logger.Info("malformed message", "peer", p.id, "command", msg.Command(), "error", err)
		n.Penalize(p.id, thinblock.PenaltyMalformed)
		return false
	}
	return true
}

func (n *Node) send(peer thinblock.PeerID, msg messages.Message) {
	if err := n.sender.Send(peer, msg); err != nil {
		n.logger.Warn("failed to send message", "peer", peer, "command", msg.Command(), "error", err)
	}
}

// HaveData reports whether the full block is held, in the header chain or
// the block store
func (n *Node) HaveData(hash chainhash.Hash) bool {
	if n.chain.HaveData(hash) {
		return true
	}
	ok, err := n.blocks.Has(context.Background(), hash)
	if err != nil {
		n.logger.Warn("failed to check block store", "block", hash, "error", err)
		return false
	}
	return ok
}
