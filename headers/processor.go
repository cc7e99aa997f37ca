// Package headers validates block headers, connects them to the header
// chain and picks the blocks worth downloading.
package headers

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/shruggr/thinrelay/messages"
	"github.com/shruggr/thinrelay/models"
	"github.com/shruggr/thinrelay/thinblock"
)

var (
	// ErrInvalidHeader marks a header failing consensus checks
	ErrInvalidHeader = errors.New("invalid block header")

	// ErrUnconnected marks a batch whose first parent is unknown
	ErrUnconnected = errors.New("header does not connect")
)

// ChainIndex is the header tree the processor extends
type ChainIndex interface {
	Lookup(hash chainhash.Hash) (*models.BlockIndex, bool)
	Connect(header models.BlockHeader) (*models.BlockIndex, error)
	ActiveTip() *models.BlockIndex
	BestHeader() *models.BlockIndex
	Contains(bi *models.BlockIndex) bool
	Locator(bi *models.BlockIndex) []chainhash.Hash
	HaveData(hash chainhash.Hash) bool
}

// InFlightIndex reports blocks already requested from some peer
type InFlightIndex interface {
	IsInFlight(hash chainhash.Hash) bool
}

// Config controls header processing
type Config struct {
	MaxBlocksInTransitPerPeer int
	MaxFutureDrift            time.Duration
}

const (
	DefaultMaxBlocksInTransitPerPeer = 16
	DefaultMaxFutureDrift            = 2 * time.Hour
)

// Processor validates and connects headers received from peers
type Processor struct {
	chain    ChainIndex
	inFlight InFlightIndex
	sender   thinblock.Sender
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewProcessor creates a header processor
func NewProcessor(chain ChainIndex, inFlight InFlightIndex, sender thinblock.Sender, cfg Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBlocksInTransitPerPeer <= 0 {
		cfg.MaxBlocksInTransitPerPeer = DefaultMaxBlocksInTransitPerPeer
	}
	if cfg.MaxFutureDrift <= 0 {
		cfg.MaxFutureDrift = DefaultMaxFutureDrift
	}
	return &Processor{
		chain:    chain,
		inFlight: inFlight,
		sender:   sender,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the time source used for timestamp checks
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

// CheckHeader verifies proof of work and that the timestamp is not too far
// in the future
func CheckHeader(h *models.BlockHeader, now time.Time, maxDrift time.Duration) error {
	target := models.CompactToBig(h.Bits)
	if target.Sign() <= 0 {
		return fmt.Errorf("%w: bad target bits %08x", ErrInvalidHeader, h.Bits)
	}
	hash := h.Hash()
	if models.HashToBig(&hash).Cmp(target) > 0 {
		return fmt.Errorf("%w: %s does not meet target %08x", ErrInvalidHeader, hash, h.Bits)
	}
	if limit := now.Add(maxDrift).Unix(); int64(h.Timestamp) > limit {
		return fmt.Errorf("%w: %s timestamp %d too far in the future", ErrInvalidHeader, hash, h.Timestamp)
	}
	return nil
}

// ProcessHeaders validates and connects a batch of headers from peer. It
// returns the index of the last header and the blocks worth fetching.
// A single invalid header rejects the whole batch.
func (p *Processor) ProcessHeaders(peer thinblock.PeerID, headers []models.BlockHeader, peerSentMax bool) (*models.BlockIndex, []*models.BlockIndex, error) {
	if len(headers) == 0 {
		return nil, nil, nil
	}

	now := p.now()
	for i := range headers {
		if i > 0 && headers[i].PrevHash != headers[i-1].Hash() {
			return nil, nil, fmt.Errorf("%w: non-continuous headers at %d", ErrInvalidHeader, i)
		}
		if err := CheckHeader(&headers[i], now, p.cfg.MaxFutureDrift); err != nil {
			return nil, nil, err
		}
	}
	if _, ok := p.chain.Lookup(headers[0].PrevHash); !ok {
		return nil, nil, fmt.Errorf("%w: parent %s unknown", ErrUnconnected, headers[0].PrevHash)
	}

	var last *models.BlockIndex
	for _, h := range headers {
		bi, err := p.chain.Connect(h)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect header %s: %w", h.Hash(), err)
		}
		last = bi
	}

	p.logger.Debug("connected headers", "peer", peer, "count", len(headers), "tip", last.Hash, "height", last.Height)

	if peerSentMax {
		req := &messages.GetHeaders{
			Version: messages.ProtocolVersion,
			Locator: p.chain.Locator(last),
		}
		if err := p.sender.Send(peer, req); err != nil {
			p.logger.Warn("failed to request more headers", "peer", peer, "error", err)
		}
	}

	if !p.hasEqualOrMoreWork(last) {
		return last, nil, nil
	}
	return last, p.findMissingBlocks(last), nil
}

// RequestConnectHeaders reports whether header's parent is unknown. In
// that case the headers leading up to it are requested from peer.
func (p *Processor) RequestConnectHeaders(header *models.BlockHeader, peer thinblock.PeerID) bool {
	if _, ok := p.chain.Lookup(header.PrevHash); ok {
		return false
	}

	hash := header.Hash()
	p.logger.Debug("header does not connect, requesting headers", "peer", peer, "block", hash)
	req := &messages.GetHeaders{
		Version:  messages.ProtocolVersion,
		Locator:  p.chain.Locator(nil),
		HashStop: hash,
	}
	if err := p.sender.Send(peer, req); err != nil {
		p.logger.Warn("failed to send getheaders", "peer", peer, "error", err)
	}
	return true
}

func (p *Processor) hasEqualOrMoreWork(last *models.BlockIndex) bool {
	return last.Work.Cmp(p.chain.ActiveTip().Work) >= 0
}

// findMissingBlocks walks back from last to the active chain and returns,
// oldest first, the blocks without local data that nobody is fetching
func (p *Processor) findMissingBlocks(last *models.BlockIndex) []*models.BlockIndex {
	var toFetch []*models.BlockIndex
	for walk := last; walk != nil && !p.chain.Contains(walk); walk = walk.Parent {
		if p.chain.HaveData(walk.Hash) || p.inFlight.IsInFlight(walk.Hash) {
			continue
		}
		toFetch = append(toFetch, walk)
	}
	slices.Reverse(toFetch)
	if len(toFetch) > p.cfg.MaxBlocksInTransitPerPeer {
		toFetch = toFetch[:p.cfg.MaxBlocksInTransitPerPeer]
	}
	return toFetch
}
