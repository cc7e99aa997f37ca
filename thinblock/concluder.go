package thinblock

import (
	"errors"
	"log/slog"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/shruggr/thinrelay/messages"
	"lukechampine.com/frand"
)

// Outcome is what a concluder decided for a download round
type Outcome uint8

const (
	OutcomeIgnored Outcome = iota
	OutcomeIdle
	OutcomeCompleted
	OutcomePenalized
	OutcomeReRequested
	OutcomeGaveUp
	OutcomeFallback
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeIdle:
		return "idle"
	case OutcomeCompleted:
		return "completed"
	case OutcomePenalized:
		return "penalized"
	case OutcomeReRequested:
		return "re-requested"
	case OutcomeGaveUp:
		return "gave-up"
	case OutcomeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// PongTracker holds the ping nonce a peer's bloom download is waiting on
type PongTracker struct {
	Nonce uint64
	Block chainhash.Hash
}

// Expect records a ping sent for block
func (pt *PongTracker) Expect(nonce uint64, block chainhash.Hash) {
	pt.Nonce = nonce
	pt.Block = block
}

// Clear forgets the pending ping
func (pt *PongTracker) Clear() {
	pt.Nonce = 0
	pt.Block = chainhash.Hash{}
}

// Pending reports whether a ping is outstanding
func (pt *PongTracker) Pending() bool {
	return pt.Nonce != 0
}

// NewNonce returns a random non-zero ping nonce
func NewNonce() uint64 {
	for {
		if n := frand.Uint64n(^uint64(0)); n != 0 {
			return n
		}
	}
}

// BloomConcluder ends a bloom download round when the ping sent after the
// merkleblock comes back. The peer has then sent every transaction it is
// going to send.
type BloomConcluder struct {
	Sender   Sender
	Sink     MisbehaviorSink
	InFlight InFlightTracker
	Logger   *slog.Logger
	Nonce    func() uint64
}

func (c *BloomConcluder) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Conclude handles a pong carrying nonce
func (c *BloomConcluder) Conclude(w *Worker, pongs *PongTracker, nonce uint64) Outcome {
	if !pongs.Pending() || nonce != pongs.Nonce {
		return OutcomeIgnored
	}

	if !w.IsWorking() {
		pongs.Clear()
		return OutcomeIdle
	}

	if !w.IsWorkingOn(pongs.Block) {
		c.logger().Debug("pong for a different download, ignoring", "peer", w.Peer(), "block", pongs.Block)
		return OutcomeIgnored
	}

	block := pongs.Block
	pongs.Clear()

	if !w.IsStubBuilt(block) {
		c.logger().Info("peer did not provide merkleblock", "peer", w.Peer(), "block", block)
		c.Sink.Penalize(w.Peer(), PenaltyNoSkeleton)
		w.StopWork(block)
		return OutcomePenalized
	}

	if w.IsReRequesting(block) {
		return c.giveUp(w, block)
	}
	return c.reRequest(w, pongs, block)
}

func (c *BloomConcluder) reRequest(w *Worker, pongs *PongTracker, block chainhash.Hash) Outcome {
	missing := w.GetTxsMissing(block)
	if len(missing) == 0 {
		return OutcomeCompleted
	}
	c.logger().Debug("re-requesting thin block transactions", "peer", w.Peer(), "block", block, "missing", len(missing))

	inv := make([]messages.InvVect, 0, len(missing))
	for _, m := range missing {
		inv = append(inv, messages.InvVect{Type: messages.InvTx, Hash: m.ID.Hash()})
	}

	nonce := c.nextNonce()
	w.SetReRequesting(block, true)
	pongs.Expect(nonce, block)

	if err := c.Sender.Send(w.Peer(), &messages.GetData{Inventory: inv}); err != nil {
		c.logger().Warn("failed to send getdata", "peer", w.Peer(), "error", err)
	}
	if err := c.Sender.Send(w.Peer(), &messages.Ping{Nonce: nonce}); err != nil {
		c.logger().Warn("failed to send ping", "peer", w.Peer(), "error", err)
	}
	return OutcomeReRequested
}

func (c *BloomConcluder) giveUp(w *Worker, block chainhash.Hash) Outcome {
	c.logger().Info("re-requested transactions, peer did not follow up", "peer", w.Peer(), "block", block)
	wasLast := w.IsOnlyWorker(block)
	w.StopWork(block)
	if !wasLast {
		return OutcomeGaveUp
	}

	c.logger().Info("last worker failed, falling back to full block download", "peer", w.Peer(), "block", block)
	req := &messages.GetData{Inventory: []messages.InvVect{{Type: messages.InvBlock, Hash: block}}}
	if err := c.Sender.Send(w.Peer(), req); err != nil {
		c.logger().Warn("failed to request full block", "peer", w.Peer(), "block", block, "error", err)
	}
	c.InFlight.MarkInFlight(w.Peer(), block)
	return OutcomeFallback
}

func (c *BloomConcluder) nextNonce() uint64 {
	if c.Nonce != nil {
		return c.Nonce()
	}
	return NewNonce()
}

// ResponseConcluder handles the response to an xthin or compact
// re-request. The peer answered its own re-request, so anything still
// missing afterwards is a protocol violation.
type ResponseConcluder struct {
	Sink   MisbehaviorSink
	Logger *slog.Logger
}

// XThinConcluder handles xblocktx responses
type XThinConcluder struct{ ResponseConcluder }

// CompactConcluder handles blocktxn responses
type CompactConcluder struct{ ResponseConcluder }

// Conclude applies an xthin re-request response
func (c *XThinConcluder) Conclude(w *Worker, resp *messages.XThinReReqResponse) (Outcome, error) {
	return c.conclude(w, resp.Block, resp.TxRequested)
}

// Conclude applies a compact re-request response
func (c *CompactConcluder) Conclude(w *Worker, resp *messages.CompactReReqResponse) (Outcome, error) {
	return c.conclude(w, resp.BlockHash, resp.Txs)
}

func (c *ResponseConcluder) conclude(w *Worker, block chainhash.Hash, txs []*transaction.Transaction) (Outcome, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if !w.IsWorkingOn(block) {
		logger.Debug("re-request response for block not being downloaded", "peer", w.Peer(), "block", block)
		return OutcomeIgnored, nil
	}

	for _, tx := range txs {
		if tx == nil {
			continue
		}
		if _, err := w.AddTx(block, tx); err != nil {
			if errors.Is(err, ErrMerkleMismatch) {
				c.Sink.Penalize(w.Peer(), PenaltyBadStub)
				return OutcomePenalized, err
			}
			return OutcomeIgnored, err
		}
		if !w.IsWorkingOn(block) {
			break
		}
	}

	if !w.IsWorkingOn(block) {
		return OutcomeCompleted, nil
	}

	logger.Info("peer responded to re-request without all missing transactions",
		"peer", w.Peer(), "block", block, "missing", len(w.GetTxsMissing(block)))
	w.StopWork(block)
	c.Sink.Penalize(w.Peer(), PenaltyUnfulfilled)
	return OutcomePenalized, nil
}
