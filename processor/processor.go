// Package processor handles incoming thin block announcements: it decodes
// and validates the skeleton, runs the header through header processing,
// assigns the peer's worker, builds the stub and re-requests whatever the
// local mempool could not supply.
package processor

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/shruggr/thinrelay/headers"
	"github.com/shruggr/thinrelay/messages"
	"github.com/shruggr/thinrelay/models"
	"github.com/shruggr/thinrelay/thinblock"
)

// HeaderProcessor validates and connects headers
type HeaderProcessor interface {
	ProcessHeaders(peer thinblock.PeerID, batch []models.BlockHeader, peerSentMax bool) (*models.BlockIndex, []*models.BlockIndex, error)
	RequestConnectHeaders(header *models.BlockHeader, peer thinblock.PeerID) bool
}

// BlockChecker reports whether a block's data is already held
type BlockChecker interface {
	HaveData(hash chainhash.Hash) bool
}

// Result is the outcome of processing one announcement
type Result uint8

const (
	ResultRejected Result = iota
	ResultUnconnected
	ResultAlreadyHave
	ResultBusy
	ResultComplete
	ResultReRequested
)

func (r Result) String() string {
	switch r {
	case ResultRejected:
		return "rejected"
	case ResultUnconnected:
		return "unconnected"
	case ResultAlreadyHave:
		return "already-have"
	case ResultBusy:
		return "busy"
	case ResultComplete:
		return "complete"
	case ResultReRequested:
		return "re-requested"
	default:
		return "unknown"
	}
}

// Deps are the collaborators shared by every processor
type Deps struct {
	Sender  thinblock.Sender
	Sink    thinblock.MisbehaviorSink
	Headers HeaderProcessor
	Blocks  BlockChecker
	Logger  *slog.Logger
}

// BlockProcessor holds the steps common to every thin block protocol
type BlockProcessor struct {
	Deps
	worker  *thinblock.Worker
	command string
}

func newBlockProcessor(deps Deps, w *thinblock.Worker, command string) BlockProcessor {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return BlockProcessor{Deps: deps, worker: w, command: command}
}

func (bp *BlockProcessor) peer() thinblock.PeerID {
	return bp.worker.Peer()
}

// release frees the worker after a failure. Parallel workers only drop
// the affected block.
func (bp *BlockProcessor) release(hash chainhash.Hash) {
	if bp.worker.SupportsParallel() {
		bp.worker.StopWork(hash)
		return
	}
	bp.worker.SetAvailable()
}

// rejectBlock sends a reject, penalizes the peer and abandons the block
func (bp *BlockProcessor) rejectBlock(hash chainhash.Hash, reason string, points int) Result {
	bp.Logger.Info("rejecting block", "command", bp.command, "peer", bp.peer(), "block", hash, "reason", reason)

	reject := &messages.Reject{
		Message: bp.command,
		Code:    messages.RejectMalformed,
		Reason:  reason,
		Hash:    hash,
	}
	if err := bp.Sender.Send(bp.peer(), reject); err != nil {
		bp.Logger.Warn("failed to send reject", "peer", bp.peer(), "error", err)
	}
	bp.Sink.Penalize(bp.peer(), points)
	bp.release(hash)
	return ResultRejected
}

func (bp *BlockProcessor) processHeader(header *models.BlockHeader) error {
	_, _, err := bp.Headers.ProcessHeaders(bp.peer(), []models.BlockHeader{*header}, false)
	return err
}

// setToWork assigns the block to the worker unless its data is already
// held or the worker cannot take another block
func (bp *BlockProcessor) setToWork(hash chainhash.Hash) (Result, bool) {
	if bp.Blocks.HaveData(hash) {
		bp.Logger.Debug("already had block, ignoring", "command", bp.command, "peer", bp.peer(), "block", hash)
		bp.release(hash)
		return ResultAlreadyHave, false
	}
	if !bp.worker.IsWorking() {
		bp.Logger.Debug("received block that was not requested", "command", bp.command, "peer", bp.peer(), "block", hash)
	}
	if !bp.worker.SetToWork(hash) {
		bp.Logger.Debug("worker busy with another block, ignoring", "command", bp.command, "peer", bp.peer(), "block", hash)
		return ResultBusy, false
	}
	return 0, true
}

// prepare runs the steps shared by every protocol between decoding and
// stub construction
func (bp *BlockProcessor) prepare(header *models.BlockHeader) (Result, bool) {
	hash := header.Hash()

	if bp.Headers.RequestConnectHeaders(header, bp.peer()) {
		return ResultUnconnected, false
	}
	if err := bp.processHeader(header); err != nil {
		if errors.Is(err, headers.ErrUnconnected) {
			return ResultUnconnected, false
		}
		return bp.rejectBlock(hash, "invalid header", thinblock.PenaltyInvalidHeader), false
	}
	return bp.setToWork(hash)
}

// buildStub hands the stub to the worker, rejecting the block on failure
func (bp *BlockProcessor) buildStub(stub *thinblock.Stub, finder thinblock.TxFinder) (Result, bool) {
	hash := stub.Hash()
	if err := bp.worker.BuildStub(stub, finder); err != nil {
		return bp.rejectBlock(hash, err.Error(), thinblock.PenaltyBadStub), false
	}
	if !bp.worker.IsWorkingOn(hash) {
		return ResultComplete, false
	}
	return 0, true
}

// decode deserializes payload, converting decoder panics to errors
func decode(payload []byte, msg messages.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic decoding %s: %v", thinblock.ErrMalformed, msg.Command(), r)
		}
	}()
	if err := messages.DecodeInto(payload, msg); err != nil {
		return fmt.Errorf("%w: %w", thinblock.ErrMalformed, err)
	}
	return nil
}
