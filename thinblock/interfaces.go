// Package thinblock reconstructs blocks announced as bloom filtered,
// xthin or compact skeletons. A Manager holds one Builder per block hash;
// per-peer Workers only hold the hashes they are downloading.
package thinblock

import (
	"errors"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/shruggr/thinrelay/messages"
)

var (
	// ErrMalformed marks a skeleton that is not internally consistent
	ErrMalformed = errors.New("malformed thin block")

	// ErrCollision marks a skeleton whose short ids collide
	ErrCollision = errors.New("short id collision")

	// ErrMerkleMismatch marks a rebuilt block whose merkle root differs from the header
	ErrMerkleMismatch = errors.New("merkle root mismatch")
)

// Penalty points issued by the state machine
const (
	PenaltyMalformed     = 20
	PenaltyInvalidHeader = 20
	PenaltyBadStub       = 10
	PenaltyNoSkeleton    = 20
	PenaltyUnfulfilled   = 10
)

// PeerID identifies a remote peer
type PeerID string

// Sender delivers a message to a peer
type Sender interface {
	Send(peer PeerID, msg messages.Message) error
}

// MisbehaviorSink accumulates misbehaviour scores
type MisbehaviorSink interface {
	Penalize(peer PeerID, points int)
}

// InFlightTracker records which peer is expected to deliver a full block
type InFlightTracker interface {
	MarkInFlight(peer PeerID, hash chainhash.Hash)
	EraseInFlight(peer PeerID, hash chainhash.Hash)
}

// TxFinder resolves placeholders against locally held transactions
type TxFinder interface {
	Find(id ThinTx) *transaction.Transaction
}

// Protocol is a thin block relay protocol
type Protocol uint8

const (
	ProtocolBloom Protocol = iota
	ProtocolXThin
	ProtocolCompact
)

// SupportsParallel reports whether a peer may send several blocks at once
func (p Protocol) SupportsParallel() bool {
	return p == ProtocolCompact
}

// SupportsAnnouncements reports whether peers can be asked to push new
// blocks without an inv round trip
func (p Protocol) SupportsAnnouncements() bool {
	return p == ProtocolCompact
}

// IDForm returns the kind of identifier the protocol's stubs carry
func (p Protocol) IDForm() IDForm {
	switch p {
	case ProtocolXThin:
		return FormCheap
	case ProtocolCompact:
		return FormShort
	default:
		return FormHash
	}
}

func (p Protocol) String() string {
	switch p {
	case ProtocolBloom:
		return "bloom"
	case ProtocolXThin:
		return "xthin"
	case ProtocolCompact:
		return "compact"
	default:
		return fmt.Sprintf("protocol(%d)", uint8(p))
	}
}

// ParseProtocol parses a protocol name
func ParseProtocol(s string) (Protocol, error) {
	switch s {
	case "bloom":
		return ProtocolBloom, nil
	case "xthin":
		return ProtocolXThin, nil
	case "compact":
		return ProtocolCompact, nil
	default:
		return 0, fmt.Errorf("unknown thin block protocol %q", s)
	}
}
