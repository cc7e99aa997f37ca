// Package thintest provides fixtures and recording fakes for thin block tests
package thintest

import (
	"encoding/binary"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/shruggr/thinrelay/merkle"
	"github.com/shruggr/thinrelay/messages"
	"github.com/shruggr/thinrelay/models"
	"github.com/shruggr/thinrelay/thinblock"
)

// RegtestBits is an easy proof-of-work target
const RegtestBits = 0x207fffff

// rawTx serializes a one-input one-output transaction
func rawTx(prev chainhash.Hash, index uint32, unlocking []byte, satoshis uint64) []byte {
	buf := binary.LittleEndian.AppendUint32(nil, 1)
	buf = append(buf, 1)
	buf = append(buf, prev[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, index)
	buf = append(buf, byte(len(unlocking)))
	buf = append(buf, unlocking...)
	buf = binary.LittleEndian.AppendUint32(buf, 0xffffffff)
	buf = append(buf, 1)
	buf = binary.LittleEndian.AppendUint64(buf, satoshis)
	locking := []byte{0x76, 0xa9, 0x14}
	locking = append(locking, make([]byte, 20)...)
	locking = append(locking, 0x88, 0xac)
	buf = append(buf, byte(len(locking)))
	buf = append(buf, locking...)
	return binary.LittleEndian.AppendUint32(buf, 0)
}

func mustParse(raw []byte) *transaction.Transaction {
	tx, err := transaction.NewTransactionFromBytes(raw)
	if err != nil {
		panic(fmt.Sprintf("thintest: bad transaction: %v", err))
	}
	return tx
}

// Tx returns a deterministic transaction distinct for every seed
func Tx(seed int) *transaction.Transaction {
	prev := chainhash.DoubleHashH([]byte(fmt.Sprintf("prevout-%d", seed)))
	return mustParse(rawTx(prev, uint32(seed), []byte{0x51}, uint64(1000+seed)))
}

// Coinbase returns a coinbase transaction for height
func Coinbase(height int) *transaction.Transaction {
	script := binary.LittleEndian.AppendUint32([]byte{0x04}, uint32(height))
	return mustParse(rawTx(chainhash.Hash{}, 0xffffffff, script, 50_0000_0000))
}

// Block mines a block on prev containing a coinbase and txs
func Block(prev *models.BlockHeader, height int, txs ...*transaction.Transaction) *models.Block {
	all := append([]*transaction.Transaction{Coinbase(height)}, txs...)
	block := &models.Block{
		Header: models.BlockHeader{
			Version:   1,
			PrevHash:  prev.Hash(),
			Timestamp: prev.Timestamp + 600,
			Bits:      RegtestBits,
		},
		Transactions: all,
	}
	block.Header.MerkleRoot = merkle.Root(block.TxIDs())
	Mine(&block.Header)
	return block
}

// Mine searches for a nonce satisfying the header's target
func Mine(h *models.BlockHeader) {
	target := models.CompactToBig(h.Bits)
	for {
		hash := h.Hash()
		if models.HashToBig(&hash).Cmp(target) <= 0 {
			return
		}
		h.Nonce++
	}
}

// Chain mines n empty blocks on top of genesis and returns their headers
func Chain(genesis models.BlockHeader, n int) []models.BlockHeader {
	headers := make([]models.BlockHeader, 0, n)
	prev := genesis
	for i := 1; i <= n; i++ {
		b := Block(&prev, i)
		headers = append(headers, b.Header)
		prev = b.Header
	}
	return headers
}

// Sent is one recorded message
type Sent struct {
	Peer thinblock.PeerID
	Msg  messages.Message
}

// Sender records every message sent
type Sender struct {
	Sent []Sent
	Err  error
}

func (s *Sender) Send(peer thinblock.PeerID, msg messages.Message) error {
	if s.Err != nil {
		return s.Err
	}
	s.Sent = append(s.Sent, Sent{Peer: peer, Msg: msg})
	return nil
}

// ByCommand returns the recorded messages with the given command
func (s *Sender) ByCommand(cmd string) []messages.Message {
	var out []messages.Message
	for _, sent := range s.Sent {
		if sent.Msg.Command() == cmd {
			out = append(out, sent.Msg)
		}
	}
	return out
}

// Reset forgets recorded messages
func (s *Sender) Reset() {
	s.Sent = nil
}

// Sink accumulates penalties per peer
type Sink struct {
	Points map[thinblock.PeerID]int
	Calls  int
}

func (s *Sink) Penalize(peer thinblock.PeerID, points int) {
	if s.Points == nil {
		s.Points = make(map[thinblock.PeerID]int)
	}
	s.Points[peer] += points
	s.Calls++
}

// Flight is a recorded in-flight mark or erase
type Flight struct {
	Peer thinblock.PeerID
	Hash chainhash.Hash
}

// InFlight records in-flight bookkeeping
type InFlight struct {
	Marked []Flight
	Erased []Flight
}

func (f *InFlight) MarkInFlight(peer thinblock.PeerID, hash chainhash.Hash) {
	f.Marked = append(f.Marked, Flight{Peer: peer, Hash: hash})
}

func (f *InFlight) EraseInFlight(peer thinblock.PeerID, hash chainhash.Hash) {
	f.Erased = append(f.Erased, Flight{Peer: peer, Hash: hash})
}

// Finder resolves placeholders against a fixed set of transactions
type Finder struct {
	Txs []*transaction.Transaction
}

func (f *Finder) Find(id thinblock.ThinTx) *transaction.Transaction {
	for _, tx := range f.Txs {
		if id.Matches(*tx.TxID()) {
			return tx
		}
	}
	return nil
}
