package thinblock_test

import (
	"testing"

	"github.com/shruggr/thinrelay/internal/thintest"
	"github.com/shruggr/thinrelay/messages"
	"github.com/shruggr/thinrelay/models"
	"github.com/shruggr/thinrelay/thinblock"
)

type bloomFixture struct {
	mg        *thinblock.Manager
	block     *models.Block
	sender    *thintest.Sender
	sink      *thintest.Sink
	inFlight  *thintest.InFlight
	concluder *thinblock.BloomConcluder
	nonce     uint64
}

func newBloomFixture(t *testing.T) *bloomFixture {
	f := &bloomFixture{
		mg:       newManager(t),
		block:    testBlock(3),
		sender:   &thintest.Sender{},
		sink:     &thintest.Sink{},
		inFlight: &thintest.InFlight{},
	}
	f.concluder = &thinblock.BloomConcluder{
		Sender:   f.sender,
		Sink:     f.sink,
		InFlight: f.inFlight,
		Nonce: func() uint64 {
			f.nonce++
			return f.nonce
		},
	}
	return f
}

// startWorker assigns peer to the block, builds its stub with only the
// coinbase known and registers a pending ping
func (f *bloomFixture) startWorker(t *testing.T, peer thinblock.PeerID) (*thinblock.Worker, *thinblock.PongTracker) {
	t.Helper()
	w := thinblock.NewWorker(f.mg, peer, thinblock.ProtocolBloom)
	w.SetToWork(f.block.Hash())
	finder := &thintest.Finder{Txs: f.block.Transactions[:1]}
	if err := w.BuildStub(bloomStub(t, f.block), finder); err != nil {
		t.Fatalf("BuildStub failed: %v", err)
	}
	pongs := &thinblock.PongTracker{}
	pongs.Expect(1000, f.block.Hash())
	return w, pongs
}

func TestBloomReRequestThenFallback(t *testing.T) {
	f := newBloomFixture(t)
	hash := f.block.Hash()
	w, pongs := f.startWorker(t, "a")

	if got := f.concluder.Conclude(w, pongs, 1000); got != thinblock.OutcomeReRequested {
		t.Fatalf("Expected re-request, got %s", got)
	}
	getdata := f.sender.ByCommand(messages.CmdGetData)
	if len(getdata) != 1 || len(getdata[0].(*messages.GetData).Inventory) != 3 {
		t.Fatalf("Expected one getdata for 3 txs, got %+v", getdata)
	}
	pings := f.sender.ByCommand(messages.CmdPing)
	if len(pings) != 1 || pings[0].(*messages.Ping).Nonce != pongs.Nonce {
		t.Fatal("Expected a ping matching the tracked nonce")
	}
	if !w.IsReRequesting(hash) {
		t.Error("Worker should be marked re-requesting")
	}

	f.sender.Reset()
	if got := f.concluder.Conclude(w, pongs, pongs.Nonce); got != thinblock.OutcomeFallback {
		t.Fatalf("Expected fallback, got %s", got)
	}
	if f.mg.NumWorkers(hash) != 0 || f.mg.IsStubBuilt(hash) {
		t.Error("Builder should be destroyed after the last worker gives up")
	}
	getdata = f.sender.ByCommand(messages.CmdGetData)
	if len(getdata) != 1 {
		t.Fatalf("Expected exactly one full block request, got %d", len(getdata))
	}
	inv := getdata[0].(*messages.GetData).Inventory
	if len(inv) != 1 || inv[0].Type != messages.InvBlock || inv[0].Hash != hash {
		t.Errorf("Unexpected full block request %+v", inv)
	}
	if len(f.inFlight.Marked) != 1 || f.inFlight.Marked[0].Peer != "a" {
		t.Errorf("Expected one in-flight mark for a, got %+v", f.inFlight.Marked)
	}
	if f.sink.Calls != 0 {
		t.Error("Giving up must not penalize")
	}
}

func TestBloomTwoWorkersGiveUp(t *testing.T) {
	f := newBloomFixture(t)
	hash := f.block.Hash()
	a, pongsA := f.startWorker(t, "a")
	b, pongsB := f.startWorker(t, "b")

	f.concluder.Conclude(a, pongsA, 1000)
	f.concluder.Conclude(b, pongsB, 1000)

	if got := f.concluder.Conclude(a, pongsA, pongsA.Nonce); got != thinblock.OutcomeGaveUp {
		t.Fatalf("Expected first worker to give up, got %s", got)
	}
	if f.mg.NumWorkers(hash) != 1 {
		t.Fatalf("Expected 1 worker left, got %d", f.mg.NumWorkers(hash))
	}
	if len(f.inFlight.Marked) != 0 {
		t.Fatal("No fallback while another worker remains")
	}

	if got := f.concluder.Conclude(b, pongsB, pongsB.Nonce); got != thinblock.OutcomeFallback {
		t.Fatalf("Expected fallback, got %s", got)
	}
	if f.mg.NumWorkers(hash) != 0 {
		t.Error("Registry should be empty")
	}
	if len(f.inFlight.Marked) != 1 || f.inFlight.Marked[0].Peer != "b" {
		t.Errorf("Expected exactly one fallback to b, got %+v", f.inFlight.Marked)
	}
}

func TestBloomStalePong(t *testing.T) {
	f := newBloomFixture(t)
	w, pongs := f.startWorker(t, "a")

	if got := f.concluder.Conclude(w, pongs, 999); got != thinblock.OutcomeIgnored {
		t.Errorf("Expected wrong nonce to be ignored, got %s", got)
	}

	other := thintest.Block(&models.RegtestGenesis, 7).Hash()
	pongs.Expect(1000, other)
	if got := f.concluder.Conclude(w, pongs, 1000); got != thinblock.OutcomeIgnored {
		t.Errorf("Expected pong for other block to be ignored, got %s", got)
	}
	if pongs.Nonce != 1000 || pongs.Block != other {
		t.Error("Stale pong must leave the tracker unchanged")
	}
	if len(f.sender.Sent) != 0 || len(f.inFlight.Marked) != 0 || f.sink.Calls != 0 {
		t.Error("Stale pong must have no effects")
	}
	if !w.IsWorkingOn(f.block.Hash()) || w.IsReRequesting(f.block.Hash()) {
		t.Error("Worker state must be unchanged")
	}
}

func TestBloomNoSkeleton(t *testing.T) {
	f := newBloomFixture(t)
	hash := f.block.Hash()
	w := thinblock.NewWorker(f.mg, "a", thinblock.ProtocolBloom)
	w.SetToWork(hash)
	pongs := &thinblock.PongTracker{}
	pongs.Expect(5, hash)

	if got := f.concluder.Conclude(w, pongs, 5); got != thinblock.OutcomePenalized {
		t.Fatalf("Expected penalty, got %s", got)
	}
	if f.sink.Points["a"] != thinblock.PenaltyNoSkeleton {
		t.Errorf("Expected %d points, got %d", thinblock.PenaltyNoSkeleton, f.sink.Points["a"])
	}
	if w.IsWorking() {
		t.Error("Worker should stop work")
	}
}

func TestBloomPongWhenIdle(t *testing.T) {
	f := newBloomFixture(t)
	w := thinblock.NewWorker(f.mg, "a", thinblock.ProtocolBloom)
	pongs := &thinblock.PongTracker{}
	pongs.Expect(5, f.block.Hash())

	if got := f.concluder.Conclude(w, pongs, 5); got != thinblock.OutcomeIdle {
		t.Fatalf("Expected idle, got %s", got)
	}
	if pongs.Pending() {
		t.Error("Idle worker should clear the pending nonce")
	}
}

func TestResponseConcluders(t *testing.T) {
	block := testBlock(3)
	hash := block.Hash()

	t.Run("xthin complete", func(t *testing.T) {
		mg := newManager(t)
		sink := &thintest.Sink{}
		w := thinblock.NewWorker(mg, "a", thinblock.ProtocolXThin)
		w.SetToWork(hash)
		w.BuildStub(xthinStub(t, block), nil)

		c := &thinblock.XThinConcluder{ResponseConcluder: thinblock.ResponseConcluder{Sink: sink}}
		got, err := c.Conclude(w, &messages.XThinReReqResponse{Block: hash, TxRequested: block.Transactions[1:]})
		if err != nil || got != thinblock.OutcomeCompleted {
			t.Fatalf("Expected completion, got %s %v", got, err)
		}
		if len(mg.TakeFinished()) != 1 || sink.Calls != 0 {
			t.Error("Expected one finished block and no penalty")
		}
	})

	t.Run("compact incomplete", func(t *testing.T) {
		mg := newManager(t)
		sink := &thintest.Sink{}
		w := thinblock.NewWorker(mg, "a", thinblock.ProtocolCompact)
		w.SetToWork(hash)
		stub, _ := thinblock.NewCompactStub(messages.NewCompactBlock(block, 3))
		w.BuildStub(stub, nil)

		c := &thinblock.CompactConcluder{ResponseConcluder: thinblock.ResponseConcluder{Sink: sink}}
		got, err := c.Conclude(w, &messages.CompactReReqResponse{BlockHash: hash, Txs: block.Transactions[1:2]})
		if err != nil || got != thinblock.OutcomePenalized {
			t.Fatalf("Expected penalty, got %s %v", got, err)
		}
		if sink.Points["a"] != thinblock.PenaltyUnfulfilled {
			t.Errorf("Expected %d points, got %d", thinblock.PenaltyUnfulfilled, sink.Points["a"])
		}
		if w.IsWorking() || mg.NumBlocks() != 0 {
			t.Error("Worker should stop work on the block")
		}
	})

	t.Run("not working", func(t *testing.T) {
		mg := newManager(t)
		sink := &thintest.Sink{}
		w := thinblock.NewWorker(mg, "a", thinblock.ProtocolCompact)
		c := &thinblock.CompactConcluder{ResponseConcluder: thinblock.ResponseConcluder{Sink: sink}}
		got, err := c.Conclude(w, &messages.CompactReReqResponse{BlockHash: hash})
		if err != nil || got != thinblock.OutcomeIgnored || sink.Calls != 0 {
			t.Errorf("Expected silent no-op, got %s %v", got, err)
		}
	})
}
