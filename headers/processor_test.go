package headers

import (
	"errors"
	"testing"
	"time"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/shruggr/thinrelay/internal/thintest"
	"github.com/shruggr/thinrelay/messages"
	"github.com/shruggr/thinrelay/models"
)

type inFlightSet map[chainhash.Hash]bool

func (s inFlightSet) IsInFlight(hash chainhash.Hash) bool { return s[hash] }

func newTestProcessor(maxInTransit int) (*Processor, *models.HeaderChain, *thintest.Sender, inFlightSet) {
	chain := models.NewHeaderChain(models.RegtestGenesis)
	sender := &thintest.Sender{}
	inFlight := inFlightSet{}
	p := NewProcessor(chain, inFlight, sender, Config{MaxBlocksInTransitPerPeer: maxInTransit}, nil)
	p.SetClock(func() time.Time { return time.Unix(int64(models.RegtestGenesis.Timestamp), 0) })
	return p, chain, sender, inFlight
}

func TestProcessHeadersConnects(t *testing.T) {
	p, chain, sender, inFlight := newTestProcessor(3)
	headers := thintest.Chain(models.RegtestGenesis, 5)
	inFlight[headers[0].Hash()] = true

	last, toFetch, err := p.ProcessHeaders("a", headers, false)
	if err != nil {
		t.Fatalf("ProcessHeaders failed: %v", err)
	}
	if last.Height != 5 || last.Hash != headers[4].Hash() {
		t.Errorf("Expected tip at height 5, got %d", last.Height)
	}
	if chain.BestHeader() != last {
		t.Error("Best header should be the new tip")
	}
	if len(toFetch) != 3 {
		t.Fatalf("Expected 3 blocks to fetch, got %d", len(toFetch))
	}
	if toFetch[0].Height != 2 {
		t.Errorf("Expected oldest missing block first (height 2), got %d", toFetch[0].Height)
	}
	if len(sender.Sent) != 0 {
		t.Error("No getheaders expected when peer did not send a full batch")
	}
}

func TestProcessHeadersPeerSentMax(t *testing.T) {
	p, _, sender, _ := newTestProcessor(0)
	headers := thintest.Chain(models.RegtestGenesis, 2)

	if _, _, err := p.ProcessHeaders("a", headers, true); err != nil {
		t.Fatalf("ProcessHeaders failed: %v", err)
	}
	reqs := sender.ByCommand(messages.CmdGetHeaders)
	if len(reqs) != 1 {
		t.Fatalf("Expected one getheaders, got %d", len(reqs))
	}
	if loc := reqs[0].(*messages.GetHeaders).Locator; len(loc) == 0 || loc[0] != headers[1].Hash() {
		t.Error("Locator should start at the new tip")
	}
}

func TestProcessHeadersRejectsBatch(t *testing.T) {
	p, chain, _, _ := newTestProcessor(0)
	headers := thintest.Chain(models.RegtestGenesis, 3)

	bad := make([]models.BlockHeader, len(headers))
	copy(bad, headers)
	bad[2].Bits = 0x1d00ffff

	_, _, err := p.ProcessHeaders("a", bad, false)
	if !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("Expected ErrInvalidHeader, got %v", err)
	}
	if _, ok := chain.Lookup(bad[0].Hash()); ok {
		t.Error("No header of a rejected batch may be connected")
	}

	gap := []models.BlockHeader{headers[0], headers[2]}
	if _, _, err := p.ProcessHeaders("a", gap, false); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("Expected non-continuous batch to be invalid, got %v", err)
	}
}

func TestCheckHeaderFutureTimestamp(t *testing.T) {
	h := thintest.Chain(models.RegtestGenesis, 1)[0]
	now := time.Unix(int64(h.Timestamp), 0)

	if err := CheckHeader(&h, now, time.Hour); err != nil {
		t.Fatalf("Valid header rejected: %v", err)
	}
	if err := CheckHeader(&h, now.Add(-3*time.Hour), 2*time.Hour); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("Expected future header to be invalid, got %v", err)
	}
}

func TestRequestConnectHeaders(t *testing.T) {
	p, _, sender, _ := newTestProcessor(0)
	headers := thintest.Chain(models.RegtestGenesis, 2)

	if p.RequestConnectHeaders(&headers[0], "a") {
		t.Error("Header on genesis should connect")
	}
	if len(sender.Sent) != 0 {
		t.Error("No request expected for a connectable header")
	}

	if !p.RequestConnectHeaders(&headers[1], "a") {
		t.Fatal("Header with unknown parent should not connect")
	}
	reqs := sender.ByCommand(messages.CmdGetHeaders)
	if len(reqs) != 1 || reqs[0].(*messages.GetHeaders).HashStop != headers[1].Hash() {
		t.Error("Expected getheaders stopping at the unconnectable header")
	}

	if _, _, err := p.ProcessHeaders("a", headers[1:], false); !errors.Is(err, ErrUnconnected) {
		t.Errorf("Expected ErrUnconnected, got %v", err)
	}
}

func TestNoFetchWithLessWork(t *testing.T) {
	p, chain, _, _ := newTestProcessor(0)
	main := thintest.Chain(models.RegtestGenesis, 3)
	if _, _, err := p.ProcessHeaders("a", main, false); err != nil {
		t.Fatalf("ProcessHeaders failed: %v", err)
	}
	for _, h := range main {
		chain.MarkHaveData(h.Hash())
	}

	fork := thintest.Block(&models.RegtestGenesis, 99)
	_, toFetch, err := p.ProcessHeaders("b", []models.BlockHeader{fork.Header}, false)
	if err != nil {
		t.Fatalf("ProcessHeaders failed: %v", err)
	}
	if len(toFetch) != 0 {
		t.Errorf("Shorter fork should not be fetched, got %d blocks", len(toFetch))
	}
}
