package p2p

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func newTestTransport(t *testing.T, id string) *Transport {
	t.Helper()
	tr, err := NewTransport(&Config{}, nil)
	if err != nil {
		t.Fatalf("NewTransport failed: %v", err)
	}
	tr.id = id
	return tr
}

func marshal(t *testing.T, env Envelope) []byte {
	t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return data
}

func TestAcceptAddressing(t *testing.T) {
	tr := newTestTransport(t, "me")

	env, ok := tr.accept("peer", marshal(t, Envelope{From: "spoofed", To: "me", Command: "ping", Payload: []byte{1}}))
	if !ok {
		t.Fatal("Envelope addressed to us should be accepted")
	}
	if env.From != "peer" {
		t.Errorf("Sender should come from the bus, got %s", env.From)
	}
	if env.Command != "ping" || len(env.Payload) != 1 {
		t.Error("Envelope fields should survive decoding")
	}

	if _, ok := tr.accept("peer", marshal(t, Envelope{Command: "inv"})); !ok {
		t.Error("Unaddressed envelope should be accepted")
	}
	if _, ok := tr.accept("peer", marshal(t, Envelope{To: "other", Command: "ping"})); ok {
		t.Error("Envelope for another peer should be dropped")
	}
	if _, ok := tr.accept("me", marshal(t, Envelope{Command: "inv"})); ok {
		t.Error("Our own envelope should be dropped")
	}
	if _, ok := tr.accept("peer", []byte("not json")); ok {
		t.Error("Garbage should be dropped")
	}
}

func TestSendBeforeStart(t *testing.T) {
	tr := newTestTransport(t, "")
	if err := tr.publish(Envelope{Command: "ping"}); err == nil {
		t.Error("Publishing before Start should fail")
	}
	if tr.PeerCount() != 0 || tr.GetPeers() != nil {
		t.Error("Unstarted transport has no peers")
	}
}

func TestBusLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	l := newBusLogger(logger)

	l.Debugf("hidden %d", 1)
	if buf.Len() != 0 {
		t.Fatalf("Debug output should be filtered, got %q", buf.String())
	}
	l.Warnf("peer %s gone", "abc")
	out := buf.String()
	if !strings.Contains(out, "peer abc gone") || !strings.Contains(out, "component=msgbus") {
		t.Errorf("Unexpected log line %q", out)
	}
}
