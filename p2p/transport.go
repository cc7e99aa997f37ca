package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	p2p "github.com/bsv-blockchain/go-p2p-message-bus"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/shruggr/thinrelay/messages"
	"github.com/shruggr/thinrelay/thinblock"
)

// Config holds P2P transport configuration
type Config struct {
	Port           int
	BootstrapPeers []string
	PrivateKey     string // hex-encoded private key
	TopicPrefix    string // e.g., "regtest", "mainnet"
	PeerCacheFile  string
	InboxSize      int
}

// Envelope carries one relay protocol message over the bus. Messages are
// published on a shared topic; To names the receiving peer or is empty
// for a broadcast.
type Envelope struct {
	From    string `json:"from"`
	To      string `json:"to,omitempty"`
	Command string `json:"command"`
	Payload []byte `json:"payload"`
}

// Transport sends and receives relay messages over go-p2p-message-bus
type Transport struct {
	config *Config
	client p2p.Client
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan Envelope
	topic  string
	id     string
	mu     sync.Mutex
}

// NewTransport creates a new P2P transport
func NewTransport(config *Config, logger *slog.Logger) (*Transport, error) {
	if config.TopicPrefix == "" {
		config.TopicPrefix = "regtest"
	}
	if config.PeerCacheFile == "" {
		config.PeerCacheFile = "peer_cache.json"
	}
	if config.InboxSize <= 0 {
		config.InboxSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Transport{
		config: config,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		inbox:  make(chan Envelope, config.InboxSize),
		topic:  fmt.Sprintf("thinrelay/1.0.0/%s-messages", config.TopicPrefix),
	}, nil
}

// Start initializes the P2P client and begins receiving
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.logger.Info("P2P transport starting", "port", t.config.Port, "network", t.config.TopicPrefix)

	var privKey crypto.PrivKey
	var err error

	if t.config.PrivateKey != "" {
		privKey, err = p2p.PrivateKeyFromHex(t.config.PrivateKey)
		if err != nil {
			return fmt.Errorf("failed to decode private key: %w", err)
		}
	} else {
		privKey, err = p2p.GeneratePrivateKey()
		if err != nil {
			return fmt.Errorf("failed to generate private key: %w", err)
		}
		keyHex, _ := p2p.PrivateKeyToHex(privKey)
		t.logger.Info("Generated new private key", "key", keyHex)
	}

	clientConfig := p2p.Config{
		Name:          "thinrelay",
		Logger:        newBusLogger(t.logger),
		PrivateKey:    privKey,
		Port:          t.config.Port,
		PeerCacheFile: t.config.PeerCacheFile,
	}

	if len(t.config.BootstrapPeers) > 0 {
		clientConfig.BootstrapPeers = t.config.BootstrapPeers
	}

	client, err := p2p.NewClient(clientConfig)
	if err != nil {
		return fmt.Errorf("failed to create P2P client: %w", err)
	}

	t.client = client
	t.id = client.GetID()

	t.logger.Info("Subscribing to topic", "topic", t.topic)
	go t.receive(client.Subscribe(t.topic))

	t.logger.Info("P2P transport successfully started", "peerID", t.id)
	return nil
}

// receive decodes envelopes addressed to this node and forwards them
func (t *Transport) receive(msgChan <-chan p2p.Message) {
	for msg := range msgChan {
		env, ok := t.accept(msg.FromID, msg.Data)
		if !ok {
			continue
		}

		select {
		case t.inbox <- env:
		default:
			t.logger.Warn("Inbox full, dropping message", "from", env.From, "command", env.Command)
		}
	}
	t.logger.Warn("Topic channel closed", "topic", t.topic)
}

// accept filters and decodes one bus message. The sender is taken from
// the bus, not the envelope.
func (t *Transport) accept(fromID string, data []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.logger.Debug("Failed to parse envelope", "from", fromID, "error", err)
		return Envelope{}, false
	}
	if fromID == t.id || (env.To != "" && env.To != t.id) {
		return Envelope{}, false
	}
	env.From = fromID
	t.logger.Debug("Received message", "from", env.From, "command", env.Command, "size", len(env.Payload))
	return env, true
}

// Messages returns the channel of inbound envelopes
func (t *Transport) Messages() <-chan Envelope {
	return t.inbox
}

// Send encodes msg and publishes it to peer
func (t *Transport) Send(peer thinblock.PeerID, msg messages.Message) error {
	payload, err := messages.Encode(msg)
	if err != nil {
		return err
	}
	return t.publish(Envelope{To: string(peer), Command: msg.Command(), Payload: payload})
}

func (t *Transport) publish(env Envelope) error {
	t.mu.Lock()
	client := t.client
	env.From = t.id
	t.mu.Unlock()

	if client == nil {
		return fmt.Errorf("transport not started")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := client.Publish(t.ctx, t.topic, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", env.Command, err)
	}
	return nil
}

// ID returns this node's peer id, empty before Start
func (t *Transport) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.id
}

// Stop shuts down the P2P transport
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancel()

	if t.client != nil {
		return t.client.Close()
	}

	return nil
}

// PeerCount returns the number of connected peers
func (t *Transport) PeerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return 0
	}

	return len(t.client.GetPeers())
}

// GetPeers returns information about all connected peers
func (t *Transport) GetPeers() []p2p.PeerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil
	}

	return t.client.GetPeers()
}
