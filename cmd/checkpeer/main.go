package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/shruggr/thinrelay/p2p"
)

func main() {
	port := flag.Int("p2p-port", 9906, "P2P listen port")
	topicPrefix := flag.String("topic-prefix", "regtest", "Topic prefix (regtest, mainnet, etc.)")
	bootstrapPeer := flag.String("bootstrap-peer", "", "Bootstrap peer multiaddr")
	wait := flag.Duration("wait", 10*time.Second, "Time to wait for peer discovery")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("Usage: checkpeer [flags] <peer-id>")
		fmt.Println("Example: checkpeer -bootstrap-peer /ip4/127.0.0.1/tcp/9905/p2p/12D3KooW... 12D3KooWLAgVxTxSxjKdpLJhibJU1ASs61dyaQikA18RTvxxufnX")
		os.Exit(1)
	}
	targetPeerID := flag.Arg(0)

	var bootstrap []string
	if *bootstrapPeer != "" {
		bootstrap = []string{*bootstrapPeer}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	transport, err := p2p.NewTransport(&p2p.Config{
		Port:           *port,
		BootstrapPeers: bootstrap,
		TopicPrefix:    *topicPrefix,
		PeerCacheFile:  os.DevNull,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to create P2P transport: %v", err)
	}

	if err := transport.Start(); err != nil {
		log.Fatalf("Failed to start P2P transport: %v", err)
	}
	defer transport.Stop()

	log.Printf("Checking for peer %s...", targetPeerID)
	time.Sleep(*wait)
	log.Printf("Total connected peers: %d", transport.PeerCount())

	peers := transport.GetPeers()
	for _, peer := range peers {
		if fmt.Sprint(peer.ID) == targetPeerID {
			log.Printf("Found peer %s", targetPeerID)
			peerJSON, _ := json.MarshalIndent(peer, "", "  ")
			fmt.Println(string(peerJSON))
			return
		}
	}

	log.Printf("Peer %s not found in connected peers", targetPeerID)
	log.Println("All connected peer IDs:")
	for i, peer := range peers {
		fmt.Printf("%d. %v\n", i+1, peer.ID)
	}
	os.Exit(1)
}
