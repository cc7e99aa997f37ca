package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shruggr/thinrelay/blockstore"
	"github.com/shruggr/thinrelay/kvstore"
	"github.com/shruggr/thinrelay/kvstore/badger"
	"github.com/shruggr/thinrelay/kvstore/memory"
	"github.com/shruggr/thinrelay/metadata"
	"github.com/shruggr/thinrelay/metadata/sqlite"
	"github.com/shruggr/thinrelay/models"
	"github.com/shruggr/thinrelay/node"
	"github.com/shruggr/thinrelay/p2p"
	"github.com/shruggr/thinrelay/thinblock"
)

// splitAndTrim splits a string by delimiter and trims whitespace from each part
func splitAndTrim(s, delim string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, delim)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// maintainMetadata prunes old orphan records below the recorded tip and
// logs how many blocks each peer helped reconstruct
func maintainMetadata(ctx context.Context, sq *sqlite.Store, depth uint64, logger *slog.Logger) {
	latest, err := sq.GetLatestBlock(ctx)
	if err != nil {
		logger.Error("failed to read latest block record", "error", err)
		return
	}
	if latest == nil {
		return
	}
	if err := sq.CleanupOrphans(ctx, latest.Height, depth); err != nil {
		logger.Error("failed to clean up orphan records", "error", err)
	}

	counts, err := sq.ContributionCounts(ctx)
	if err != nil {
		logger.Error("failed to read contribution counts", "error", err)
		return
	}
	for peer, n := range counts {
		logger.Info("peer contributions", "peer", peer, "blocks", n)
	}
}

func main() {
	storageType := flag.String("storage", "badger", "Storage type: memory or badger")
	dataDir := flag.String("data-dir", "./data", "Data directory for BadgerDB")
	dbPath := flag.String("db-path", "", "SQLite block metadata database (disabled when empty)")
	p2pPort := flag.Int("p2p-port", 9905, "P2P listen port")
	topicPrefix := flag.String("topic-prefix", "regtest", "Topic prefix (regtest, mainnet, etc.)")
	bootstrapPeers := flag.String("bootstrap-peers", "", "Comma-separated list of bootstrap peer multiaddrs")
	privateKey := flag.String("private-key", "", "Hex-encoded P2P private key (generated when empty)")
	protocolName := flag.String("protocol", "compact", "Thin block protocol for peers: bloom, xthin or compact")
	banThreshold := flag.Int("ban-threshold", node.DefaultBanThreshold, "Misbehaviour score at which peers are banned")
	orphanDepth := flag.Uint64("orphan-depth", 100, "Blocks below the recorded tip after which orphan records are removed")
	maxAnnouncers := flag.Int("max-announcers", thinblock.DefaultMaxAnnouncers, "Peers asked to announce blocks")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))
	slog.SetDefault(logger)

	log.Println("Starting thin block relay...")

	protocol, err := thinblock.ParseProtocol(*protocolName)
	if err != nil {
		log.Fatalf("Invalid protocol: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store kvstore.KVStore
	switch *storageType {
	case "memory":
		log.Println("Using in-memory storage")
		store = memory.New()
	case "badger":
		log.Printf("Using BadgerDB storage at %s", *dataDir)
		db, err := badger.New(&badger.Config{DataDir: *dataDir}, logger)
		if err != nil {
			log.Fatalf("Failed to initialize BadgerDB: %v", err)
		}
		go db.GCLoop(ctx, 10*time.Minute)
		store = db
	default:
		log.Fatalf("Unknown storage type: %s (use 'memory' or 'badger')", *storageType)
	}
	defer store.Close()

	var meta metadata.Store
	var sq *sqlite.Store
	if *dbPath != "" {
		sq, err = sqlite.New(&sqlite.Config{DBPath: *dbPath})
		if err != nil {
			log.Fatalf("Failed to open metadata database: %v", err)
		}
		defer sq.Close()
		meta = sq

		latest, err := sq.GetLatestBlock(ctx)
		if err != nil {
			log.Fatalf("Failed to read metadata database: %v", err)
		}
		if latest != nil {
			log.Printf("Last recorded block %s at height %d via %s", latest.BlockHash, latest.Height, latest.Protocol)
		}
	}

	transport, err := p2p.NewTransport(&p2p.Config{
		Port:           *p2pPort,
		BootstrapPeers: splitAndTrim(*bootstrapPeers, ","),
		PrivateKey:     *privateKey,
		TopicPrefix:    *topicPrefix,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to create P2P transport: %v", err)
	}
	if err := transport.Start(); err != nil {
		log.Fatalf("Failed to start P2P transport: %v", err)
	}
	defer transport.Stop()

	chain := models.NewHeaderChain(models.RegtestGenesis)
	n, err := node.New(node.Config{
		MaxAnnouncers:   *maxAnnouncers,
		BanThreshold:    *banThreshold,
		DefaultProtocol: protocol,
	}, chain, transport, blockstore.New(store), meta, logger)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}

	log.Printf("Relay started | ID: %s | Protocol: %s | Height: %d | Peers: %d",
		transport.ID(), protocol, chain.Height(), transport.PeerCount())

	inbox := make(chan node.Message, 100)
	go func() {
		defer close(inbox)
		for {
			select {
			case <-ctx.Done():
				return
			case env := <-transport.Messages():
				msg := node.Message{
					Peer:    thinblock.PeerID(env.From),
					Command: env.Command,
					Payload: env.Payload,
				}
				select {
				case inbox <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	done := make(chan error, 1)
	go func() {
		done <- n.Run(ctx, inbox)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Status ticker to show we're alive and peer count
	statusTicker := time.NewTicker(5 * time.Minute)
	defer statusTicker.Stop()

	for {
		select {
		case <-sigCh:
			log.Println("Shutting down...")
			cancel()
			<-done
			return

		case err := <-done:
			if err != nil && ctx.Err() == nil {
				logger.Error("node stopped", "error", err)
			}
			return

		case <-statusTicker.C:
			log.Printf("Status: Connected to %d peers, height %d", transport.PeerCount(), chain.Height())
			if sq != nil {
				maintainMetadata(ctx, sq, *orphanDepth, logger)
			}
		}
	}
}
