package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shruggr/thinrelay/metadata"
)

// Store is a SQLite-backed implementation of metadata.Store
type Store struct {
	db *sql.DB
}

// Config holds configuration for SQLite
type Config struct {
	DBPath string // Path to SQLite database file
}

// New creates a new SQLite-backed metadata store
func New(config *Config) (*Store, error) {
	if config.DBPath == "" {
		return nil, fmt.Errorf("DBPath is required")
	}

	db, err := sql.Open("sqlite3", config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the necessary tables
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS blocks (
		block_hash   BLOB PRIMARY KEY,
		height       INTEGER NOT NULL,
		merkle_root  BLOB NOT NULL,
		tx_count     INTEGER NOT NULL,
		protocol     TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'main',
		timestamp    INTEGER,
		created_at   INTEGER DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_blocks_status_height ON blocks(status, height);

	CREATE TABLE IF NOT EXISTS contributors (
		block_hash BLOB NOT NULL,
		position   INTEGER NOT NULL,
		peer_id    TEXT NOT NULL,

		PRIMARY KEY (block_hash, position)
	);

	CREATE INDEX IF NOT EXISTS idx_contributors_peer ON contributors(peer_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// PutBlock stores a block record and replaces its contributors atomically
func (s *Store) PutBlock(ctx context.Context, rec *metadata.BlockRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	status := rec.Status
	if status == "" {
		status = metadata.StatusMain
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO blocks (block_hash, height, merkle_root, tx_count, protocol, status, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.BlockHash[:], rec.Height, rec.MerkleRoot[:], rec.TxCount, rec.Protocol, string(status), rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert block: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM contributors WHERE block_hash = ?`, rec.BlockHash[:]); err != nil {
		return fmt.Errorf("failed to clear contributors: %w", err)
	}
	for i, peer := range rec.Contributors {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO contributors (block_hash, position, peer_id) VALUES (?, ?, ?)`,
			rec.BlockHash[:], i, peer,
		)
		if err != nil {
			return fmt.Errorf("failed to insert contributor %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

const selectBlock = `SELECT block_hash, height, merkle_root, tx_count, protocol, status, timestamp FROM blocks `

func (s *Store) queryBlock(ctx context.Context, where string, args ...any) (*metadata.BlockRecord, error) {
	var rec metadata.BlockRecord
	var blockHash, merkleRoot []byte
	var status string
	var timestamp sql.NullInt64

	err := s.db.QueryRowContext(ctx, selectBlock+where, args...).
		Scan(&blockHash, &rec.Height, &merkleRoot, &rec.TxCount, &rec.Protocol, &status, &timestamp)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query block: %w", err)
	}

	copy(rec.BlockHash[:], blockHash)
	copy(rec.MerkleRoot[:], merkleRoot)
	rec.Status = metadata.BlockStatus(status)
	if timestamp.Valid {
		rec.Timestamp = timestamp.Int64
	}

	rec.Contributors, err = s.contributors(ctx, rec.BlockHash)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) contributors(ctx context.Context, blockHash chainhash.Hash) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT peer_id FROM contributors WHERE block_hash = ? ORDER BY position`,
		blockHash[:],
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query contributors: %w", err)
	}
	defer rows.Close()

	var peers []string
	for rows.Next() {
		var peer string
		if err := rows.Scan(&peer); err != nil {
			return nil, fmt.Errorf("failed to scan contributor: %w", err)
		}
		peers = append(peers, peer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contributors: %w", err)
	}

	return peers, nil
}

// GetBlock retrieves the main chain record at height
func (s *Store) GetBlock(ctx context.Context, height uint64) (*metadata.BlockRecord, error) {
	return s.queryBlock(ctx, `WHERE height = ? AND status = 'main'`, height)
}

// GetBlockByHash retrieves a record by block hash
func (s *Store) GetBlockByHash(ctx context.Context, blockHash chainhash.Hash) (*metadata.BlockRecord, error) {
	return s.queryBlock(ctx, `WHERE block_hash = ?`, blockHash[:])
}

// GetLatestBlock returns the highest main chain record
func (s *Store) GetLatestBlock(ctx context.Context) (*metadata.BlockRecord, error) {
	return s.queryBlock(ctx, `WHERE status = 'main' ORDER BY height DESC LIMIT 1`)
}

// SetStatus updates the chain status of the record for blockHash
func (s *Store) SetStatus(ctx context.Context, blockHash chainhash.Hash, status metadata.BlockStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE blocks SET status = ? WHERE block_hash = ?`,
		string(status), blockHash[:],
	)
	if err != nil {
		return fmt.Errorf("failed to set block status: %w", err)
	}
	return nil
}

// CleanupOrphans removes orphaned blocks older than the given depth
func (s *Store) CleanupOrphans(ctx context.Context, currentHeight uint64, depth uint64) error {
	if currentHeight < depth {
		return nil
	}

	cutoffHeight := currentHeight - depth

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM contributors WHERE block_hash IN
		 (SELECT block_hash FROM blocks WHERE status = 'orphan' AND height <= ?)`,
		cutoffHeight,
	)
	if err != nil {
		return fmt.Errorf("failed to cleanup orphan contributors: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM blocks WHERE status = 'orphan' AND height <= ?`,
		cutoffHeight,
	)
	if err != nil {
		return fmt.Errorf("failed to cleanup orphans: %w", err)
	}

	return tx.Commit()
}

// ContributionCounts returns how many recorded blocks each peer helped
// reconstruct
func (s *Store) ContributionCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT peer_id, COUNT(*) FROM contributors GROUP BY peer_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query contribution counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var peer string
		var n int
		if err := rows.Scan(&peer, &n); err != nil {
			return nil, fmt.Errorf("failed to scan contribution count: %w", err)
		}
		counts[peer] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contribution counts: %w", err)
	}

	return counts, nil
}

// Close releases all database resources
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
