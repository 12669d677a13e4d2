// Package storage provides persistent storage using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides persistent storage for the Crosslock daemon.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "crosslock.db")

	// Open database
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	// Initialize schema
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Swaps table (full lifecycle of a cross-chain swap)
	CREATE TABLE IF NOT EXISTS swaps (
		id TEXT PRIMARY KEY,

		-- Direction
		source_chain TEXT NOT NULL,
		dest_chain TEXT NOT NULL,

		-- Parties
		initiator TEXT NOT NULL,
		counterparty TEXT NOT NULL,
		resolver TEXT,

		-- Amounts in smallest units
		source_amount INTEGER NOT NULL,
		dest_amount INTEGER NOT NULL,

		-- Hashlock (hex-encoded SHA256)
		hashlock TEXT NOT NULL,

		-- Status (initiated, src_escrowed, dst_escrowed, ready, completed, refunded, failed)
		status TEXT NOT NULL DEFAULT 'initiated',

		-- Lock references
		src_lock_id TEXT,
		dst_lock_id TEXT,
		src_tx TEXT,
		dst_tx TEXT,

		-- Deadlines (unix seconds)
		src_deadline INTEGER NOT NULL DEFAULT 0,
		dst_deadline INTEGER NOT NULL DEFAULT 0,

		-- Terminal-state reporting
		failure_reason TEXT,
		src_lock_state TEXT,
		dst_lock_state TEXT,

		-- Cancel requested while funds were escrowed
		cancel_requested INTEGER NOT NULL DEFAULT 0,

		-- Timing
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_swaps_status ON swaps(status);
	CREATE INDEX IF NOT EXISTS idx_swaps_src_deadline ON swaps(src_deadline);
	CREATE INDEX IF NOT EXISTS idx_swaps_updated ON swaps(updated_at);

	-- Secrets table (separate for security - hashlock preimages)
	CREATE TABLE IF NOT EXISTS secrets (
		swap_id TEXT PRIMARY KEY,

		-- The secret hash (always known)
		secret_hash TEXT NOT NULL,

		-- The preimage (only after disclosure)
		secret TEXT,

		-- Timing
		created_at INTEGER NOT NULL,
		disclosed_at INTEGER,

		FOREIGN KEY (swap_id) REFERENCES swaps(id)
	);

	CREATE INDEX IF NOT EXISTS idx_secrets_hash ON secrets(secret_hash);

	-- Auction orders table
	CREATE TABLE IF NOT EXISTS auction_orders (
		id TEXT PRIMARY KEY,
		swap_id TEXT,

		-- Order value in smallest units
		asset TEXT NOT NULL,
		value INTEGER NOT NULL,

		-- Dutch decay parameters (decimal strings)
		start_price TEXT NOT NULL,
		end_price TEXT NOT NULL,
		duration_seconds INTEGER NOT NULL,

		-- Status (active, filled, expired, cancelled)
		status TEXT NOT NULL DEFAULT 'active',

		-- Fill result
		winning_bid_id TEXT,
		clearing_price TEXT,

		-- Timing
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		closed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_auction_orders_status ON auction_orders(status);
	CREATE INDEX IF NOT EXISTS idx_auction_orders_swap ON auction_orders(swap_id);

	-- Auction bids table
	CREATE TABLE IF NOT EXISTS auction_bids (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		resolver_id TEXT NOT NULL,

		-- Bid price (decimal string)
		price TEXT NOT NULL,

		-- Whether this bid won
		accepted INTEGER NOT NULL DEFAULT 0,

		created_at INTEGER NOT NULL,

		FOREIGN KEY (order_id) REFERENCES auction_orders(id)
	);

	CREATE INDEX IF NOT EXISTS idx_auction_bids_order ON auction_bids(order_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
