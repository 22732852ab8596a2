// Package storage provides persistent storage using SQLite: derived wallet
// addresses, the UTXO set and the reservations held against it.
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

// Storage provides persistent storage for the wallet daemon.
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

	dbPath := filepath.Join(dataDir, "wallet.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

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

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.dbPath
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Settings table
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);

	-- Derived addresses (BIP44: m/44'/coin'/account'/change/index)
	CREATE TABLE IF NOT EXISTS wallet_addresses (
		address TEXT PRIMARY KEY,
		network TEXT NOT NULL,

		account INTEGER NOT NULL DEFAULT 0,
		change INTEGER NOT NULL DEFAULT 0,
		address_index INTEGER NOT NULL,

		-- p2pkh or p2sh-multisig
		script_type TEXT NOT NULL DEFAULT 'p2pkh',

		tx_count INTEGER DEFAULT 0,

		created_at INTEGER NOT NULL,
		last_seen_at INTEGER,

		UNIQUE(network, account, change, address_index)
	);

	CREATE INDEX IF NOT EXISTS idx_wallet_addresses_network ON wallet_addresses(network);

	-- Unspent outputs across all wallet addresses
	CREATE TABLE IF NOT EXISTS wallet_utxos (
		txid TEXT NOT NULL,
		vout INTEGER NOT NULL,

		-- Value in satoshis
		amount INTEGER NOT NULL,

		address TEXT NOT NULL,
		network TEXT NOT NULL,

		-- Derivation path (for key derivation during signing)
		account INTEGER NOT NULL DEFAULT 0,
		change INTEGER NOT NULL DEFAULT 0,
		address_index INTEGER NOT NULL,

		script_pubkey TEXT,
		script_type TEXT NOT NULL DEFAULT 'p2pkh',

		-- 'unconfirmed', 'confirmed', 'reserved', 'spent'
		status TEXT NOT NULL DEFAULT 'unconfirmed',

		block_height INTEGER,
		confirmations INTEGER DEFAULT 0,

		-- Reservation held by an in-flight transaction
		reservation_id TEXT,
		reserved_at INTEGER,

		spent_txid TEXT,
		spent_at INTEGER,

		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,

		PRIMARY KEY (txid, vout)
	);

	CREATE INDEX IF NOT EXISTS idx_wallet_utxos_network_status ON wallet_utxos(network, status);
	CREATE INDEX IF NOT EXISTS idx_wallet_utxos_address ON wallet_utxos(address);
	CREATE INDEX IF NOT EXISTS idx_wallet_utxos_reservation ON wallet_utxos(reservation_id);

	-- Gap-limit scan progress per network
	CREATE TABLE IF NOT EXISTS wallet_sync_state (
		network TEXT PRIMARY KEY,
		last_external_index INTEGER DEFAULT 0,
		last_change_index INTEGER DEFAULT 0,
		gap_limit INTEGER DEFAULT 20,
		last_sync_at INTEGER,
		last_block_height INTEGER
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SetSetting stores a key/value setting.
func (s *Storage) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	return err
}

// GetSetting returns a setting, or "" if it is not set.
func (s *Storage) GetSetting(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value sql.NullString
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value.String, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
