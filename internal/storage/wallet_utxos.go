package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// =============================================================================
// Wallet Address Types and Operations
// =============================================================================

// WalletAddress represents a derived wallet address with its derivation path.
type WalletAddress struct {
	Address      string `json:"address"`
	Network      string `json:"network"`
	Account      uint32 `json:"account"`
	Change       uint32 `json:"change"` // 0=external, 1=change
	AddressIndex uint32 `json:"address_index"`
	ScriptType   string `json:"script_type"`

	TxCount int64 `json:"tx_count"`

	CreatedAt  int64 `json:"created_at"`
	LastSeenAt int64 `json:"last_seen_at,omitempty"`
}

// SaveWalletAddress saves or updates a wallet address.
func (s *Storage) SaveWalletAddress(addr *WalletAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr.CreatedAt == 0 {
		addr.CreatedAt = time.Now().Unix()
	}

	query := `
		INSERT INTO wallet_addresses (
			address, network, account, change, address_index, script_type,
			tx_count, created_at, last_seen_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			tx_count = excluded.tx_count,
			last_seen_at = excluded.last_seen_at
	`

	_, err := s.db.Exec(query,
		addr.Address, addr.Network, addr.Account, addr.Change, addr.AddressIndex, addr.ScriptType,
		addr.TxCount, addr.CreatedAt, addr.LastSeenAt,
	)
	return err
}

// GetWalletAddress retrieves a wallet address by its encoded form.
// Returns nil, nil if the address is unknown.
func (s *Storage) GetWalletAddress(address string) (*WalletAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT address, network, account, change, address_index, script_type,
			   tx_count, created_at, last_seen_at
		FROM wallet_addresses WHERE address = ?
	`

	var addr WalletAddress
	var lastSeen sql.NullInt64

	err := s.db.QueryRow(query, address).Scan(
		&addr.Address, &addr.Network, &addr.Account, &addr.Change, &addr.AddressIndex, &addr.ScriptType,
		&addr.TxCount, &addr.CreatedAt, &lastSeen,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	addr.LastSeenAt = lastSeen.Int64

	return &addr, nil
}

// ListWalletAddresses returns all addresses for a network.
func (s *Storage) ListWalletAddresses(network string) ([]*WalletAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT address, network, account, change, address_index, script_type,
			   tx_count, created_at, last_seen_at
		FROM wallet_addresses
		WHERE network = ?
		ORDER BY account, change, address_index
	`

	rows, err := s.db.Query(query, network)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addresses []*WalletAddress
	for rows.Next() {
		var addr WalletAddress
		var lastSeen sql.NullInt64

		if err := rows.Scan(
			&addr.Address, &addr.Network, &addr.Account, &addr.Change, &addr.AddressIndex, &addr.ScriptType,
			&addr.TxCount, &addr.CreatedAt, &lastSeen,
		); err != nil {
			return nil, err
		}
		addr.LastSeenAt = lastSeen.Int64

		addresses = append(addresses, &addr)
	}

	return addresses, rows.Err()
}

// GetNextAddressIndex returns the highest stored index + 1, or 0 if no
// address exists yet on that branch.
func (s *Storage) GetNextAddressIndex(network string, account, change uint32) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT COALESCE(MAX(address_index), -1)
		FROM wallet_addresses
		WHERE network = ? AND account = ? AND change = ?
	`

	var maxIndex int64
	if err := s.db.QueryRow(query, network, account, change).Scan(&maxIndex); err != nil {
		return 0, err
	}
	return uint32(maxIndex + 1), nil
}

// =============================================================================
// Wallet UTXO Types and Operations
// =============================================================================

// UTXOStatus represents the status of a UTXO.
type UTXOStatus string

const (
	UTXOStatusUnconfirmed UTXOStatus = "unconfirmed"
	UTXOStatusConfirmed   UTXOStatus = "confirmed"
	UTXOStatusReserved    UTXOStatus = "reserved"
	UTXOStatusSpent       UTXOStatus = "spent"
)

// Outpoint identifies a transaction output.
type Outpoint struct {
	TxID string `json:"txid"`
	Vout uint32 `json:"vout"`
}

// String returns txid:vout.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Vout)
}

// WalletUTXO represents a UTXO with its derivation path for signing.
type WalletUTXO struct {
	TxID string `json:"txid"`
	Vout uint32 `json:"vout"`

	// Satoshis
	Amount uint64 `json:"amount"`

	Address    string `json:"address"`
	Network    string `json:"network"`
	ScriptType string `json:"script_type"`

	// Derivation path (for key derivation during signing)
	Account      uint32 `json:"account"`
	Change       uint32 `json:"change"`
	AddressIndex uint32 `json:"address_index"`

	ScriptPubKey string `json:"script_pubkey,omitempty"`

	Status        UTXOStatus `json:"status"`
	BlockHeight   int64      `json:"block_height,omitempty"`
	Confirmations int64      `json:"confirmations"`

	ReservationID string `json:"reservation_id,omitempty"`
	ReservedAt    int64  `json:"reserved_at,omitempty"`

	SpentTxID string `json:"spent_txid,omitempty"`
	SpentAt   int64  `json:"spent_at,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Outpoint returns the UTXO's outpoint.
func (u *WalletUTXO) Outpoint() Outpoint {
	return Outpoint{TxID: u.TxID, Vout: u.Vout}
}

const walletUTXOColumns = `
	txid, vout, amount, address, network,
	account, change, address_index,
	script_pubkey, script_type, status,
	block_height, confirmations,
	reservation_id, reserved_at,
	spent_txid, spent_at,
	created_at, updated_at
`

// SaveWalletUTXO inserts a UTXO or refreshes its confirmation data. A
// reserved or spent UTXO keeps its status.
func (s *Storage) SaveWalletUTXO(utxo *WalletUTXO) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	if utxo.CreatedAt == 0 {
		utxo.CreatedAt = now
	}
	utxo.UpdatedAt = now

	query := `
		INSERT INTO wallet_utxos (` + walletUTXOColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, NULL, ?, ?)
		ON CONFLICT(txid, vout) DO UPDATE SET
			status = CASE WHEN wallet_utxos.status IN (?, ?) THEN wallet_utxos.status ELSE excluded.status END,
			block_height = excluded.block_height,
			confirmations = excluded.confirmations,
			script_pubkey = COALESCE(excluded.script_pubkey, wallet_utxos.script_pubkey),
			updated_at = excluded.updated_at
	`

	_, err := s.db.Exec(query,
		utxo.TxID, utxo.Vout, utxo.Amount, utxo.Address, utxo.Network,
		utxo.Account, utxo.Change, utxo.AddressIndex,
		nullString(utxo.ScriptPubKey), utxo.ScriptType, utxo.Status,
		utxo.BlockHeight, utxo.Confirmations,
		utxo.CreatedAt, utxo.UpdatedAt,
		UTXOStatusReserved, UTXOStatusSpent,
	)
	return err
}

// GetWalletUTXO retrieves a specific UTXO by txid and vout.
// Returns nil, nil if it is unknown.
func (s *Storage) GetWalletUTXO(txid string, vout uint32) (*WalletUTXO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + walletUTXOColumns + ` FROM wallet_utxos WHERE txid = ? AND vout = ?`

	utxos, err := s.queryWalletUTXOs(query, txid, vout)
	if err != nil || len(utxos) == 0 {
		return nil, err
	}
	return utxos[0], nil
}

// GetSpendableUTXOs returns confirmed, unreserved UTXOs with at least
// minConfirmations, largest first.
func (s *Storage) GetSpendableUTXOs(network string, minConfirmations int64) ([]*WalletUTXO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + walletUTXOColumns + `
		FROM wallet_utxos
		WHERE network = ? AND status = ? AND confirmations >= ?
		ORDER BY amount DESC
	`

	return s.queryWalletUTXOs(query, network, UTXOStatusConfirmed, minConfirmations)
}

// GetAllUTXOs returns every unspent UTXO of a network, including
// unconfirmed and reserved ones.
func (s *Storage) GetAllUTXOs(network string) ([]*WalletUTXO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + walletUTXOColumns + `
		FROM wallet_utxos
		WHERE network = ? AND status IN (?, ?, ?)
		ORDER BY amount DESC
	`

	return s.queryWalletUTXOs(query, network, UTXOStatusConfirmed, UTXOStatusUnconfirmed, UTXOStatusReserved)
}

// PruneAddressUTXOs deletes unreserved UTXOs of an address that are not in
// keep, i.e. outputs the chain no longer reports as unspent.
func (s *Storage) PruneAddressUTXOs(address string, keep []Outpoint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT txid, vout FROM wallet_utxos WHERE address = ? AND status IN (?, ?)`,
		address, UTXOStatusConfirmed, UTXOStatusUnconfirmed)
	if err != nil {
		return 0, err
	}

	kept := make(map[Outpoint]bool, len(keep))
	for _, op := range keep {
		kept[op] = true
	}

	var stale []Outpoint
	for rows.Next() {
		var op Outpoint
		if err := rows.Scan(&op.TxID, &op.Vout); err != nil {
			rows.Close()
			return 0, err
		}
		if !kept[op] {
			stale = append(stale, op)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, op := range stale {
		if _, err := tx.Exec(`DELETE FROM wallet_utxos WHERE txid = ? AND vout = ?`, op.TxID, op.Vout); err != nil {
			return 0, err
		}
	}

	return int64(len(stale)), tx.Commit()
}

// DeleteSpentUTXOs removes all spent UTXOs older than the given duration.
func (s *Storage) DeleteSpentUTXOs(olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).Unix()

	result, err := s.db.Exec(`DELETE FROM wallet_utxos WHERE status = ? AND spent_at < ?`, UTXOStatusSpent, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// Balance is the wallet balance of a network grouped by UTXO status.
type Balance struct {
	Confirmed   uint64 `json:"confirmed"`
	Unconfirmed uint64 `json:"unconfirmed"`
	Reserved    uint64 `json:"reserved"`
}

// GetBalance returns balances grouped by status.
func (s *Storage) GetBalance(network string) (*Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT status, COALESCE(SUM(amount), 0)
		FROM wallet_utxos
		WHERE network = ?
		GROUP BY status
	`

	rows, err := s.db.Query(query, network)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balance Balance
	for rows.Next() {
		var status string
		var amount int64
		if err := rows.Scan(&status, &amount); err != nil {
			return nil, err
		}

		switch UTXOStatus(status) {
		case UTXOStatusConfirmed:
			balance.Confirmed = uint64(amount)
		case UTXOStatusUnconfirmed:
			balance.Unconfirmed = uint64(amount)
		case UTXOStatusReserved:
			balance.Reserved = uint64(amount)
		}
	}

	return &balance, rows.Err()
}

// =============================================================================
// Wallet Sync State Operations
// =============================================================================

// WalletSyncState represents the gap-limit scan state of a network.
type WalletSyncState struct {
	Network           string `json:"network"`
	LastExternalIndex uint32 `json:"last_external_index"`
	LastChangeIndex   uint32 `json:"last_change_index"`
	GapLimit          uint32 `json:"gap_limit"`
	LastSyncAt        int64  `json:"last_sync_at,omitempty"`
	LastBlockHeight   int64  `json:"last_block_height,omitempty"`
}

// SaveWalletSyncState saves or updates sync state for a network.
func (s *Storage) SaveWalletSyncState(state *WalletSyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO wallet_sync_state (
			network, last_external_index, last_change_index, gap_limit,
			last_sync_at, last_block_height
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(network) DO UPDATE SET
			last_external_index = excluded.last_external_index,
			last_change_index = excluded.last_change_index,
			gap_limit = excluded.gap_limit,
			last_sync_at = excluded.last_sync_at,
			last_block_height = excluded.last_block_height
	`

	_, err := s.db.Exec(query,
		state.Network, state.LastExternalIndex, state.LastChangeIndex, state.GapLimit,
		state.LastSyncAt, state.LastBlockHeight,
	)
	return err
}

// GetWalletSyncState retrieves sync state for a network, or a default
// state with a gap limit of 20 if none was saved.
func (s *Storage) GetWalletSyncState(network string) (*WalletSyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT network, last_external_index, last_change_index, gap_limit,
			   last_sync_at, last_block_height
		FROM wallet_sync_state WHERE network = ?
	`

	var state WalletSyncState
	var lastSync, lastBlock sql.NullInt64

	err := s.db.QueryRow(query, network).Scan(
		&state.Network, &state.LastExternalIndex, &state.LastChangeIndex, &state.GapLimit,
		&lastSync, &lastBlock,
	)
	if err == sql.ErrNoRows {
		return &WalletSyncState{Network: network, GapLimit: 20}, nil
	}
	if err != nil {
		return nil, err
	}
	state.LastSyncAt = lastSync.Int64
	state.LastBlockHeight = lastBlock.Int64

	return &state, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

func (s *Storage) queryWalletUTXOs(query string, args ...interface{}) ([]*WalletUTXO, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var utxos []*WalletUTXO
	for rows.Next() {
		var utxo WalletUTXO
		var scriptPubKey, reservationID, spentTxID sql.NullString
		var blockHeight, reservedAt, spentAt sql.NullInt64

		err := rows.Scan(
			&utxo.TxID, &utxo.Vout, &utxo.Amount, &utxo.Address, &utxo.Network,
			&utxo.Account, &utxo.Change, &utxo.AddressIndex,
			&scriptPubKey, &utxo.ScriptType, &utxo.Status,
			&blockHeight, &utxo.Confirmations,
			&reservationID, &reservedAt,
			&spentTxID, &spentAt,
			&utxo.CreatedAt, &utxo.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		utxo.ScriptPubKey = scriptPubKey.String
		utxo.BlockHeight = blockHeight.Int64
		utxo.ReservationID = reservationID.String
		utxo.ReservedAt = reservedAt.Int64
		utxo.SpentTxID = spentTxID.String
		utxo.SpentAt = spentAt.Int64

		utxos = append(utxos, &utxo)
	}

	return utxos, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
