package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUTXOUnavailable is returned when a requested outpoint is unknown,
// unconfirmed, already reserved or spent.
var ErrUTXOUnavailable = errors.New("utxo unavailable")

// ErrReservationNotFound is returned when no UTXO carries a reservation ID.
var ErrReservationNotFound = errors.New("reservation not found")

// NewReservationID returns a fresh reservation identifier.
func NewReservationID() string {
	return uuid.NewString()
}

// ReserveUTXOs reserves every outpoint under reservationID in a single
// transaction. Either all outpoints are reserved or none is.
func (s *Storage) ReserveUTXOs(reservationID string, outpoints []Outpoint) error {
	if reservationID == "" {
		return fmt.Errorf("reservation id required")
	}
	if len(outpoints) == 0 {
		return fmt.Errorf("no outpoints to reserve")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	query := `
		UPDATE wallet_utxos
		SET status = ?, reservation_id = ?, reserved_at = ?, updated_at = ?
		WHERE txid = ? AND vout = ? AND status = ?
	`

	for _, op := range outpoints {
		result, err := tx.Exec(query,
			UTXOStatusReserved, reservationID, now, now,
			op.TxID, op.Vout, UTXOStatusConfirmed,
		)
		if err != nil {
			return fmt.Errorf("failed to reserve %s: %w", op, err)
		}
		if rows, _ := result.RowsAffected(); rows != 1 {
			return fmt.Errorf("%w: %s", ErrUTXOUnavailable, op)
		}
	}

	return tx.Commit()
}

// GetReservedUTXOs returns the UTXOs held by a reservation.
func (s *Storage) GetReservedUTXOs(reservationID string) ([]*WalletUTXO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + walletUTXOColumns + `
		FROM wallet_utxos
		WHERE reservation_id = ? AND status = ?
		ORDER BY amount DESC
	`

	return s.queryWalletUTXOs(query, reservationID, UTXOStatusReserved)
}

// ReleaseReservation returns the UTXOs of a reservation to the spendable
// set. Returns the number of released outpoints.
func (s *Storage) ReleaseReservation(reservationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE wallet_utxos
		SET status = ?, reservation_id = NULL, reserved_at = NULL, updated_at = ?
		WHERE reservation_id = ? AND status = ?
	`

	result, err := s.db.Exec(query, UTXOStatusConfirmed, time.Now().Unix(), reservationID, UTXOStatusReserved)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// MarkReservationSpent marks the UTXOs of a reservation as spent by txid.
// Call it only after the spending transaction was accepted for broadcast.
func (s *Storage) MarkReservationSpent(reservationID, spendTxID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	query := `
		UPDATE wallet_utxos
		SET status = ?, spent_txid = ?, spent_at = ?, updated_at = ?
		WHERE reservation_id = ? AND status = ?
	`

	result, err := s.db.Exec(query, UTXOStatusSpent, spendTxID, now, now, reservationID, UTXOStatusReserved)
	if err != nil {
		return 0, err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return 0, fmt.Errorf("%w: %s", ErrReservationNotFound, reservationID)
	}
	return rows, nil
}

// ExpireReservations releases reservations older than olderThan, except
// those listed in keep, and returns their IDs.
func (s *Storage) ExpireReservations(olderThan time.Duration, keep ...string) ([]string, error) {
	skip := make(map[string]bool, len(keep))
	for _, id := range keep {
		skip[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).Unix()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT DISTINCT reservation_id FROM wallet_utxos
		WHERE status = ? AND reserved_at < ?
	`, UTXOStatusReserved, cutoff)
	if err != nil {
		return nil, err
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		if skip[id] {
			continue
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := tx.Exec(`
			UPDATE wallet_utxos
			SET status = ?, reservation_id = NULL, reserved_at = NULL, updated_at = ?
			WHERE reservation_id = ? AND status = ?
		`, UTXOStatusConfirmed, time.Now().Unix(), id, UTXOStatusReserved); err != nil {
			return nil, err
		}
	}

	return ids, tx.Commit()
}
