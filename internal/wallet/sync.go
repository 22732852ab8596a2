package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/paybyt/paybyt-wallet/internal/backend"
	"github.com/paybyt/paybyt-wallet/internal/storage"
)

// SyncResult summarizes a UTXO scan.
type SyncResult struct {
	Network           string `json:"network"`
	ExternalAddresses uint32 `json:"externalAddresses"`
	ChangeAddresses   uint32 `json:"changeAddresses"`
	UTXOs             int    `json:"utxos"`
	BlockHeight       int64  `json:"blockHeight"`
}

// SyncUTXOs scans the receive and change branches up to the gap limit and
// refreshes the tracked UTXO set. Outputs the backend no longer reports
// are dropped unless they are reserved.
func (s *Service) SyncUTXOs(ctx context.Context) (*SyncResult, error) {
	w, err := s.loadedWallet()
	if err != nil {
		return nil, err
	}
	if s.backend == nil {
		return nil, backend.ErrNotConnected
	}
	if err := s.backend.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect backend: %w", err)
	}

	network := string(s.network)
	s.log.Info("starting UTXO sync", "network", network)

	height, err := s.backend.GetBlockHeight(ctx)
	if err != nil {
		s.log.Warn("failed to get block height", "error", err)
		height = 0
	}

	state, err := s.store.GetWalletSyncState(network)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	state.GapLimit = s.gapLimit

	result := &SyncResult{Network: network, BlockHeight: height}

	external, found, err := s.scanBranch(ctx, w, 0, state.GapLimit, height)
	if err != nil {
		return nil, fmt.Errorf("failed to scan external addresses: %w", err)
	}
	result.UTXOs += found
	result.ExternalAddresses = external + 1

	change, found, err := s.scanBranch(ctx, w, 1, state.GapLimit, height)
	if err != nil {
		return nil, fmt.Errorf("failed to scan change addresses: %w", err)
	}
	result.UTXOs += found
	result.ChangeAddresses = change + 1

	state.LastExternalIndex = external
	state.LastChangeIndex = change
	state.LastSyncAt = time.Now().Unix()
	state.LastBlockHeight = height
	if err := s.store.SaveWalletSyncState(state); err != nil {
		return nil, fmt.Errorf("failed to save sync state: %w", err)
	}

	s.log.Info("UTXO sync complete",
		"network", network,
		"external_addresses", result.ExternalAddresses,
		"change_addresses", result.ChangeAddresses,
		"utxos", result.UTXOs,
	)
	return result, nil
}

// scanBranch walks one branch until gapLimit consecutive addresses show no
// activity. It returns the highest used index and the number of UTXOs
// found.
func (s *Service) scanBranch(ctx context.Context, w *Wallet, change, gapLimit uint32, tip int64) (uint32, int, error) {
	var (
		lastUsed uint32
		empty    uint32
		found    int
	)

	for index := uint32(0); empty < gapLimit; index++ {
		if err := ctx.Err(); err != nil {
			return lastUsed, found, err
		}

		addr, err := s.recordAddress(w, change, index)
		if err != nil {
			return lastUsed, found, fmt.Errorf("failed to derive address at index %d: %w", index, err)
		}

		utxos, err := s.backend.GetAddressUTXOs(ctx, addr.Encoded)
		if err != nil {
			// A failing address counts as empty so the scan terminates
			s.log.Warn("failed to get UTXOs", "address", addr.Encoded, "error", err)
			empty++
			continue
		}

		active := len(utxos) > 0
		if !active {
			if info, err := s.backend.GetAddressInfo(ctx, addr.Encoded); err == nil && info != nil {
				active = info.TxCount > 0
			}
		}
		if !active {
			empty++
			if _, err := s.store.PruneAddressUTXOs(addr.Encoded, nil); err != nil {
				s.log.Warn("failed to prune UTXOs", "address", addr.Encoded, "error", err)
			}
			continue
		}

		lastUsed = index
		empty = 0

		if err := s.store.SaveWalletAddress(&storage.WalletAddress{
			Address:      addr.Encoded,
			Network:      string(s.network),
			Change:       change,
			AddressIndex: index,
			ScriptType:   string(addr.Type),
			TxCount:      int64(len(utxos)),
			LastSeenAt:   time.Now().Unix(),
		}); err != nil {
			s.log.Warn("failed to update address", "address", addr.Encoded, "error", err)
		}

		keep := make([]storage.Outpoint, 0, len(utxos))
		for _, u := range utxos {
			wu := &storage.WalletUTXO{
				TxID:          u.TxID,
				Vout:          u.Vout,
				Amount:        u.Amount,
				Address:       addr.Encoded,
				Network:       string(s.network),
				ScriptType:    string(addr.Type),
				Change:        change,
				AddressIndex:  index,
				ScriptPubKey:  u.ScriptPubKey,
				Status:        storage.UTXOStatusConfirmed,
				BlockHeight:   u.BlockHeight,
				Confirmations: u.Confirmations,
			}
			if u.Confirmations == 0 && u.BlockHeight > 0 && tip >= u.BlockHeight {
				wu.Confirmations = tip - u.BlockHeight + 1
			}
			if wu.Confirmations == 0 {
				wu.Status = storage.UTXOStatusUnconfirmed
			}

			if err := s.store.SaveWalletUTXO(wu); err != nil {
				s.log.Warn("failed to save UTXO", "txid", u.TxID, "vout", u.Vout, "error", err)
				continue
			}
			keep = append(keep, wu.Outpoint())
			found++
		}

		if _, err := s.store.PruneAddressUTXOs(addr.Encoded, keep); err != nil {
			s.log.Warn("failed to prune UTXOs", "address", addr.Encoded, "error", err)
		}

		s.log.Debug("found UTXOs", "address", addr.Encoded, "index", index, "change", change, "utxo_count", len(utxos))
	}

	return lastUsed, found, nil
}

// MaintenanceConfig controls RunMaintenance.
type MaintenanceConfig struct {
	Interval       time.Duration
	ReservationTTL time.Duration
	SpentRetention time.Duration
	SyncUTXOs      bool
}

// PruneSpent deletes spent UTXOs recorded more than retention ago.
func (s *Service) PruneSpent(retention time.Duration) (int64, error) {
	n, err := s.store.DeleteSpentUTXOs(retention)
	if err != nil {
		return 0, fmt.Errorf("failed to prune spent utxos: %w", err)
	}
	if n > 0 {
		s.log.Debug("pruned spent utxos", "count", n)
	}
	return n, nil
}

// RunMaintenance periodically expires stale reservations, prunes old spent
// UTXOs and, if enabled and the wallet is unlocked, resyncs UTXOs. It
// returns when ctx is done.
func (s *Service) RunMaintenance(ctx context.Context, cfg MaintenanceConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if cfg.ReservationTTL > 0 {
			if _, err := s.ExpireReservations(cfg.ReservationTTL); err != nil {
				s.log.Warn("failed to expire reservations", "error", err)
			}
		}

		if cfg.SpentRetention > 0 {
			if _, err := s.PruneSpent(cfg.SpentRetention); err != nil {
				s.log.Warn("prune failed", "error", err)
			}
		}

		if cfg.SyncUTXOs && s.IsUnlocked() {
			syncCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			if _, err := s.SyncUTXOs(syncCtx); err != nil {
				s.log.Warn("background sync failed", "error", err)
			}
			cancel()
		}
	}
}
