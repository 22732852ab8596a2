package backend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MempoolBackend reads chain state from a mempool.space compatible API,
// public or self-hosted.
type MempoolBackend struct {
	*restClient

	mu        sync.RWMutex
	connected bool
}

// NewMempoolBackend creates a backend for baseURL, e.g.
// https://mempool.space/testnet/api.
func NewMempoolBackend(baseURL string) *MempoolBackend {
	return newMempoolBackend(baseURL, defaultTimeout)
}

func newMempoolBackend(baseURL string, timeout time.Duration) *MempoolBackend {
	return &MempoolBackend{restClient: newRESTClient(baseURL, timeout)}
}

// Type returns TypeMempool.
func (m *MempoolBackend) Type() Type {
	return TypeMempool
}

// Connect probes the tip height endpoint.
func (m *MempoolBackend) Connect(ctx context.Context) error {
	if _, err := m.GetBlockHeight(ctx); err != nil {
		if errors.Is(err, ErrNotConnected) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

// Close marks the backend disconnected. Idle HTTP connections are released.
func (m *MempoolBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.httpClient.CloseIdleConnections()
	return nil
}

// IsConnected reports whether Connect succeeded since the last Close.
func (m *MempoolBackend) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

type addressStats struct {
	FundedTxoSum uint64 `json:"funded_txo_sum"`
	SpentTxoSum  uint64 `json:"spent_txo_sum"`
	TxCount      int64  `json:"tx_count"`
}

// GetAddressInfo returns the confirmed balance and mempool delta of address.
func (m *MempoolBackend) GetAddressInfo(ctx context.Context, address string) (*AddressInfo, error) {
	var resp struct {
		Address      string       `json:"address"`
		ChainStats   addressStats `json:"chain_stats"`
		MempoolStats addressStats `json:"mempool_stats"`
	}
	if err := m.getJSON(ctx, "/address/"+address, &resp); err != nil {
		return nil, addressErr(err)
	}

	chain, pool := resp.ChainStats, resp.MempoolStats
	return &AddressInfo{
		Address:        resp.Address,
		TxCount:        chain.TxCount + pool.TxCount,
		Balance:        chain.FundedTxoSum - chain.SpentTxoSum,
		MempoolBalance: int64(pool.FundedTxoSum) - int64(pool.SpentTxoSum),
	}, nil
}

type txStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int64  `json:"block_height"`
	BlockHash   string `json:"block_hash"`
}

// GetAddressUTXOs returns the unspent outputs paying address with their
// confirmation depth against the current tip.
func (m *MempoolBackend) GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var resp []struct {
		TxID   string   `json:"txid"`
		Vout   uint32   `json:"vout"`
		Value  uint64   `json:"value"`
		Status txStatus `json:"status"`
	}
	if err := m.getJSON(ctx, "/address/"+address+"/utxo", &resp); err != nil {
		return nil, addressErr(err)
	}

	// Without a tip every confirmed output counts once.
	tip, _ := m.GetBlockHeight(ctx)

	utxos := make([]UTXO, 0, len(resp))
	for _, u := range resp {
		utxos = append(utxos, UTXO{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Amount:        u.Value,
			Confirmations: confirmations(u.Status.Confirmed, u.Status.BlockHeight, tip),
			BlockHeight:   u.Status.BlockHeight,
		})
	}
	return utxos, nil
}

// GetTransaction returns the confirmation status of txID.
func (m *MempoolBackend) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	var resp struct {
		TxID   string   `json:"txid"`
		Size   int64    `json:"size"`
		Fee    uint64   `json:"fee"`
		Status txStatus `json:"status"`
	}
	if err := m.getJSON(ctx, "/tx/"+txID, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTxNotFound, txID)
		}
		return nil, err
	}

	tx := &Transaction{
		TxID:        resp.TxID,
		Size:        resp.Size,
		Fee:         resp.Fee,
		Confirmed:   resp.Status.Confirmed,
		BlockHash:   resp.Status.BlockHash,
		BlockHeight: resp.Status.BlockHeight,
	}
	if tx.Confirmed {
		if tip, err := m.GetBlockHeight(ctx); err == nil {
			tx.Confirmations = confirmations(true, tx.BlockHeight, tip)
		}
	}
	return tx, nil
}

// BroadcastTransaction submits lowercase raw transaction hex and returns
// the txid reported by the node.
func (m *MempoolBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	if err := ValidateRawTxHex(rawTxHex); err != nil {
		return "", err
	}

	txid, err := m.postText(ctx, "/tx", rawTxHex)
	if err != nil {
		var status *StatusError
		if errors.As(err, &status) {
			return "", fmt.Errorf("%w: %s", ErrBroadcastFailed, status.Body)
		}
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	return txid, nil
}

// GetBlockHeight returns the chain tip height.
func (m *MempoolBackend) GetBlockHeight(ctx context.Context) (int64, error) {
	body, err := m.getText(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid tip height %q: %w", body, err)
	}
	return height, nil
}

// GetFeeEstimates returns the recommended sat/vB rates.
func (m *MempoolBackend) GetFeeEstimates(ctx context.Context) (*FeeEstimate, error) {
	var resp struct {
		FastestFee  float64 `json:"fastestFee"`
		HalfHourFee float64 `json:"halfHourFee"`
		HourFee     float64 `json:"hourFee"`
		EconomyFee  float64 `json:"economyFee"`
		MinimumFee  float64 `json:"minimumFee"`
	}
	if err := m.getJSON(ctx, "/v1/fees/recommended", &resp); err != nil {
		return nil, err
	}

	return &FeeEstimate{
		FastestFee:  uint64(resp.FastestFee),
		HalfHourFee: uint64(resp.HalfHourFee),
		HourFee:     uint64(resp.HourFee),
		EconomyFee:  uint64(resp.EconomyFee),
		MinimumFee:  uint64(resp.MinimumFee),
	}, nil
}

// GetPrice returns the price of one BTC in currency.
func (m *MempoolBackend) GetPrice(ctx context.Context, currency string) (*Price, error) {
	var quotes map[string]decimal.Decimal
	if err := m.getJSON(ctx, "/v1/prices", &quotes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	currency = strings.ToUpper(currency)
	perBTC, ok := quotes[currency]
	if !ok || !perBTC.IsPositive() {
		return nil, fmt.Errorf("%w: no %s quote", ErrPriceUnavailable, currency)
	}

	return &Price{
		Currency: currency,
		PerBTC:   perBTC,
		Time:     quotes["time"].IntPart(),
	}, nil
}

func addressErr(err error) error {
	if errors.Is(err, errNotFound) {
		return fmt.Errorf("%w: %v", ErrAddressNotFound, err)
	}
	return err
}

// confirmations returns tip - height + 1 for a mined output. An unknown or
// lagging tip yields 1.
func confirmations(confirmed bool, blockHeight, tip int64) int64 {
	if !confirmed || blockHeight <= 0 {
		return 0
	}
	if tip < blockHeight {
		return 1
	}
	return tip - blockHeight + 1
}

var _ Backend = (*MempoolBackend)(nil)
