// Package backend provides the chain collaborators of the wallet engine:
// UTXO lookup, block height, fee estimates, price quotes and broadcast.
// It never sees private keys; all signing happens in the wallet package.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paybyt/paybyt-wallet/internal/chain"
	"github.com/paybyt/paybyt-wallet/pkg/helpers"
	"github.com/shopspring/decimal"
)

// Common errors
var (
	ErrNotConnected       = errors.New("backend not connected")
	ErrTxNotFound         = errors.New("transaction not found")
	ErrAddressNotFound    = errors.New("address not found")
	ErrInvalidTx          = errors.New("invalid transaction")
	ErrBroadcastFailed    = errors.New("broadcast failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrPriceUnavailable   = errors.New("price unavailable")
	ErrUnsupportedBackend = errors.New("unsupported backend type")
)

// Type represents the backend type.
type Type string

const (
	TypeMempool Type = "mempool" // mempool.space API
	TypeEsplora Type = "esplora" // blockstream.info API
)

// UTXO represents an unspent transaction output as reported by the chain.
type UTXO struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Amount        uint64 `json:"value"`        // satoshis
	ScriptPubKey  string `json:"scriptpubkey"` // hex encoded, may be empty
	Confirmations int64  `json:"confirmations"`
	BlockHeight   int64  `json:"block_height,omitempty"`
}

// Transaction is the confirmation status of a broadcast transaction.
type Transaction struct {
	TxID          string `json:"txid"`
	Size          int64  `json:"size"`
	Fee           uint64 `json:"fee"`
	Confirmed     bool   `json:"confirmed"`
	BlockHash     string `json:"block_hash,omitempty"`
	BlockHeight   int64  `json:"block_height,omitempty"`
	Confirmations int64  `json:"confirmations"`
}

// AddressInfo contains address balance and transaction info.
type AddressInfo struct {
	Address        string `json:"address"`
	TxCount        int64  `json:"tx_count"`
	Balance        uint64 `json:"balance"`         // confirmed
	MempoolBalance int64  `json:"mempool_balance"` // unconfirmed delta
}

// FeeEstimate contains fee estimation for different confirmation targets.
type FeeEstimate struct {
	FastestFee  uint64 `json:"fastest_fee"`   // sat/vB for next block
	HalfHourFee uint64 `json:"half_hour_fee"` // sat/vB for ~30 min
	HourFee     uint64 `json:"hour_fee"`      // sat/vB for ~1 hour
	EconomyFee  uint64 `json:"economy_fee"`   // sat/vB for low priority
	MinimumFee  uint64 `json:"minimum_fee"`   // sat/vB minimum relay fee
}

// Price is a BTC quote in a fiat currency.
type Price struct {
	Currency string          `json:"currency"`
	PerBTC   decimal.Decimal `json:"per_btc"`
	Time     int64           `json:"time"`
}

// Backend defines the interface for blockchain data providers.
// All methods are read-only - no private keys are handled here.
type Backend interface {
	// Type returns the backend type (mempool, esplora)
	Type() Type

	// Connect establishes connection to the backend.
	Connect(ctx context.Context) error

	// Close closes the connection.
	Close() error

	// IsConnected returns true if connected.
	IsConnected() bool

	// Address operations
	GetAddressInfo(ctx context.Context, address string) (*AddressInfo, error)
	GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error)

	// Transaction operations
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error)

	// Block operations
	GetBlockHeight(ctx context.Context) (int64, error)

	// Fee estimation
	GetFeeEstimates(ctx context.Context) (*FeeEstimate, error)

	// Price of one BTC in the given currency (ISO code, e.g. "USD")
	GetPrice(ctx context.Context, currency string) (*Price, error)
}

// Config contains backend configuration.
type Config struct {
	Type       Type   `yaml:"type"`
	MainnetURL string `yaml:"mainnet"`
	TestnetURL string `yaml:"testnet"`

	// Optional settings
	Timeout int `yaml:"timeout,omitempty"` // seconds, default 30
}

// DefaultConfig returns the default backend configuration.
func DefaultConfig() *Config {
	return &Config{
		Type:       TypeMempool,
		MainnetURL: "https://mempool.space/api",
		TestnetURL: "https://mempool.space/testnet/api",
		Timeout:    30,
	}
}

// URL returns the endpoint for a network.
func (c *Config) URL(network chain.Network) string {
	if network == chain.Mainnet {
		return c.MainnetURL
	}
	return c.TestnetURL
}

// New creates the backend described by cfg for a network.
func New(cfg *Config, network chain.Network) (Backend, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	url := cfg.URL(network)
	if url == "" {
		return nil, fmt.Errorf("no %s endpoint configured", network)
	}

	timeout := time.Duration(cfg.Timeout) * time.Second

	switch cfg.Type {
	case TypeMempool, "":
		return newMempoolBackend(url, timeout), nil
	case TypeEsplora:
		return newEsploraBackend(url, timeout), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Type)
	}
}

// ValidateRawTxHex checks that a raw transaction is lowercase hex of even
// length. Anything else is rejected before it reaches the network.
func ValidateRawTxHex(rawTxHex string) error {
	if !helpers.IsLowerHex(rawTxHex) {
		return fmt.Errorf("%w: raw transaction must be lowercase hex of even length", ErrInvalidTx)
	}
	return nil
}
