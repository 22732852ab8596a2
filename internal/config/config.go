// Package config holds the daemon configuration for the paybyt wallet.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paybyt/paybyt-wallet/internal/backend"
	"github.com/paybyt/paybyt-wallet/internal/chain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// Fee rate bounds accepted by the transaction builder, in sat/byte.
const (
	MinFeeRate = 1
	MaxFeeRate = 100
)

// Config holds all configuration for the wallet daemon.
type Config struct {
	// NetworkType is the network the wallet operates on (mainnet or testnet).
	NetworkType chain.Network `yaml:"network_type"`

	Storage StorageConfig   `yaml:"storage"`
	Logging LoggingConfig   `yaml:"logging"`
	RPC     RPCConfig       `yaml:"rpc"`
	Backend *backend.Config `yaml:"backend"`
	Wallet  WalletConfig    `yaml:"wallet"`
}

// IsTestnet returns true if running on testnet.
func (c *Config) IsTestnet() bool {
	return c.NetworkType == chain.Testnet
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for the database, the vault and the config.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stderr).
	File string `yaml:"file"`
}

// RPCConfig holds JSON-RPC server settings.
type RPCConfig struct {
	// Listen is the host:port the HTTP and WebSocket endpoints bind to.
	Listen string `yaml:"listen"`
}

// WalletConfig holds spending policy.
type WalletConfig struct {
	// FeeRate is used when a request does not carry one (sat/byte).
	FeeRate uint64 `yaml:"fee_rate"`

	// MinConfirmations overrides the network default when positive.
	MinConfirmations int64 `yaml:"min_confirmations"`

	// ReserveChangeSlot counts a change output in the fee estimate up front.
	ReserveChangeSlot bool `yaml:"reserve_change_slot"`

	// GapLimit is the number of unused addresses scanned before a sync stops.
	GapLimit uint32 `yaml:"gap_limit"`

	FiatCurrency  string          `yaml:"fiat_currency"`
	MaxFiatAmount decimal.Decimal `yaml:"max_fiat_amount"`

	// ReservationTTL releases UTXOs of transactions never broadcast.
	ReservationTTL time.Duration `yaml:"reservation_ttl"`

	// SpentRetention is how long spent UTXOs stay in the database.
	SpentRetention time.Duration `yaml:"spent_retention"`

	// SyncInterval is the maintenance period. Zero disables background sync.
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NetworkType: chain.Testnet,
		Storage: StorageConfig{
			DataDir: "~/.paybyt",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		RPC: RPCConfig{
			Listen: "127.0.0.1:8332",
		},
		Backend: backend.DefaultConfig(),
		Wallet: WalletConfig{
			FeeRate:           10,
			ReserveChangeSlot: true,
			GapLimit:          20,
			FiatCurrency:      "USD",
			MaxFiatAmount:     decimal.NewFromInt(100000),
			ReservationTTL:    30 * time.Minute,
			SpentRetention:    7 * 24 * time.Hour,
			SyncInterval:      time.Minute,
		},
	}
}

// Validate checks the values a hand-edited file can get wrong.
func (c *Config) Validate() error {
	if _, ok := chain.Get(c.NetworkType); !ok {
		return fmt.Errorf("unknown network type %q", c.NetworkType)
	}
	if c.Wallet.FeeRate < MinFeeRate || c.Wallet.FeeRate > MaxFeeRate {
		return fmt.Errorf("wallet.fee_rate %d out of range [%d, %d]", c.Wallet.FeeRate, MinFeeRate, MaxFeeRate)
	}
	if c.Wallet.MinConfirmations < 0 {
		return fmt.Errorf("wallet.min_confirmations must not be negative")
	}
	if c.Wallet.GapLimit == 0 {
		return fmt.Errorf("wallet.gap_limit must be positive")
	}
	if c.Wallet.MaxFiatAmount.IsNegative() {
		return fmt.Errorf("wallet.max_fiat_amount must not be negative")
	}
	if c.RPC.Listen == "" {
		return fmt.Errorf("rpc.listen is required")
	}
	return nil
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	configPath := ConfigPath(dataDir)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}

		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Backend == nil {
		cfg.Backend = backend.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# paybyt wallet configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DataPath returns the expanded data directory.
func (c *Config) DataPath() string {
	return ExpandPath(c.Storage.DataDir)
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
