package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paybyt/paybyt-wallet/internal/backend"
	"github.com/paybyt/paybyt-wallet/internal/storage"
	"github.com/paybyt/paybyt-wallet/internal/wallet"
	"github.com/paybyt/paybyt-wallet/pkg/helpers"
)

// errNoWallet is returned when the server runs without a wallet service.
var errNoWallet = fmt.Errorf("wallet service not initialized")

// ========================================
// Wallet handlers
// ========================================

func (s *Server) walletStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}
	return s.wallet.Status(), nil
}

// WalletGenerateResult is the response for wallet_generate.
type WalletGenerateResult struct {
	Mnemonic string `json:"mnemonic"`
}

func (s *Server) walletGenerate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		return nil, fmt.Errorf("failed to generate mnemonic: %w", err)
	}

	return &WalletGenerateResult{
		Mnemonic: mnemonic,
	}, nil
}

// WalletValidateMnemonicParams is the parameters for wallet_validateMnemonic.
type WalletValidateMnemonicParams struct {
	Mnemonic string `json:"mnemonic"`
}

func (s *Server) walletValidateMnemonic(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p WalletValidateMnemonicParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"valid": wallet.ValidateMnemonic(p.Mnemonic),
	}, nil
}

// WalletCreateParams is the parameters for wallet_create.
type WalletCreateParams struct {
	Mnemonic   string `json:"mnemonic"`
	Passphrase string `json:"passphrase"` // BIP39 passphrase (optional)
	Password   string `json:"password"`   // Encryption password (required)
}

func (s *Server) walletCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}

	var p WalletCreateParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	if p.Mnemonic == "" {
		return nil, invalidParams("mnemonic is required")
	}
	if p.Password == "" {
		return nil, invalidParams("password is required")
	}

	if err := s.wallet.CreateWallet(p.Mnemonic, p.Passphrase, p.Password); err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	return map[string]interface{}{
		"success": true,
		"message": "Wallet created successfully",
	}, nil
}

// WalletUnlockParams is the parameters for wallet_unlock.
type WalletUnlockParams struct {
	Password string `json:"password"`
}

func (s *Server) walletUnlock(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}

	var p WalletUnlockParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	if p.Password == "" {
		return nil, invalidParams("password is required")
	}

	if err := s.wallet.UnlockWallet(p.Password); err != nil {
		return nil, fmt.Errorf("failed to unlock wallet: %w", err)
	}

	return map[string]interface{}{
		"success": true,
		"message": "Wallet unlocked successfully",
	}, nil
}

func (s *Server) walletLock(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}

	s.wallet.Lock()

	return map[string]interface{}{
		"success": true,
		"message": "Wallet locked successfully",
	}, nil
}

// WalletGetAddressParams is the parameters for wallet_getAddress.
type WalletGetAddressParams struct {
	Change bool    `json:"change,omitempty"` // internal branch
	Index  *uint32 `json:"index,omitempty"`  // next unused index if omitted
	Path   string  `json:"path,omitempty"`   // overrides change and index
}

// WalletGetAddressResult is the response for wallet_getAddress.
type WalletGetAddressResult struct {
	Address string `json:"address"`
	Path    string `json:"path"`
	Index   uint32 `json:"index"`
	Change  bool   `json:"change"`
	Network string `json:"network"`
}

func (s *Server) walletGetAddress(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}

	var p WalletGetAddressParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Path != "" {
		change, index, err := wallet.AccountAddressPath(s.wallet.Network(), p.Path)
		if err != nil {
			return nil, invalidParams("%v", err)
		}
		p.Change = change == 1
		p.Index = &index
	}

	var change uint32
	if p.Change {
		change = 1
	}

	var (
		addr  *wallet.Address
		index uint32
		err   error
	)
	if p.Index != nil {
		index = *p.Index
		addr, err = s.wallet.GetAddress(change, index)
	} else {
		addr, index, err = s.wallet.NextAddress(change)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get address: %w", err)
	}

	path, err := wallet.BIP44Path(s.wallet.Network(), 0, change, index)
	if err != nil {
		return nil, err
	}

	return &WalletGetAddressResult{
		Address: addr.String(),
		Path:    path.String(),
		Index:   index,
		Change:  p.Change,
		Network: string(addr.Network),
	}, nil
}

// WalletListAddressesResult is the response for wallet_listAddresses.
type WalletListAddressesResult struct {
	Addresses []*storage.WalletAddress `json:"addresses"`
	Count     int                      `json:"count"`
}

func (s *Server) walletListAddresses(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}

	addrs, err := s.wallet.ListAddresses()
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	if addrs == nil {
		addrs = []*storage.WalletAddress{}
	}
	return &WalletListAddressesResult{Addresses: addrs, Count: len(addrs)}, nil
}

// WalletValidateAddressParams is the parameters for wallet_validateAddress.
type WalletValidateAddressParams struct {
	Address string `json:"address"`
}

// WalletValidateAddressResult is the response for wallet_validateAddress.
type WalletValidateAddressResult struct {
	Valid        bool   `json:"valid"`
	Address      string `json:"address"`
	Type         string `json:"type,omitempty"`
	Network      string `json:"network,omitempty"`
	MatchNetwork bool   `json:"match_network"`
	Error        string `json:"error,omitempty"`
}

func (s *Server) walletValidateAddress(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p WalletValidateAddressParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Address == "" {
		return nil, invalidParams("address is required")
	}

	result := &WalletValidateAddressResult{Address: p.Address}
	addr, err := wallet.DecodeAddress(p.Address)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	result.Valid = true
	result.Type = string(addr.Type)
	result.Network = string(addr.Network)
	if s.wallet != nil {
		result.MatchNetwork = addr.Network == s.wallet.Network()
	}
	return result, nil
}

func (s *Server) walletSyncUTXOs(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}

	result, err := s.wallet.SyncUTXOs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sync utxos: %w", err)
	}
	return result, nil
}

// WalletListUTXOsParams is the parameters for wallet_listUTXOs.
type WalletListUTXOsParams struct {
	All bool `json:"all,omitempty"` // include unconfirmed, reserved and spent
}

// WalletListUTXOsResult is the response for wallet_listUTXOs.
type WalletListUTXOsResult struct {
	UTXOs []*storage.WalletUTXO `json:"utxos"`
	Count int                   `json:"count"`
	Total uint64                `json:"total"`
}

func (s *Server) walletListUTXOs(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}

	var p WalletListUTXOsParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	utxos, err := s.wallet.ListUTXOs(p.All)
	if err != nil {
		return nil, fmt.Errorf("failed to list utxos: %w", err)
	}
	if utxos == nil {
		utxos = []*storage.WalletUTXO{}
	}

	var total uint64
	for _, u := range utxos {
		total += u.Amount
	}

	return &WalletListUTXOsResult{
		UTXOs: utxos,
		Count: len(utxos),
		Total: total,
	}, nil
}

// WalletGetBalanceResult is the response for wallet_getBalance.
type WalletGetBalanceResult struct {
	*storage.Balance
	ConfirmedBTC string `json:"confirmed_btc"`
}

func (s *Server) walletGetBalance(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}

	balance, err := s.wallet.GetBalance()
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	return &WalletGetBalanceResult{
		Balance:      balance,
		ConfirmedBTC: helpers.FormatBTC(balance.Confirmed),
	}, nil
}

// WalletGetFeeEstimatesResult is the response for wallet_getFeeEstimates.
type WalletGetFeeEstimatesResult struct {
	*backend.FeeEstimate
	Source string `json:"source"` // backend or config
}

func (s *Server) walletGetFeeEstimates(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}

	estimates, err := s.wallet.GetFeeEstimates(ctx)
	if err != nil {
		s.log.Warn("Fee estimates unavailable, using configured rate", "error", err)
		return &WalletGetFeeEstimatesResult{FeeEstimate: s.feeEstimatesFallback(), Source: "config"}, nil
	}
	return &WalletGetFeeEstimatesResult{FeeEstimate: estimates, Source: "backend"}, nil
}

// feeEstimatesFallback is used when the backend is unreachable.
func (s *Server) feeEstimatesFallback() *backend.FeeEstimate {
	return &backend.FeeEstimate{
		FastestFee:  s.feeRate,
		HalfHourFee: s.feeRate,
		HourFee:     s.feeRate,
		EconomyFee:  s.feeRate,
		MinimumFee:  wallet.MinFeeRate,
	}
}
