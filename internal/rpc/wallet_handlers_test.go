package rpc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/paybyt/paybyt-wallet/internal/chain"
	"github.com/paybyt/paybyt-wallet/internal/wallet"
)

func TestWalletHandlersNoWallet(t *testing.T) {
	s := &Server{handlers: make(map[string]Handler)}

	handlers := map[string]Handler{
		"wallet_status":        s.walletStatus,
		"wallet_create":        s.walletCreate,
		"wallet_unlock":        s.walletUnlock,
		"wallet_lock":          s.walletLock,
		"wallet_getAddress":    s.walletGetAddress,
		"wallet_listAddresses": s.walletListAddresses,
		"wallet_listUTXOs":     s.walletListUTXOs,
		"tx_prepare":           s.txPrepare,
		"tx_broadcast":         s.txBroadcast,
	}

	for name, h := range handlers {
		t.Run(name, func(t *testing.T) {
			if _, err := h(nil, json.RawMessage(`{}`)); !errors.Is(err, errNoWallet) {
				t.Errorf("error = %v, want %v", err, errNoWallet)
			}
		})
	}
}

func TestWalletGenerateAndValidate(t *testing.T) {
	env := newTestEnv(t)

	var gen WalletGenerateResult
	mustCall(t, env.handler, "wallet_generate", nil, &gen)
	if !wallet.ValidateMnemonic(gen.Mnemonic) {
		t.Fatalf("generated mnemonic is invalid: %q", gen.Mnemonic)
	}

	var valid struct {
		Valid bool `json:"valid"`
	}
	mustCall(t, env.handler, "wallet_validateMnemonic", WalletValidateMnemonicParams{Mnemonic: gen.Mnemonic}, &valid)
	if !valid.Valid {
		t.Error("generated mnemonic should validate")
	}

	mustCall(t, env.handler, "wallet_validateMnemonic", WalletValidateMnemonicParams{Mnemonic: "abandon abandon"}, &valid)
	if valid.Valid {
		t.Error("truncated mnemonic should not validate")
	}
}

func TestWalletLifecycle(t *testing.T) {
	env := newTestEnv(t)

	var status wallet.Status
	mustCall(t, env.handler, "wallet_status", nil, &status)
	if status.HasWallet || status.Unlocked {
		t.Fatalf("fresh status = %+v", status)
	}
	if status.Network != chain.Testnet {
		t.Errorf("Network = %s, want testnet", status.Network)
	}

	resp := call(t, env.handler, "wallet_create", WalletCreateParams{Mnemonic: testMnemonic, Password: "short"})
	if resp.Error == nil {
		t.Fatal("expected error for weak password")
	}

	resp = call(t, env.handler, "wallet_create", WalletCreateParams{Mnemonic: "not a mnemonic", Password: testPassword})
	if resp.Error == nil || resp.Error.Code != FatalError {
		t.Fatalf("invalid mnemonic error = %+v, want code %d", resp.Error, FatalError)
	}

	createWallet(t, env)
	mustCall(t, env.handler, "wallet_status", nil, &status)
	if !status.HasWallet || !status.Unlocked {
		t.Fatalf("status after create = %+v", status)
	}

	mustCall(t, env.handler, "wallet_lock", nil, nil)
	if resp := call(t, env.handler, "wallet_getAddress", nil); resp.Error == nil {
		t.Fatal("expected error while locked")
	}

	if resp := call(t, env.handler, "wallet_unlock", WalletUnlockParams{Password: "Wrong-Horse-9"}); resp.Error == nil {
		t.Fatal("expected error for wrong password")
	}
	mustCall(t, env.handler, "wallet_unlock", WalletUnlockParams{Password: testPassword}, nil)

	mustCall(t, env.handler, "wallet_status", nil, &status)
	if !status.Unlocked {
		t.Error("wallet should be unlocked")
	}
}

func TestWalletGetAddress(t *testing.T) {
	env := newTestEnv(t)
	createWallet(t, env)

	w, err := wallet.NewFromMnemonic(testMnemonic, "", chain.Testnet)
	if err != nil {
		t.Fatalf("NewFromMnemonic() error = %v", err)
	}
	want, _ := w.Address(0, 0, 0)

	var addr WalletGetAddressResult
	mustCall(t, env.handler, "wallet_getAddress", nil, &addr)
	if addr.Address != want.Encoded {
		t.Errorf("Address = %s, want %s", addr.Address, want.Encoded)
	}
	if addr.Path != "m/44'/1'/0'/0/0" {
		t.Errorf("Path = %s", addr.Path)
	}

	index := uint32(7)
	mustCall(t, env.handler, "wallet_getAddress", WalletGetAddressParams{Change: true, Index: &index}, &addr)
	if addr.Path != "m/44'/1'/0'/1/7" || !addr.Change || addr.Index != 7 {
		t.Errorf("change address = %+v", addr)
	}
	want, _ = w.Address(0, 1, 7)
	if addr.Address != want.Encoded {
		t.Errorf("Address = %s, want %s", addr.Address, want.Encoded)
	}

	mustCall(t, env.handler, "wallet_getAddress", WalletGetAddressParams{Path: "m/44h/1h/0h/1/7"}, &addr)
	if addr.Address != want.Encoded || addr.Path != "m/44'/1'/0'/1/7" {
		t.Errorf("address by path = %+v", addr)
	}
	resp := call(t, env.handler, "wallet_getAddress", WalletGetAddressParams{Path: "m/44'/0'/0'/0/0"})
	if resp.Error == nil || resp.Error.Code != InvalidParams {
		t.Errorf("mainnet path on testnet error = %+v, want code %d", resp.Error, InvalidParams)
	}

	tooLarge := uint32(1 << 31)
	resp = call(t, env.handler, "wallet_getAddress", WalletGetAddressParams{Index: &tooLarge})
	if resp.Error == nil || resp.Error.Code != FatalError {
		t.Errorf("hardened index error = %+v, want code %d", resp.Error, FatalError)
	}

	var list WalletListAddressesResult
	mustCall(t, env.handler, "wallet_listAddresses", nil, &list)
	if list.Count != len(list.Addresses) {
		t.Errorf("Count = %d, got %d addresses", list.Count, len(list.Addresses))
	}
	recorded := make(map[string]bool)
	for _, a := range list.Addresses {
		recorded[a.Address] = true
	}
	first, _ := w.Address(0, 0, 0)
	if !recorded[first.Encoded] || !recorded[want.Encoded] {
		t.Errorf("wallet_listAddresses() = %+v, missing derived addresses", list.Addresses)
	}
}

func TestWalletValidateAddress(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		address string
		valid   bool
		match   bool
	}{
		{"mainnet p2pkh", "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA", true, false},
		{"bad checksum", "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabB", false, false},
		{"garbage", "not-an-address", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res WalletValidateAddressResult
			mustCall(t, env.handler, "wallet_validateAddress", WalletValidateAddressParams{Address: tt.address}, &res)
			if res.Valid != tt.valid {
				t.Errorf("Valid = %v, want %v (%s)", res.Valid, tt.valid, res.Error)
			}
			if res.MatchNetwork != tt.match {
				t.Errorf("MatchNetwork = %v, want %v", res.MatchNetwork, tt.match)
			}
			if !tt.valid && res.Error == "" {
				t.Error("invalid address should carry an error")
			}
		})
	}

	var res WalletValidateAddressResult
	mustCall(t, env.handler, "wallet_validateAddress", WalletValidateAddressParams{Address: payeeAddress(t)}, &res)
	if !res.Valid || !res.MatchNetwork || res.Type != string(chain.ScriptP2PKH) {
		t.Errorf("testnet address result = %+v", res)
	}
}

func TestWalletBalanceAndUTXOs(t *testing.T) {
	env := newTestEnv(t)
	createWallet(t, env)
	fund(t, env, 0, testTxID(0x01), 150000)
	fund(t, env, 1, testTxID(0x02), 50000)

	var balance WalletGetBalanceResult
	mustCall(t, env.handler, "wallet_getBalance", nil, &balance)
	if balance.Balance == nil || balance.Confirmed != 200000 {
		t.Fatalf("balance = %+v", balance.Balance)
	}
	if balance.ConfirmedBTC != "0.00200000" {
		t.Errorf("ConfirmedBTC = %s", balance.ConfirmedBTC)
	}

	var utxos WalletListUTXOsResult
	mustCall(t, env.handler, "wallet_listUTXOs", nil, &utxos)
	if utxos.Count != 2 || utxos.Total != 200000 {
		t.Errorf("utxos = %d totalling %d", utxos.Count, utxos.Total)
	}
}

func TestWalletGetFeeEstimates(t *testing.T) {
	env := newTestEnv(t)

	var est WalletGetFeeEstimatesResult
	mustCall(t, env.handler, "wallet_getFeeEstimates", nil, &est)
	if est.Source != "backend" {
		t.Errorf("Source = %s, want backend", est.Source)
	}
	if est.FeeEstimate == nil || est.FastestFee != wallet.MaxFeeRate || est.MinimumFee != wallet.MinFeeRate {
		t.Errorf("estimates not clamped: %+v", est.FeeEstimate)
	}

	env.backend.feeErr = errors.New("unreachable")
	mustCall(t, env.handler, "wallet_getFeeEstimates", nil, &est)
	if est.Source != "config" || est.HalfHourFee != 10 {
		t.Errorf("fallback = %s %+v", est.Source, est.FeeEstimate)
	}
}
