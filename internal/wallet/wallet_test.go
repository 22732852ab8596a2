package wallet

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/paybyt/paybyt-wallet/internal/chain"
)

// Test mnemonic (DO NOT USE FOR REAL FUNDS)
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// m/44'/0'/0'/0/0 of testMnemonic
const testMainnetAddress = "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA"

func newTestWallet(t *testing.T, network chain.Network) *Wallet {
	t.Helper()
	w, err := NewFromMnemonic(testMnemonic, "", network)
	if err != nil {
		t.Fatalf("NewFromMnemonic() error = %v", err)
	}
	return w
}

func TestGenerateMnemonic(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic() error = %v", err)
	}

	words := strings.Fields(mnemonic)
	if len(words) != 24 {
		t.Errorf("expected 24 words, got %d", len(words))
	}

	if !ValidateMnemonic(mnemonic) {
		t.Error("generated mnemonic should be valid")
	}
}

func TestValidateMnemonic(t *testing.T) {
	tests := []struct {
		mnemonic string
		valid    bool
	}{
		{testMnemonic, true},
		{"invalid mnemonic words", false},
		{"", false},
		{"abandon", false}, // Too short
	}

	for _, tc := range tests {
		result := ValidateMnemonic(tc.mnemonic)
		if result != tc.valid {
			t.Errorf("ValidateMnemonic(%q) = %v, want %v", tc.mnemonic, result, tc.valid)
		}
	}
}

func TestSeedFromMnemonicInvalid(t *testing.T) {
	_, err := SeedFromMnemonic("invalid mnemonic", "")
	if !errors.Is(err, ErrInvalidMnemonic) {
		t.Fatalf("SeedFromMnemonic() error = %v, want ErrInvalidMnemonic", err)
	}
	if !IsFatal(err) {
		t.Error("invalid mnemonic should be fatal")
	}
}

func TestAddressForIndexKnownVector(t *testing.T) {
	seed, err := SeedFromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error = %v", err)
	}
	root, err := RootKey(seed, chain.Mainnet)
	if err != nil {
		t.Fatalf("RootKey() error = %v", err)
	}

	addr, err := AddressForIndex(root, chain.Mainnet, 0)
	if err != nil {
		t.Fatalf("AddressForIndex() error = %v", err)
	}
	if addr.Encoded != testMainnetAddress {
		t.Errorf("AddressForIndex(0) = %s, want %s", addr.Encoded, testMainnetAddress)
	}
}

func TestDerivationIsDeterministic(t *testing.T) {
	for _, network := range []chain.Network{chain.Mainnet, chain.Testnet} {
		w1 := newTestWallet(t, network)
		w2 := newTestWallet(t, network)

		seed, _ := SeedFromMnemonic(testMnemonic, "")
		root, err := RootKey(seed, network)
		if err != nil {
			t.Fatalf("RootKey() error = %v", err)
		}

		for _, index := range []uint32{0, 1, 7, MaxChildIndex} {
			a1, err := w1.Address(0, 0, index)
			if err != nil {
				t.Fatalf("Address(%d) error = %v", index, err)
			}
			a2, _ := w2.Address(0, 0, index)
			a3, err := AddressForIndex(root, network, index)
			if err != nil {
				t.Fatalf("AddressForIndex(%d) error = %v", index, err)
			}
			if a1.Encoded != a2.Encoded || a1.Encoded != a3.Encoded {
				t.Errorf("%s index %d: %s, %s, %s differ", network, index, a1, a2, a3)
			}
		}
	}
}

func TestDerivationNetworkCorrectness(t *testing.T) {
	main := newTestWallet(t, chain.Mainnet)
	test := newTestWallet(t, chain.Testnet)

	mainAddr, _ := main.Address(0, 0, 0)
	testAddr, err := test.Address(0, 0, 0)
	if err != nil {
		t.Fatalf("Address() error = %v", err)
	}

	if !strings.HasPrefix(mainAddr.Encoded, "1") {
		t.Errorf("mainnet address %s should start with 1", mainAddr)
	}
	if !strings.HasPrefix(testAddr.Encoded, "m") && !strings.HasPrefix(testAddr.Encoded, "n") {
		t.Errorf("testnet address %s should start with m or n", testAddr)
	}
	// Coin types differ, so do the keys
	if bytes.Equal(mainAddr.Payload, testAddr.Payload) {
		t.Error("mainnet and testnet derive the same key")
	}

	for _, tc := range []struct {
		addr    *Address
		network chain.Network
	}{
		{mainAddr, chain.Mainnet},
		{testAddr, chain.Testnet},
	} {
		decoded, err := DecodeAddress(tc.addr.Encoded)
		if err != nil {
			t.Fatalf("DecodeAddress(%s) error = %v", tc.addr, err)
		}
		if decoded.Network != tc.network || decoded.Type != chain.ScriptP2PKH {
			t.Errorf("DecodeAddress(%s) = %s/%s", tc.addr, decoded.Network, decoded.Type)
		}
	}
}

func TestAddressForIndexErrors(t *testing.T) {
	seed, _ := SeedFromMnemonic(testMnemonic, "")
	root, _ := RootKey(seed, chain.Mainnet)

	_, err := AddressForIndex(root, chain.Mainnet, MaxChildIndex+1)
	if !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("index 2^31: error = %v, want ErrInvalidIndex", err)
	}
	if !errors.Is(err, ErrDerivation) {
		t.Errorf("ErrInvalidIndex should match ErrDerivation")
	}

	if _, err := AddressForIndex(root, chain.Testnet, 0); !errors.Is(err, ErrNetworkMismatch) {
		t.Errorf("testnet from mainnet root: error = %v, want ErrNetworkMismatch", err)
	}
}

func TestWalletInvalidIndex(t *testing.T) {
	w := newTestWallet(t, chain.Mainnet)
	if _, err := w.Address(0, 0, 1<<31); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("Address(2^31) error = %v, want ErrInvalidIndex", err)
	}
}

func TestDerivationPath(t *testing.T) {
	w := newTestWallet(t, chain.Testnet)
	path, err := w.Path(0, 1, 5)
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	if got := path.String(); got != "m/44'/1'/0'/1/5" {
		t.Errorf("Path() = %s, want m/44'/1'/0'/1/5", got)
	}

	parsed, err := ParsePath("m/44h/1h/0h/1/5")
	if err != nil {
		t.Fatalf("ParsePath() error = %v", err)
	}
	if parsed.String() != path.String() {
		t.Errorf("ParsePath() = %s, want %s", parsed, path)
	}

	for _, bad := range []string{"44'/0'", "m/x", "m/2147483648"} {
		if _, err := ParsePath(bad); !errors.Is(err, ErrDerivation) {
			t.Errorf("ParsePath(%q) error = %v, want ErrDerivation", bad, err)
		}
	}
}

func TestAccountAddressPath(t *testing.T) {
	tests := []struct {
		name    string
		network chain.Network
		path    string
		change  uint32
		index   uint32
		wantErr bool
	}{
		{"testnet receive", chain.Testnet, "m/44'/1'/0'/0/3", 0, 3, false},
		{"mainnet change", chain.Mainnet, "m/44h/0h/0h/1/9", 1, 9, false},
		{"wrong coin", chain.Mainnet, "m/44'/1'/0'/0/3", 0, 0, true},
		{"other account", chain.Testnet, "m/44'/1'/1'/0/3", 0, 0, true},
		{"hardened index", chain.Testnet, "m/44'/1'/0'/0/3'", 0, 0, true},
		{"bad branch", chain.Testnet, "m/44'/1'/0'/2/3", 0, 0, true},
		{"too short", chain.Testnet, "m/44'/1'/0'", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			change, index, err := AccountAddressPath(tt.network, tt.path)
			if tt.wantErr {
				if !errors.Is(err, ErrDerivation) {
					t.Errorf("AccountAddressPath() error = %v, want ErrDerivation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("AccountAddressPath() error = %v", err)
			}
			if change != tt.change || index != tt.index {
				t.Errorf("AccountAddressPath() = %d/%d, want %d/%d", change, index, tt.change, tt.index)
			}
		})
	}
}

func TestDeriveHardenedFromPublic(t *testing.T) {
	seed, _ := SeedFromMnemonic(testMnemonic, "")
	root, _ := RootKey(seed, chain.Mainnet)
	pub, err := root.Neuter()
	if err != nil {
		t.Fatalf("Neuter() error = %v", err)
	}

	path, _ := ParsePath("m/44'")
	if _, err := Derive(pub, path); !errors.Is(err, ErrDerivation) {
		t.Errorf("Derive() error = %v, want ErrDerivation", err)
	}
}

func TestWalletKeys(t *testing.T) {
	w := newTestWallet(t, chain.Mainnet)

	priv, err := w.PrivateKey(0, 0, 0)
	if err != nil {
		t.Fatalf("PrivateKey() error = %v", err)
	}
	pub, err := w.PublicKey(0, 0, 0)
	if err != nil {
		t.Fatalf("PublicKey() error = %v", err)
	}
	if !priv.PubKey().IsEqual(pub) {
		t.Error("public key does not match private key")
	}

	addr, err := P2PKHAddress(pub, chain.Mainnet)
	if err != nil {
		t.Fatalf("P2PKHAddress() error = %v", err)
	}
	if addr.Encoded != testMainnetAddress {
		t.Errorf("P2PKHAddress() = %s, want %s", addr, testMainnetAddress)
	}
}

func TestWalletCache(t *testing.T) {
	w := newTestWallet(t, chain.Mainnet)

	k1, _ := w.DeriveKey(0, 0, 3)
	k2, _ := w.DeriveKey(0, 0, 3)
	if k1 != k2 {
		t.Error("second derivation should hit the cache")
	}

	w.ClearCache()
	k3, _ := w.DeriveKey(0, 0, 3)
	if k3 == k1 {
		t.Error("cache should be empty after ClearCache")
	}
	if k3.String() != k1.String() {
		t.Error("re-derived key differs")
	}
}

func TestWIFRoundTrip(t *testing.T) {
	w := newTestWallet(t, chain.Testnet)
	priv, _ := w.PrivateKey(0, 0, 0)

	wif, err := PrivateKeyToWIF(priv, chain.Testnet)
	if err != nil {
		t.Fatalf("PrivateKeyToWIF() error = %v", err)
	}
	if !strings.HasPrefix(wif, "c") {
		t.Errorf("testnet compressed WIF %s should start with c", wif)
	}

	back, err := WIFToPrivateKey(wif, chain.Testnet)
	if err != nil {
		t.Fatalf("WIFToPrivateKey() error = %v", err)
	}
	if !bytes.Equal(back.Serialize(), priv.Serialize()) {
		t.Error("WIF round trip changed the key")
	}

	if _, err := WIFToPrivateKey(wif, chain.Mainnet); !errors.Is(err, ErrNetworkMismatch) {
		t.Errorf("WIFToPrivateKey(mainnet) error = %v, want ErrNetworkMismatch", err)
	}
}

func TestVaultSealOpen(t *testing.T) {
	password := "SecureP@ss123"

	v, err := SealMnemonic(testMnemonic, "extra", password, chain.Testnet)
	if err != nil {
		t.Fatalf("SealMnemonic() error = %v", err)
	}
	if bytes.Contains(v.Ciphertext, []byte("abandon")) {
		t.Fatal("ciphertext contains the mnemonic")
	}

	mnemonic, passphrase, err := v.Open(password)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if mnemonic != testMnemonic || passphrase != "extra" {
		t.Errorf("Open() = %q, %q", mnemonic, passphrase)
	}

	if _, _, err := v.Open("WrongP@ss123"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("Open(wrong) error = %v, want ErrWrongPassword", err)
	}

	// The network is authenticated
	v.Network = chain.Mainnet
	if _, _, err := v.Open(password); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("Open(other network) error = %v, want ErrWrongPassword", err)
	}
}

func TestSealMnemonicRejects(t *testing.T) {
	if _, err := SealMnemonic(testMnemonic, "", "weak", chain.Testnet); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("weak password: error = %v, want ErrWeakPassword", err)
	}
	if _, err := SealMnemonic("not a mnemonic", "", "SecureP@ss123", chain.Testnet); !errors.Is(err, ErrInvalidMnemonic) {
		t.Errorf("bad mnemonic: error = %v, want ErrInvalidMnemonic", err)
	}
}

func TestVaultSaveLoad(t *testing.T) {
	dir, err := os.MkdirTemp("", "vault-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "sub", "wallet.seed")
	if _, err := LoadVault(path); !errors.Is(err, ErrNoVault) {
		t.Fatalf("LoadVault(missing) error = %v, want ErrNoVault", err)
	}

	v, err := SealMnemonic(testMnemonic, "", "SecureP@ss123", chain.Testnet)
	if err != nil {
		t.Fatalf("SealMnemonic() error = %v", err)
	}
	if err := v.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("vault permissions = %o, want 600", info.Mode().Perm())
	}

	loaded, err := LoadVault(path)
	if err != nil {
		t.Fatalf("LoadVault() error = %v", err)
	}
	mnemonic, _, err := loaded.Open("SecureP@ss123")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if mnemonic != testMnemonic {
		t.Error("loaded vault returned another mnemonic")
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		valid    bool
	}{
		{"SecureP@ss123", true},
		{"Abcdefg1", true},
		{"short1A", false},
		{"alllowercase", false},
		{"ALLUPPER1", false},
		{"12345678", false},
		{strings.Repeat("Aa1", 100), false},
	}

	for _, tc := range tests {
		err := ValidatePassword(tc.password)
		if tc.valid && err != nil {
			t.Errorf("ValidatePassword(%q) error = %v", tc.password, err)
		}
		if !tc.valid && err == nil {
			t.Errorf("ValidatePassword(%q) should fail", tc.password)
		}
	}
}

func TestSecureClear(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	SecureClear(data)
	for i, b := range data {
		if b != 0 {
			t.Errorf("byte %d = %d, want 0", i, b)
		}
	}
}

func TestValidateFilePath(t *testing.T) {
	if err := ValidateFilePath(""); err == nil {
		t.Error("empty path should fail")
	}
	if err := ValidateFilePath("a/../b"); err == nil {
		t.Error("relative traversal should fail")
	}
	if err := ValidateFilePath("/tmp/wallet.seed"); err != nil {
		t.Errorf("ValidateFilePath() error = %v", err)
	}
}

// testPubKeys returns n compressed public keys of the test wallet.
func testPubKeys(t *testing.T, n int) ([][]byte, []*btcec.PrivateKey) {
	t.Helper()
	w := newTestWallet(t, chain.Testnet)

	pubs := make([][]byte, n)
	privs := make([]*btcec.PrivateKey, n)
	for i := 0; i < n; i++ {
		priv, err := w.PrivateKey(0, 0, uint32(i))
		if err != nil {
			t.Fatalf("PrivateKey(%d) error = %v", i, err)
		}
		privs[i] = priv
		pubs[i] = priv.PubKey().SerializeCompressed()
	}
	return pubs, privs
}
