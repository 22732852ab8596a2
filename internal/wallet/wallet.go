// Package wallet is the transaction engine of the paybyt wallet: BIP39/BIP44
// key derivation, P2PKH and P2SH-multisig address encoding, fee policy,
// transaction assembly, signing and finalization.
package wallet

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/paybyt/paybyt-wallet/internal/chain"
	"github.com/tyler-smith/go-bip39"
)

// GenerateMnemonic generates a new 24-word BIP39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256) // 256 bits = 24 words
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}

	return mnemonic, nil
}

// ValidateMnemonic checks if a mnemonic is valid.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// SeedFromMnemonic derives the 64-byte BIP39 seed. The passphrase is
// optional (can be empty string).
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	return bip39.NewSeed(mnemonic, passphrase), nil
}

// RootKey creates the BIP32 master key of a seed for a network.
func RootKey(seed []byte, network chain.Network) (*hdkeychain.ExtendedKey, error) {
	params, ok := chain.Get(network)
	if !ok {
		return nil, fmt.Errorf("%w: unknown network %q", ErrDerivation, network)
	}

	masterKey, err := hdkeychain.NewMaster(seed, params.ChainParams())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create master key: %v", ErrDerivation, err)
	}
	return masterKey, nil
}

// AddressForIndex derives the receive address m/44'/coin'/0'/0/index.
// The root key must have been created for network.
func AddressForIndex(root *hdkeychain.ExtendedKey, network chain.Network, index uint32) (*Address, error) {
	if index > MaxChildIndex {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	params, ok := chain.Get(network)
	if !ok {
		return nil, fmt.Errorf("%w: unknown network %q", ErrNetworkMismatch, network)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: nil root key", ErrDerivation)
	}
	if !root.IsForNet(params.ChainParams()) {
		return nil, fmt.Errorf("%w: root key is not for %s", ErrNetworkMismatch, network)
	}

	path, err := BIP44Path(network, 0, 0, index)
	if err != nil {
		return nil, err
	}
	key, err := Derive(root, path)
	if err != nil {
		return nil, err
	}
	return P2PKHAddressFromKey(key, network)
}

// Wallet manages HD keys derived from a BIP39 seed on one network.
type Wallet struct {
	masterKey *hdkeychain.ExtendedKey
	network   chain.Network
	mu        sync.RWMutex

	// Cached derived keys by account/change/index
	cache map[[3]uint32]*hdkeychain.ExtendedKey
}

// NewFromMnemonic creates a wallet from a BIP39 mnemonic.
// The passphrase is optional (can be empty string).
func NewFromMnemonic(mnemonic, passphrase string, network chain.Network) (*Wallet, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	defer SecureClear(seed)

	return NewFromSeed(seed, network)
}

// NewFromSeed creates a wallet from a raw 64-byte seed.
func NewFromSeed(seed []byte, network chain.Network) (*Wallet, error) {
	masterKey, err := RootKey(seed, network)
	if err != nil {
		return nil, err
	}

	return &Wallet{
		masterKey: masterKey,
		network:   network,
		cache:     make(map[[3]uint32]*hdkeychain.ExtendedKey),
	}, nil
}

// Network returns the wallet's network (mainnet/testnet).
func (w *Wallet) Network() chain.Network {
	return w.network
}

// Path returns the BIP44 path of a key.
func (w *Wallet) Path(account, change, index uint32) (DerivationPath, error) {
	return BIP44Path(w.network, account, change, index)
}

// DeriveKey derives the key at m/44'/coin'/account'/change/index.
func (w *Wallet) DeriveKey(account, change, index uint32) (*hdkeychain.ExtendedKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cacheKey := [3]uint32{account, change, index}
	if key, ok := w.cache[cacheKey]; ok {
		return key, nil
	}

	path, err := BIP44Path(w.network, account, change, index)
	if err != nil {
		return nil, err
	}

	// m/44'/coin'/account' (hardened), then change/index (non-hardened)
	key, err := Derive(w.masterKey, path)
	if err != nil {
		return nil, err
	}

	w.cache[cacheKey] = key
	return key, nil
}

// Address derives the P2PKH address at account/change/index.
func (w *Wallet) Address(account, change, index uint32) (*Address, error) {
	key, err := w.DeriveKey(account, change, index)
	if err != nil {
		return nil, err
	}
	return P2PKHAddressFromKey(key, w.network)
}

// PrivateKey derives the private key at account/change/index.
func (w *Wallet) PrivateKey(account, change, index uint32) (*btcec.PrivateKey, error) {
	key, err := w.DeriveKey(account, change, index)
	if err != nil {
		return nil, err
	}

	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get private key: %v", ErrDerivation, err)
	}
	return privKey, nil
}

// PublicKey derives the public key at account/change/index.
func (w *Wallet) PublicKey(account, change, index uint32) (*btcec.PublicKey, error) {
	key, err := w.DeriveKey(account, change, index)
	if err != nil {
		return nil, err
	}

	pubKey, err := key.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get public key: %v", ErrDerivation, err)
	}
	return pubKey, nil
}

// ClearCache clears the key cache (useful for memory management).
func (w *Wallet) ClearCache() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cache = make(map[[3]uint32]*hdkeychain.ExtendedKey)
}
