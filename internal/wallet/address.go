package wallet

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/paybyt/paybyt-wallet/internal/chain"
)

// hashLen is the HASH160 payload length of P2PKH and P2SH addresses.
const hashLen = 20

// Address is a decoded base58check address.
type Address struct {
	Encoded string           `json:"address"`
	Type    chain.ScriptType `json:"type"`
	Network chain.Network    `json:"network"`
	Payload []byte           `json:"-"` // HASH160 of pubkey or redeem script
}

// String returns the encoded address.
func (a *Address) String() string {
	return a.Encoded
}

// EncodeAddress encodes a 20-byte hash as a P2PKH or P2SH address.
func EncodeAddress(payload []byte, t chain.ScriptType, network chain.Network) (*Address, error) {
	if len(payload) != hashLen {
		return nil, fmt.Errorf("%w: payload is %d bytes, want %d", ErrInvalidAddress, len(payload), hashLen)
	}
	params, ok := chain.Get(network)
	if !ok {
		return nil, fmt.Errorf("%w: unknown network %q", ErrInvalidAddress, network)
	}

	var (
		addr btcutil.Address
		err  error
	)
	switch t {
	case chain.ScriptP2PKH:
		addr, err = btcutil.NewAddressPubKeyHash(payload, params.ChainParams())
	case chain.ScriptP2SHMultisig:
		addr, err = btcutil.NewAddressScriptHashFromHash(payload, params.ChainParams())
	default:
		return nil, fmt.Errorf("%w: unsupported script type %q", ErrInvalidAddress, t)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	return &Address{
		Encoded: addr.EncodeAddress(),
		Type:    t,
		Network: network,
		Payload: bytes.Clone(payload),
	}, nil
}

// DecodeAddress parses a base58check address. The version byte is matched
// against every (script type, network) pair; checksum failures, bad
// lengths and unknown versions are ErrInvalidAddress.
func DecodeAddress(encoded string) (*Address, error) {
	payload, version, err := base58.CheckDecode(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, encoded, err)
	}
	if len(payload) != hashLen {
		return nil, fmt.Errorf("%w: %q has a %d-byte payload", ErrInvalidAddress, encoded, len(payload))
	}

	scriptType, network, ok := chain.LookupVersion(version)
	if !ok {
		return nil, fmt.Errorf("%w: %q has unknown version 0x%02x", ErrInvalidAddress, encoded, version)
	}

	return &Address{
		Encoded: encoded,
		Type:    scriptType,
		Network: network,
		Payload: payload,
	}, nil
}

// ValidateNetwork decodes an address and checks it belongs to expected.
func ValidateNetwork(encoded string, expected chain.Network) (*Address, error) {
	addr, err := DecodeAddress(encoded)
	if err != nil {
		return nil, err
	}
	if addr.Network != expected {
		return nil, fmt.Errorf("%w: %s is a %s address, expected %s", ErrNetworkMismatch, encoded, addr.Network, expected)
	}
	return addr, nil
}

// PkScript returns the output script paying to the address.
func (a *Address) PkScript() ([]byte, error) {
	addr, err := a.btcutilAddress()
	if err != nil {
		return nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return script, nil
}

func (a *Address) btcutilAddress() (btcutil.Address, error) {
	params, ok := chain.Get(a.Network)
	if !ok {
		return nil, fmt.Errorf("%w: unknown network %q", ErrInvalidAddress, a.Network)
	}
	switch a.Type {
	case chain.ScriptP2PKH:
		return btcutil.NewAddressPubKeyHash(a.Payload, params.ChainParams())
	case chain.ScriptP2SHMultisig:
		return btcutil.NewAddressScriptHashFromHash(a.Payload, params.ChainParams())
	default:
		return nil, fmt.Errorf("%w: unsupported script type %q", ErrInvalidAddress, a.Type)
	}
}

// P2PKHAddress returns the legacy address of a compressed public key.
func P2PKHAddress(pubKey *btcec.PublicKey, network chain.Network) (*Address, error) {
	return EncodeAddress(btcutil.Hash160(pubKey.SerializeCompressed()), chain.ScriptP2PKH, network)
}

// P2PKHAddressFromKey returns the legacy address of an HD key.
func P2PKHAddressFromKey(key *hdkeychain.ExtendedKey, network chain.Network) (*Address, error) {
	pubKey, err := key.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get public key: %v", ErrDerivation, err)
	}
	return P2PKHAddress(pubKey, network)
}

// PrivateKeyToWIF converts a private key to Wallet Import Format.
func PrivateKeyToWIF(privKey *btcec.PrivateKey, network chain.Network) (string, error) {
	params, ok := chain.Get(network)
	if !ok {
		return "", fmt.Errorf("unknown network %q", network)
	}
	wif, err := btcutil.NewWIF(privKey, params.ChainParams(), true)
	if err != nil {
		return "", fmt.Errorf("failed to create WIF: %w", err)
	}
	return wif.String(), nil
}

// WIFToPrivateKey converts a WIF string to a private key for network.
func WIFToPrivateKey(wifStr string, network chain.Network) (*btcec.PrivateKey, error) {
	params, ok := chain.Get(network)
	if !ok {
		return nil, fmt.Errorf("unknown network %q", network)
	}
	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode WIF: %w", err)
	}

	if !wif.IsForNet(params.ChainParams()) {
		return nil, fmt.Errorf("%w: WIF is not for %s", ErrNetworkMismatch, network)
	}

	return wif.PrivKey, nil
}
