// Package chain defines the Bitcoin network parameters the wallet engine
// supports. All values are hardcoded here; nothing is read from the
// environment, so a Network value is the only thing callers thread through.
package chain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// Network represents mainnet or testnet.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// ParseNetwork parses a network name. "testnet3" and "test" are accepted as
// aliases for Testnet, "main" and "bitcoin" for Mainnet.
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet", "main", "bitcoin":
		return Mainnet, nil
	case "testnet", "testnet3", "test":
		return Testnet, nil
	default:
		return "", fmt.Errorf("unknown network: %q", s)
	}
}

// ScriptType represents the locking script family of an address.
type ScriptType string

const (
	ScriptP2PKH        ScriptType = "p2pkh"         // Legacy (1... / m,n...)
	ScriptP2SHMultisig ScriptType = "p2sh-multisig" // Script hash (3... / 2...)
)

// ScriptTypes lists every supported script type.
var ScriptTypes = []ScriptType{ScriptP2PKH, ScriptP2SHMultisig}

// Params contains the parameters of one Bitcoin network.
type Params struct {
	Network Network
	Name    string

	// BIP44 coin type (0 mainnet, 1 for every testnet)
	CoinType uint32

	// Base58check version bytes
	PubKeyHashAddrID byte
	ScriptHashAddrID byte
	WIF              byte

	// BIP32 HD key magic bytes (xprv/xpub, tprv/tpub)
	HDPrivateKeyID [4]byte
	HDPublicKeyID  [4]byte

	// Block explorer base URL, without trailing slash
	ExplorerURL string

	// Confirmations required before a UTXO is spendable
	MinConfirmations int64

	chainParams *chaincfg.Params
}

// ChainParams returns the btcd parameters backing this network.
func (p *Params) ChainParams() *chaincfg.Params {
	return p.chainParams
}

// VersionByte returns the base58check version byte for a script type.
func (p *Params) VersionByte(t ScriptType) (byte, error) {
	switch t {
	case ScriptP2PKH:
		return p.PubKeyHashAddrID, nil
	case ScriptP2SHMultisig:
		return p.ScriptHashAddrID, nil
	default:
		return 0, fmt.Errorf("unsupported script type: %q", t)
	}
}

// ExplorerTxURL returns the block explorer page of a transaction.
func (p *Params) ExplorerTxURL(txid string) string {
	return p.ExplorerURL + "/tx/" + txid
}

// registry holds params indexed by network.
var registry = make(map[Network]*Params)

// Register adds network params to the registry.
func Register(params *Params) {
	registry[params.Network] = params
}

// Get returns the params of a network.
func Get(network Network) (*Params, bool) {
	params, ok := registry[network]
	return params, ok
}

// MustGet returns the params of a network and panics if it is unknown.
// Only use it with the Mainnet/Testnet constants.
func MustGet(network Network) *Params {
	params, ok := registry[network]
	if !ok {
		panic(fmt.Sprintf("chain: unregistered network %q", network))
	}
	return params
}

// List returns all registered networks in a stable order.
func List() []Network {
	networks := make([]Network, 0, len(registry))
	for n := range registry {
		networks = append(networks, n)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })
	return networks
}

// LookupVersion maps a base58check version byte to its (script type,
// network) pair. Every registered network and script type is matched; an
// unknown byte returns ok=false.
func LookupVersion(version byte) (ScriptType, Network, bool) {
	for _, n := range List() {
		params := registry[n]
		for _, t := range ScriptTypes {
			v, err := params.VersionByte(t)
			if err == nil && v == version {
				return t, n, true
			}
		}
	}
	return "", "", false
}
