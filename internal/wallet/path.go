package wallet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/paybyt/paybyt-wallet/internal/chain"
)

// BIP44 purpose for legacy P2PKH wallets.
const PurposeBIP44 = 44

// MaxChildIndex is the largest index of a single path step; the hardened
// flag is carried separately.
const MaxChildIndex = hdkeychain.HardenedKeyStart - 1

// PathStep is one level of a BIP32 derivation path.
type PathStep struct {
	Index    uint32
	Hardened bool
}

// DerivationPath is an ordered list of derivation steps from the root key.
type DerivationPath []PathStep

// BIP44Path returns m/44'/coin'/account'/change/index for a network.
func BIP44Path(network chain.Network, account, change, index uint32) (DerivationPath, error) {
	params, ok := chain.Get(network)
	if !ok {
		return nil, fmt.Errorf("%w: unknown network %q", ErrDerivation, network)
	}
	return DerivationPath{
		{Index: PurposeBIP44, Hardened: true},
		{Index: params.CoinType, Hardened: true},
		{Index: account, Hardened: true},
		{Index: change},
		{Index: index},
	}, nil
}

// ParsePath parses a path such as "m/44'/0'/0'/0/7". Both ' and h mark a
// hardened step.
func ParsePath(s string) (DerivationPath, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("%w: path must start with m: %q", ErrDerivation, s)
	}

	path := make(DerivationPath, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h")
		if hardened {
			part = part[:len(part)-1]
		}

		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: bad path step %q", ErrDerivation, part)
		}
		if n > MaxChildIndex {
			return nil, fmt.Errorf("%w: %d", ErrInvalidIndex, n)
		}
		path = append(path, PathStep{Index: uint32(n), Hardened: hardened})
	}

	return path, nil
}

// AccountAddressPath parses a path of an address of the first account on
// network and returns its change branch and index.
func AccountAddressPath(network chain.Network, s string) (change, index uint32, err error) {
	path, err := ParsePath(s)
	if err != nil {
		return 0, 0, err
	}
	account, err := BIP44Path(network, 0, 0, 0)
	if err != nil {
		return 0, 0, err
	}
	if len(path) != len(account) {
		return 0, 0, fmt.Errorf("%w: %q is not an address path", ErrDerivation, s)
	}
	for i := 0; i < 3; i++ {
		if path[i] != account[i] {
			return 0, 0, fmt.Errorf("%w: %q is outside %s", ErrDerivation, s, account[:3])
		}
	}
	if path[3].Hardened || path[4].Hardened || path[3].Index > 1 {
		return 0, 0, fmt.Errorf("%w: %q is not an address path", ErrDerivation, s)
	}
	return path[3].Index, path[4].Index, nil
}

// String formats the path in m/44'/0'/0'/0/0 notation.
func (p DerivationPath) String() string {
	var b strings.Builder
	b.WriteString("m")
	for _, step := range p {
		b.WriteString("/")
		b.WriteString(strconv.FormatUint(uint64(step.Index), 10))
		if step.Hardened {
			b.WriteString("'")
		}
	}
	return b.String()
}

// Derive walks path from key. A hardened step from a public-only key, or
// an index at or above 2^31, fails with ErrDerivation.
func Derive(key *hdkeychain.ExtendedKey, path DerivationPath) (*hdkeychain.ExtendedKey, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil key", ErrDerivation)
	}

	current := key
	for depth, step := range path {
		if step.Index > MaxChildIndex {
			return nil, fmt.Errorf("%w: %d at depth %d", ErrInvalidIndex, step.Index, depth+1)
		}

		child := step.Index
		if step.Hardened {
			if !current.IsPrivate() {
				return nil, fmt.Errorf("%w: hardened step %d' from a public key", ErrDerivation, step.Index)
			}
			child += hdkeychain.HardenedKeyStart
		}

		next, err := current.Derive(child)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDerivation, err)
		}
		current = next
	}

	return current, nil
}
