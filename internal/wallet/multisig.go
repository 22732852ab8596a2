package wallet

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/paybyt/paybyt-wallet/internal/chain"
)

// MaxMultisigKeys is the standard limit of keys in a P2SH CHECKMULTISIG.
const MaxMultisigKeys = 15

// compressedPubKeyLen is the length of a SEC1 compressed public key.
const compressedPubKeyLen = 33

// MultisigScript is an m-of-n CHECKMULTISIG redeem script.
type MultisigScript struct {
	M            int      `json:"m"`
	N            int      `json:"n"`
	PubKeys      [][]byte `json:"-"`
	RedeemScript []byte   `json:"-"`
}

// RedeemScriptHex returns the redeem script as hex.
func (ms *MultisigScript) RedeemScriptHex() string {
	return hex.EncodeToString(ms.RedeemScript)
}

// PubKeysHex returns the public keys as hex, in script order.
func (ms *MultisigScript) PubKeysHex() []string {
	out := make([]string, len(ms.PubKeys))
	for i, k := range ms.PubKeys {
		out[i] = hex.EncodeToString(k)
	}
	return out
}

// BuildRedeemScript builds OP_m <pubkey...> OP_n OP_CHECKMULTISIG. Keys stay
// in caller order; a different order is a different script and address.
func BuildRedeemScript(m int, pubKeys [][]byte) (*MultisigScript, error) {
	n := len(pubKeys)
	switch {
	case n < 2:
		return nil, fmt.Errorf("%w: need at least 2 keys, got %d", ErrMultisigConfig, n)
	case n > MaxMultisigKeys:
		return nil, fmt.Errorf("%w: at most %d keys, got %d", ErrMultisigConfig, MaxMultisigKeys, n)
	case m < 1:
		return nil, fmt.Errorf("%w: m must be at least 1, got %d", ErrMultisigConfig, m)
	case m > n:
		return nil, fmt.Errorf("%w: %d-of-%d", ErrMultisigConfig, m, n)
	}

	keys := make([][]byte, n)
	for i, key := range pubKeys {
		if len(key) != compressedPubKeyLen || (key[0] != 0x02 && key[0] != 0x03) {
			return nil, fmt.Errorf("%w: key %d is not a compressed public key", ErrMultisigConfig, i)
		}
		if _, err := btcec.ParsePubKey(key); err != nil {
			return nil, fmt.Errorf("%w: key %d: %v", ErrMultisigConfig, i, err)
		}
		keys[i] = bytes.Clone(key)
	}

	builder := txscript.NewScriptBuilder().AddInt64(int64(m))
	for _, key := range keys {
		builder.AddData(key)
	}
	builder.AddInt64(int64(n)).AddOp(txscript.OP_CHECKMULTISIG)

	script, err := builder.Script()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMultisigConfig, err)
	}

	return &MultisigScript{M: m, N: n, PubKeys: keys, RedeemScript: script}, nil
}

// ScriptAddress returns the P2SH address of a redeem script.
func ScriptAddress(ms *MultisigScript, network chain.Network) (*Address, error) {
	return EncodeAddress(btcutil.Hash160(ms.RedeemScript), chain.ScriptP2SHMultisig, network)
}

// SortPubKeys returns a copy of keys in BIP67 lexicographic order.
func SortPubKeys(keys [][]byte) [][]byte {
	sorted := make([][]byte, len(keys))
	copy(sorted, keys)
	sort.SliceStable(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i], sorted[j]) < 0
	})
	return sorted
}

// ParseRedeemScript recovers m and the key set of a CHECKMULTISIG script.
// The network only affects address rendering, which is not used here.
func ParseRedeemScript(script []byte) (*MultisigScript, error) {
	class, addrs, reqSigs, err := txscript.ExtractPkScriptAddrs(script, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMultisigConfig, err)
	}
	if class != txscript.MultiSigTy {
		return nil, fmt.Errorf("%w: not a multisig script (%s)", ErrMultisigConfig, class)
	}

	keys := make([][]byte, 0, len(addrs))
	for _, a := range addrs {
		pk, ok := a.(*btcutil.AddressPubKey)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected key type %T", ErrMultisigConfig, a)
		}
		keys = append(keys, pk.ScriptAddress())
	}

	ms, err := BuildRedeemScript(reqSigs, keys)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(ms.RedeemScript, script) {
		return nil, fmt.Errorf("%w: non-canonical redeem script", ErrMultisigConfig)
	}
	return ms, nil
}

// EscrowScript builds the 2-of-3 buyer/seller/arbiter escrow script. Any
// two parties can release the funds.
func EscrowScript(buyer, seller, arbiter []byte) (*MultisigScript, error) {
	return BuildRedeemScript(2, [][]byte{buyer, seller, arbiter})
}

// ParsePubKeysHex decodes hex-encoded compressed public keys.
func ParsePubKeysHex(keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		k = strings.TrimSpace(k)
		if len(k) != compressedPubKeyLen*2 {
			return nil, fmt.Errorf("%w: key %d must be %d hex chars", ErrMultisigConfig, i, compressedPubKeyLen*2)
		}
		b, err := hex.DecodeString(k)
		if err != nil {
			return nil, fmt.Errorf("%w: key %d: %v", ErrMultisigConfig, i, err)
		}
		out[i] = b
	}
	return out, nil
}
