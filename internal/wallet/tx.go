package wallet

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/paybyt/paybyt-wallet/internal/chain"
)

// HexBytes is a byte slice that travels as a hex string in JSON.
type HexBytes []byte

// MarshalText implements encoding.TextMarshaler.
func (h HexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *HexBytes) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	*h = b
	return nil
}

// String returns the hex encoding.
func (h HexBytes) String() string {
	return hex.EncodeToString(h)
}

// UTXO is a spendable output supplied by the caller.
type UTXO struct {
	TxID         string   `json:"txid"`
	Vout         uint32   `json:"vout"`
	ScriptPubKey HexBytes `json:"scriptPubKey"`
	Value        uint64   `json:"value"`

	// Redeem script of a P2SH-multisig output
	RedeemScript HexBytes `json:"redeemScript,omitempty"`
}

// OutPoint returns the wire outpoint of the UTXO.
func (u *UTXO) OutPoint() (*wire.OutPoint, error) {
	if len(u.TxID) != chainhash.MaxHashStringSize {
		return nil, fmt.Errorf("%w: txid %q must be %d hex chars", ErrInvalidUTXO, u.TxID, chainhash.MaxHashStringSize)
	}
	hash, err := chainhash.NewHashFromStr(u.TxID)
	if err != nil {
		return nil, fmt.Errorf("%w: txid %q: %v", ErrInvalidUTXO, u.TxID, err)
	}
	return wire.NewOutPoint(hash, u.Vout), nil
}

// Output is a payment to an address.
type Output struct {
	Address string `json:"address"`
	Value   uint64 `json:"value"`
}

// NoChange is the ChangeIndex of a transaction without a change output.
const NoChange = -1

// UnsignedTransaction is a fully determined transaction template awaiting
// signatures. It is never mutated by signing.
type UnsignedTransaction struct {
	Inputs      []UTXO        `json:"inputs"`
	Outputs     []Output      `json:"outputs"`
	LockTime    uint32        `json:"locktime"`
	Fee         uint64        `json:"fee"`
	ChangeIndex int           `json:"changeIndex"`
	Network     chain.Network `json:"network"`
	Size        int           `json:"size"`
}

// TotalInput returns the sum of input values.
func (tx *UnsignedTransaction) TotalInput() uint64 {
	var total uint64
	for _, in := range tx.Inputs {
		total += in.Value
	}
	return total
}

// TotalOutput returns the sum of output values, change included.
func (tx *UnsignedTransaction) TotalOutput() uint64 {
	var total uint64
	for _, out := range tx.Outputs {
		total += out.Value
	}
	return total
}

// Change returns the change value, or 0 without a change output.
func (tx *UnsignedTransaction) Change() uint64 {
	if tx.ChangeIndex < 0 || tx.ChangeIndex >= len(tx.Outputs) {
		return 0
	}
	return tx.Outputs[tx.ChangeIndex].Value
}

// MsgTx builds a fresh wire transaction with empty signature scripts.
func (tx *UnsignedTransaction) MsgTx() (*wire.MsgTx, error) {
	msgTx := wire.NewMsgTx(wire.TxVersion)
	msgTx.LockTime = tx.LockTime

	sequence := uint32(wire.MaxTxInSequenceNum)
	if tx.LockTime != 0 {
		// A final sequence would disable the lock time
		sequence = wire.MaxTxInSequenceNum - 1
	}

	for i := range tx.Inputs {
		outpoint, err := tx.Inputs[i].OutPoint()
		if err != nil {
			return nil, err
		}
		txIn := wire.NewTxIn(outpoint, nil, nil)
		txIn.Sequence = sequence
		msgTx.AddTxIn(txIn)
	}

	for i, out := range tx.Outputs {
		addr, err := ValidateNetwork(out.Address, tx.Network)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		pkScript, err := addr.PkScript()
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		msgTx.AddTxOut(wire.NewTxOut(int64(out.Value), pkScript))
	}

	return msgTx, nil
}
