package wallet

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/paybyt/paybyt-wallet/internal/chain"
)

// ExportPSBT encodes the unsigned template of tx as a base64 BIP174 packet.
// Redeem scripts of P2SH inputs are attached so co-signers can check what
// they sign.
func ExportPSBT(tx *UnsignedTransaction) (string, error) {
	msgTx, err := tx.MsgTx()
	if err != nil {
		return "", err
	}

	packet, err := psbt.NewFromUnsignedTx(msgTx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	for i, in := range tx.Inputs {
		if len(in.RedeemScript) > 0 {
			packet.Inputs[i].RedeemScript = bytes.Clone(in.RedeemScript)
		}
	}

	encoded, err := packet.B64Encode()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return encoded, nil
}

// ImportPSBT decodes a base64 packet back into an UnsignedTransaction. The
// packet does not carry previous outputs, so every outpoint must be found
// in utxos. The change output cannot be recognized and is reported as
// NoChange.
func ImportPSBT(b64 string, utxos []UTXO, network chain.Network) (*UnsignedTransaction, error) {
	params, ok := chain.Get(network)
	if !ok {
		return nil, fmt.Errorf("%w: unknown network %q", ErrNetworkMismatch, network)
	}

	packet, err := psbt.NewFromRawBytes(strings.NewReader(strings.TrimSpace(b64)), true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	msgTx := packet.UnsignedTx

	known := make(map[string]UTXO, len(utxos))
	for _, u := range utxos {
		known[fmt.Sprintf("%s:%d", u.TxID, u.Vout)] = u
	}

	tx := &UnsignedTransaction{
		LockTime:    msgTx.LockTime,
		ChangeIndex: NoChange,
		Network:     network,
	}

	for i, txIn := range msgTx.TxIn {
		key := fmt.Sprintf("%s:%d", txIn.PreviousOutPoint.Hash, txIn.PreviousOutPoint.Index)
		u, ok := known[key]
		if !ok {
			return nil, fmt.Errorf("%w: no utxo for input %d (%s)", ErrInvalidUTXO, i, key)
		}
		if len(u.RedeemScript) == 0 && len(packet.Inputs[i].RedeemScript) > 0 {
			u.RedeemScript = bytes.Clone(packet.Inputs[i].RedeemScript)
		}
		if _, err := inputSpendInfo(&u); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		tx.Inputs = append(tx.Inputs, u)
	}

	for i, txOut := range msgTx.TxOut {
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(txOut.PkScript, params.ChainParams())
		if err != nil || len(addrs) != 1 {
			return nil, fmt.Errorf("%w: output %d has a non-standard script", ErrInvalidAddress, i)
		}
		addr, err := ValidateNetwork(addrs[0].EncodeAddress(), network)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		if txOut.Value <= 0 {
			return nil, fmt.Errorf("%w: output %d has value %d", ErrInvalidAmount, i, txOut.Value)
		}
		tx.Outputs = append(tx.Outputs, Output{Address: addr.Encoded, Value: uint64(txOut.Value)})
	}

	if len(tx.Inputs) == 0 || len(tx.Outputs) == 0 {
		return nil, fmt.Errorf("%w: packet needs inputs and outputs", ErrInvalidUTXO)
	}

	// Rejects an outpoint spent twice within the packet.
	in, err := sumUTXOs(tx.Inputs)
	if err != nil {
		return nil, err
	}
	out := tx.TotalOutput()
	if in < out {
		return nil, fmt.Errorf("%w: outputs %d exceed inputs %d", ErrInvalidAmount, out, in)
	}
	tx.Fee = in - out
	tx.Size = EstimateSize(len(tx.Inputs), len(tx.Outputs))

	if err := ValidateFeeRate(tx.Fee, tx.Size); err != nil {
		return nil, err
	}
	return tx, nil
}
