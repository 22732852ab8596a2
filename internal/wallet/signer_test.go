package wallet

import (
	"bytes"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/paybyt/paybyt-wallet/internal/chain"
)

func TestSignAndFinalizeP2PKH(t *testing.T) {
	w := newTestWallet(t, chain.Mainnet)
	key, _ := w.PrivateKey(0, 0, 0)

	tx, err := BuildTransaction(fundedRequest(t, 70000))
	if err != nil {
		t.Fatalf("BuildTransaction() error = %v", err)
	}

	var sigs []*Signature
	for i := range tx.Inputs {
		sig, err := SignInput(tx, i, key)
		if err != nil {
			t.Fatalf("SignInput(%d) error = %v", i, err)
		}
		if !ValidateSignature(tx, sig) {
			t.Fatalf("signature of input %d does not validate", i)
		}
		sigs = append(sigs, sig)
	}

	final, err := Finalize(tx, sigs)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if len(final.TxID) != 64 {
		t.Errorf("TxID = %q", final.TxID)
	}

	decoded, err := DecodeFinalized(final.Raw)
	if err != nil {
		t.Fatalf("DecodeFinalized() error = %v", err)
	}
	if decoded.TxHash().String() != final.TxID {
		t.Errorf("decoded txid %s, want %s", decoded.TxHash(), final.TxID)
	}

	unsigned, _ := tx.MsgTx()
	if len(decoded.TxIn) != len(unsigned.TxIn) || len(decoded.TxOut) != len(unsigned.TxOut) {
		t.Fatal("decoded transaction has different shape")
	}
	for i := range unsigned.TxIn {
		if decoded.TxIn[i].PreviousOutPoint != unsigned.TxIn[i].PreviousOutPoint {
			t.Errorf("input %d outpoint changed", i)
		}
		if len(decoded.TxIn[i].SignatureScript) == 0 {
			t.Errorf("input %d has no signature script", i)
		}
	}
	for i := range unsigned.TxOut {
		if decoded.TxOut[i].Value != unsigned.TxOut[i].Value ||
			!bytes.Equal(decoded.TxOut[i].PkScript, unsigned.TxOut[i].PkScript) {
			t.Errorf("output %d changed", i)
		}
	}

	// Finalizing leaves the template untouched
	again, _ := tx.MsgTx()
	for i := range again.TxIn {
		if len(again.TxIn[i].SignatureScript) != 0 {
			t.Error("unsigned transaction was mutated")
		}
	}
}

func TestSignInputErrors(t *testing.T) {
	w := newTestWallet(t, chain.Mainnet)
	tx, err := BuildTransaction(fundedRequest(t, 70000))
	if err != nil {
		t.Fatalf("BuildTransaction() error = %v", err)
	}
	key, _ := w.PrivateKey(0, 0, 0)
	other, _ := w.PrivateKey(0, 0, 9)

	if _, err := SignInput(tx, 2, key); !errors.Is(err, ErrSigning) {
		t.Errorf("out of range: error = %v, want ErrSigning", err)
	}
	if _, err := SignInput(tx, -1, key); !errors.Is(err, ErrSigning) {
		t.Errorf("negative index: error = %v, want ErrSigning", err)
	}
	if _, err := SignInput(tx, 0, other); !errors.Is(err, ErrSigning) {
		t.Errorf("wrong key: error = %v, want ErrSigning", err)
	}
}

func TestFinalizeIncomplete(t *testing.T) {
	w := newTestWallet(t, chain.Mainnet)
	key, _ := w.PrivateKey(0, 0, 0)
	tx, _ := BuildTransaction(fundedRequest(t, 70000))

	sig, err := SignInput(tx, 0, key)
	if err != nil {
		t.Fatalf("SignInput() error = %v", err)
	}

	_, err = Finalize(tx, []*Signature{sig})
	if !errors.Is(err, ErrIncompleteSignatureSet) {
		t.Fatalf("Finalize() error = %v, want ErrIncompleteSignatureSet", err)
	}

	// A signature moved to another input does not count
	moved := *sig
	moved.InputIndex = 1
	if ValidateSignature(tx, &moved) {
		t.Error("signature validated for the wrong input")
	}
	if _, err := Finalize(tx, []*Signature{sig, &moved}); !errors.Is(err, ErrIncompleteSignatureSet) {
		t.Errorf("Finalize() error = %v, want ErrIncompleteSignatureSet", err)
	}
}

func TestValidateSignatureRejectsTampering(t *testing.T) {
	w := newTestWallet(t, chain.Mainnet)
	key, _ := w.PrivateKey(0, 0, 0)
	tx, _ := BuildTransaction(fundedRequest(t, 70000))
	sig, _ := SignInput(tx, 0, key)

	changed := *tx
	changed.Outputs = append([]Output(nil), tx.Outputs...)
	changed.Outputs[0].Value--
	if ValidateSignature(&changed, sig) {
		t.Error("signature survived an output change")
	}

	badDER := *sig
	badDER.DER = append(HexBytes(nil), sig.DER...)
	badDER.DER[len(badDER.DER)-1] ^= 0x01
	if ValidateSignature(tx, &badDER) {
		t.Error("corrupted signature validated")
	}

	if ValidateSignature(tx, nil) {
		t.Error("nil signature validated")
	}
}

// multisigRequest funds a 2-of-3 P2SH output on testnet.
func multisigRequest(t *testing.T) (*BuildRequest, []*btcec.PrivateKey) {
	t.Helper()
	pubs, privs := testPubKeys(t, 3)

	ms, err := BuildRedeemScript(2, pubs)
	if err != nil {
		t.Fatalf("BuildRedeemScript() error = %v", err)
	}
	addr, err := ScriptAddress(ms, chain.Testnet)
	if err != nil {
		t.Fatalf("ScriptAddress() error = %v", err)
	}
	script, _ := addr.PkScript()

	w := newTestWallet(t, chain.Testnet)
	to, _ := w.Address(0, 0, 5)

	return &BuildRequest{
		UTXOs: []UTXO{{
			TxID:         testTxID(0x33),
			Vout:         2,
			ScriptPubKey: script,
			Value:        100000,
			RedeemScript: ms.RedeemScript,
		}},
		Outputs:       []Output{{Address: to.Encoded, Value: 60000}},
		FeeRate:       5,
		ChangeAddress: addr.Encoded,
		Network:       chain.Testnet,
	}, privs
}

func TestMultisigSigningSession(t *testing.T) {
	req, privs := multisigRequest(t)
	tx, err := BuildTransaction(req)
	if err != nil {
		t.Fatalf("BuildTransaction() error = %v", err)
	}

	session := NewSigningSession(tx)
	if session.State() != StateUnsigned {
		t.Errorf("State() = %s, want unsigned", session.State())
	}

	// Signatures arrive out of key order
	if _, err := session.Sign(0, privs[2]); err != nil {
		t.Fatalf("Sign(key 2) error = %v", err)
	}
	if session.State() != StatePartiallySigned {
		t.Errorf("State() = %s, want partially_signed", session.State())
	}
	if _, err := session.Finalize(); !errors.Is(err, ErrIncompleteSignatureSet) {
		t.Fatalf("Finalize() with 1 of 2 error = %v, want ErrIncompleteSignatureSet", err)
	}

	if _, err := session.Sign(0, privs[0]); err != nil {
		t.Fatalf("Sign(key 0) error = %v", err)
	}
	if session.State() != StateFullySigned {
		t.Errorf("State() = %s, want fully_signed", session.State())
	}

	final, err := session.Finalize()
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if session.State() != StateFinalized {
		t.Errorf("State() = %s, want finalized", session.State())
	}
	if _, err := DecodeFinalized(final.Raw); err != nil {
		t.Errorf("DecodeFinalized() error = %v", err)
	}

	if _, err := session.Sign(0, privs[1]); !errors.Is(err, ErrFinalized) {
		t.Errorf("Sign() after finalize error = %v, want ErrFinalized", err)
	}
	if _, err := session.Finalize(); !errors.Is(err, ErrFinalized) {
		t.Errorf("second Finalize() error = %v, want ErrFinalized", err)
	}
}

func TestMultisigRejectsForeignKey(t *testing.T) {
	req, _ := multisigRequest(t)
	tx, _ := BuildTransaction(req)

	w := newTestWallet(t, chain.Testnet)
	outsider, _ := w.PrivateKey(0, 0, 10)
	if _, err := SignInput(tx, 0, outsider); !errors.Is(err, ErrSigning) {
		t.Errorf("SignInput(outsider) error = %v, want ErrSigning", err)
	}
}

func TestAddSignatureRejectsNil(t *testing.T) {
	req, _ := multisigRequest(t)
	tx, err := BuildTransaction(req)
	if err != nil {
		t.Fatalf("BuildTransaction() error = %v", err)
	}
	session := NewSigningSession(tx)
	if err := session.AddSignature(nil); !errors.Is(err, ErrSigning) {
		t.Errorf("AddSignature(nil) error = %v, want ErrSigning", err)
	}
}

func TestSignWithKey(t *testing.T) {
	req, privs := multisigRequest(t)
	tx, _ := BuildTransaction(req)

	sigs, err := SignWithKey(tx, privs[1])
	if err != nil {
		t.Fatalf("SignWithKey() error = %v", err)
	}
	if len(sigs) != 1 || sigs[0].InputIndex != 0 {
		t.Errorf("SignWithKey() = %d signatures", len(sigs))
	}

	w := newTestWallet(t, chain.Testnet)
	outsider, _ := w.PrivateKey(0, 0, 10)
	if _, err := SignWithKey(tx, outsider); !errors.Is(err, ErrSigning) {
		t.Errorf("SignWithKey(outsider) error = %v, want ErrSigning", err)
	}
}

func TestDecodeFinalizedErrors(t *testing.T) {
	for _, raw := range []string{"zz", "0100", ""} {
		if _, err := DecodeFinalized(raw); !errors.Is(err, ErrSerialization) {
			t.Errorf("DecodeFinalized(%q) error = %v, want ErrSerialization", raw, err)
		}
	}
}

func TestRedeemScriptMustMatchOutput(t *testing.T) {
	req, privs := multisigRequest(t)
	pubs, _ := testPubKeys(t, 3)
	other, _ := BuildRedeemScript(1, pubs[:2])
	req.UTXOs[0].RedeemScript = other.RedeemScript

	tx, err := BuildTransaction(req)
	if err != nil {
		t.Fatalf("BuildTransaction() error = %v", err)
	}
	if _, err := SignInput(tx, 0, privs[0]); !errors.Is(err, ErrInvalidUTXO) {
		t.Errorf("SignInput() error = %v, want ErrInvalidUTXO", err)
	}
}

func TestPSBTRoundTrip(t *testing.T) {
	req, _ := multisigRequest(t)
	tx, err := BuildTransaction(req)
	if err != nil {
		t.Fatalf("BuildTransaction() error = %v", err)
	}

	encoded, err := ExportPSBT(tx)
	if err != nil {
		t.Fatalf("ExportPSBT() error = %v", err)
	}

	// The co-signer only knows the outpoint and script
	bare := req.UTXOs[0]
	bare.RedeemScript = nil

	imported, err := ImportPSBT(encoded, []UTXO{bare}, chain.Testnet)
	if err != nil {
		t.Fatalf("ImportPSBT() error = %v", err)
	}
	if !bytes.Equal(imported.Inputs[0].RedeemScript, req.UTXOs[0].RedeemScript) {
		t.Error("redeem script not carried by the packet")
	}
	if imported.Fee != tx.Fee {
		t.Errorf("Fee = %d, want %d", imported.Fee, tx.Fee)
	}
	for i := range tx.Outputs {
		if imported.Outputs[i] != tx.Outputs[i] {
			t.Errorf("output %d = %+v, want %+v", i, imported.Outputs[i], tx.Outputs[i])
		}
	}

	a, _ := tx.MsgTx()
	b, _ := imported.MsgTx()
	if a.TxHash() != b.TxHash() {
		t.Error("imported template differs from the exported one")
	}

	if _, err := ImportPSBT(encoded, nil, chain.Testnet); !errors.Is(err, ErrInvalidUTXO) {
		t.Errorf("ImportPSBT() without utxos error = %v, want ErrInvalidUTXO", err)
	}
	if _, err := ImportPSBT("bm90IGEgcHNidA==", nil, chain.Testnet); !errors.Is(err, ErrSerialization) {
		t.Errorf("ImportPSBT(garbage) error = %v, want ErrSerialization", err)
	}
}
