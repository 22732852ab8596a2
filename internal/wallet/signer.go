package wallet

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Signature is a SIGHASH_ALL signature of one input.
type Signature struct {
	InputIndex int                  `json:"inputIndex"`
	PubKey     HexBytes             `json:"pubkey"`
	DER        HexBytes             `json:"signature"`
	HashType   txscript.SigHashType `json:"hashType"`
}

// FinalizedTransaction is a fully signed, serialized transaction.
type FinalizedTransaction struct {
	Raw  string `json:"hex"`
	TxID string `json:"txid"`
}

// spendInfo describes how an input is unlocked.
type spendInfo struct {
	pkScript  []byte
	subscript []byte          // script committed to by the signature hash
	multisig  *MultisigScript // nil for P2PKH
}

func (s *spendInfo) required() int {
	if s.multisig != nil {
		return s.multisig.M
	}
	return 1
}

// canSign reports whether pubKey is one of the keys of the input.
func (s *spendInfo) canSign(pubKey []byte) bool {
	if s.multisig == nil {
		return bytes.Equal(btcutil.Hash160(pubKey), s.pkScript[3:23])
	}
	for _, k := range s.multisig.PubKeys {
		if bytes.Equal(k, pubKey) {
			return true
		}
	}
	return false
}

func inputSpendInfo(u *UTXO) (*spendInfo, error) {
	script := []byte(u.ScriptPubKey)

	if len(u.RedeemScript) > 0 {
		if !txscript.IsPayToScriptHash(script) {
			return nil, fmt.Errorf("%w: redeem script given for a non-P2SH output", ErrInvalidUTXO)
		}
		if !bytes.Equal(btcutil.Hash160(u.RedeemScript), script[2:22]) {
			return nil, fmt.Errorf("%w: redeem script does not match output script", ErrInvalidUTXO)
		}
		ms, err := ParseRedeemScript(u.RedeemScript)
		if err != nil {
			return nil, err
		}
		return &spendInfo{pkScript: script, subscript: u.RedeemScript, multisig: ms}, nil
	}

	if txscript.IsPayToPubKeyHash(script) {
		return &spendInfo{pkScript: script, subscript: script}, nil
	}
	if txscript.IsPayToScriptHash(script) {
		return nil, fmt.Errorf("%w: P2SH output without redeem script", ErrInvalidUTXO)
	}
	return nil, fmt.Errorf("%w: unsupported output script %x", ErrInvalidUTXO, script)
}

// SignInput signs input idx of tx with key.
func SignInput(tx *UnsignedTransaction, idx int, key *btcec.PrivateKey) (*Signature, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil key", ErrSigning)
	}
	if idx < 0 || idx >= len(tx.Inputs) {
		return nil, fmt.Errorf("%w: input %d out of range", ErrSigning, idx)
	}

	info, err := inputSpendInfo(&tx.Inputs[idx])
	if err != nil {
		return nil, err
	}
	pubKey := key.PubKey().SerializeCompressed()
	if !info.canSign(pubKey) {
		return nil, fmt.Errorf("%w: key does not match input %d", ErrSigning, idx)
	}

	msgTx, err := tx.MsgTx()
	if err != nil {
		return nil, err
	}
	sig, err := txscript.RawTxInSignature(msgTx, idx, info.subscript, txscript.SigHashAll, key)
	if err != nil {
		return nil, fmt.Errorf("%w: input %d: %v", ErrSigning, idx, err)
	}

	return &Signature{
		InputIndex: idx,
		PubKey:     pubKey,
		DER:        sig[:len(sig)-1],
		HashType:   txscript.SigHashAll,
	}, nil
}

// ValidateSignature reports whether sig is a valid signature of its input
// by a key allowed to spend it.
func ValidateSignature(tx *UnsignedTransaction, sig *Signature) bool {
	msgTx, err := tx.MsgTx()
	if err != nil {
		return false
	}
	return validateSignature(tx, msgTx, sig)
}

func validateSignature(tx *UnsignedTransaction, msgTx *wire.MsgTx, sig *Signature) bool {
	if sig == nil || sig.HashType != txscript.SigHashAll {
		return false
	}
	if sig.InputIndex < 0 || sig.InputIndex >= len(tx.Inputs) {
		return false
	}

	info, err := inputSpendInfo(&tx.Inputs[sig.InputIndex])
	if err != nil || !info.canSign(sig.PubKey) {
		return false
	}

	pubKey, err := btcec.ParsePubKey(sig.PubKey)
	if err != nil {
		return false
	}
	parsed, err := ecdsa.ParseDERSignature(sig.DER)
	if err != nil {
		return false
	}
	hash, err := txscript.CalcSignatureHash(info.subscript, sig.HashType, msgTx, sig.InputIndex)
	if err != nil {
		return false
	}
	return parsed.Verify(hash, pubKey)
}

// Finalize embeds sigs into the signature scripts of tx and serializes it.
// Invalid signatures are ignored; an input without enough valid ones fails
// with ErrIncompleteSignatureSet. tx is not modified.
func Finalize(tx *UnsignedTransaction, sigs []*Signature) (*FinalizedTransaction, error) {
	msgTx, err := tx.MsgTx()
	if err != nil {
		return nil, err
	}

	byInput := make([]map[string][]byte, len(tx.Inputs))
	for _, sig := range sigs {
		if !validateSignature(tx, msgTx, sig) {
			continue
		}
		if byInput[sig.InputIndex] == nil {
			byInput[sig.InputIndex] = make(map[string][]byte)
		}
		byInput[sig.InputIndex][string(sig.PubKey)] = append(bytes.Clone(sig.DER), byte(sig.HashType))
	}

	sigScripts := make([][]byte, len(tx.Inputs))
	for i := range tx.Inputs {
		info, err := inputSpendInfo(&tx.Inputs[i])
		if err != nil {
			return nil, err
		}
		script, err := unlockingScript(info, byInput[i])
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		sigScripts[i] = script
	}
	for i, script := range sigScripts {
		msgTx.TxIn[i].SignatureScript = script
	}

	if err := verifyScripts(tx, msgTx); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(msgTx.SerializeSize())
	if err := msgTx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	return &FinalizedTransaction{
		Raw:  hex.EncodeToString(buf.Bytes()),
		TxID: msgTx.TxHash().String(),
	}, nil
}

// unlockingScript builds <sig> <pubkey> or OP_0 <sig...> <redeemScript>.
// Multisig signatures are ordered like the keys of the redeem script.
func unlockingScript(info *spendInfo, sigs map[string][]byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()

	if info.multisig == nil {
		// Only the key hashing to the output can have a valid signature
		if len(sigs) == 0 {
			return nil, fmt.Errorf("%w: 0 of 1 signatures", ErrIncompleteSignatureSet)
		}
		var pubKey string
		for k := range sigs {
			pubKey = k
		}
		builder.AddData(sigs[pubKey]).AddData([]byte(pubKey))
		return builder.Script()
	}

	builder.AddOp(txscript.OP_0)
	have := 0
	for _, pubKey := range info.multisig.PubKeys {
		if have == info.multisig.M {
			break
		}
		if sig, ok := sigs[string(pubKey)]; ok {
			builder.AddData(sig)
			have++
		}
	}
	if have < info.multisig.M {
		return nil, fmt.Errorf("%w: %d of %d signatures", ErrIncompleteSignatureSet, have, info.multisig.M)
	}
	builder.AddData(info.multisig.RedeemScript)
	return builder.Script()
}

// verifyScripts runs every input through the script engine.
func verifyScripts(tx *UnsignedTransaction, msgTx *wire.MsgTx) error {
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(tx.Inputs))
	for i, in := range tx.Inputs {
		prevOuts[msgTx.TxIn[i].PreviousOutPoint] = wire.NewTxOut(int64(in.Value), in.ScriptPubKey)
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(msgTx, fetcher)

	for i, in := range tx.Inputs {
		vm, err := txscript.NewEngine(in.ScriptPubKey, msgTx, i,
			txscript.StandardVerifyFlags, nil, sigHashes, int64(in.Value), fetcher)
		if err != nil {
			return fmt.Errorf("%w: input %d: %v", ErrSigning, i, err)
		}
		if err := vm.Execute(); err != nil {
			return fmt.Errorf("%w: input %d: %v", ErrSigning, i, err)
		}
	}
	return nil
}

// DecodeFinalized parses a serialized transaction.
func DecodeFinalized(rawHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	msgTx := wire.NewMsgTx(wire.TxVersion)
	r := bytes.NewReader(raw)
	if err := msgTx.Deserialize(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrSerialization, r.Len())
	}
	return msgTx, nil
}

// SigningState is the progress of a SigningSession.
type SigningState int

const (
	StateUnsigned SigningState = iota
	StatePartiallySigned
	StateFullySigned
	StateFinalized
)

func (s SigningState) String() string {
	switch s {
	case StateUnsigned:
		return "unsigned"
	case StatePartiallySigned:
		return "partially_signed"
	case StateFullySigned:
		return "fully_signed"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("SigningState(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s SigningState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SigningSession collects signatures for one transaction until it is
// finalized. It is not safe for concurrent use.
type SigningSession struct {
	tx        *UnsignedTransaction
	sigs      []*Signature
	finalized *FinalizedTransaction
}

// NewSigningSession starts collecting signatures for tx.
func NewSigningSession(tx *UnsignedTransaction) *SigningSession {
	return &SigningSession{tx: tx}
}

// Tx returns the transaction being signed.
func (s *SigningSession) Tx() *UnsignedTransaction {
	return s.tx
}

// AddSignature records a validated signature. A repeated signature for the
// same input and key replaces the earlier one.
func (s *SigningSession) AddSignature(sig *Signature) error {
	if s.finalized != nil {
		return ErrFinalized
	}
	if sig == nil {
		return fmt.Errorf("%w: nil signature", ErrSigning)
	}
	if !ValidateSignature(s.tx, sig) {
		return fmt.Errorf("%w: invalid signature for input %d", ErrSigning, sig.InputIndex)
	}

	for i, have := range s.sigs {
		if have.InputIndex == sig.InputIndex && bytes.Equal(have.PubKey, sig.PubKey) {
			s.sigs[i] = sig
			return nil
		}
	}
	s.sigs = append(s.sigs, sig)
	return nil
}

// Sign signs input idx with key and records the signature.
func (s *SigningSession) Sign(idx int, key *btcec.PrivateKey) (*Signature, error) {
	if s.finalized != nil {
		return nil, ErrFinalized
	}
	sig, err := SignInput(s.tx, idx, key)
	if err != nil {
		return nil, err
	}
	if err := s.AddSignature(sig); err != nil {
		return nil, err
	}
	return sig, nil
}

// Signatures returns the recorded signatures.
func (s *SigningSession) Signatures() []*Signature {
	out := make([]*Signature, len(s.sigs))
	copy(out, s.sigs)
	return out
}

// State returns the signing progress.
func (s *SigningSession) State() SigningState {
	if s.finalized != nil {
		return StateFinalized
	}
	if len(s.sigs) == 0 {
		return StateUnsigned
	}

	counts := make([]int, len(s.tx.Inputs))
	for _, sig := range s.sigs {
		counts[sig.InputIndex]++
	}
	for i := range s.tx.Inputs {
		info, err := inputSpendInfo(&s.tx.Inputs[i])
		if err != nil || counts[i] < info.required() {
			return StatePartiallySigned
		}
	}
	return StateFullySigned
}

// Finalize serializes the transaction. Further signatures are refused once
// it succeeds.
func (s *SigningSession) Finalize() (*FinalizedTransaction, error) {
	if s.finalized != nil {
		return nil, ErrFinalized
	}
	final, err := Finalize(s.tx, s.sigs)
	if err != nil {
		return nil, err
	}
	s.finalized = final
	return final, nil
}

// Finalized returns the finalized transaction, or nil.
func (s *SigningSession) Finalized() *FinalizedTransaction {
	return s.finalized
}
