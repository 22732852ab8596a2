package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/paybyt/paybyt-wallet/internal/chain"
	"github.com/paybyt/paybyt-wallet/internal/wallet"
	"github.com/paybyt/paybyt-wallet/pkg/helpers"
)

// ========================================
// Transaction handlers
// ========================================

// feeRateOrDefault returns rate, or the configured rate if zero.
func (s *Server) feeRateOrDefault(rate uint64) uint64 {
	if rate == 0 {
		return s.feeRate
	}
	return rate
}

// TxEstimateFeeParams is the parameters for tx_estimateFee.
type TxEstimateFeeParams struct {
	Inputs  int    `json:"inputs"`
	Outputs int    `json:"outputs"`
	FeeRate uint64 `json:"fee_rate,omitempty"`
}

// TxEstimateFeeResult is the response for tx_estimateFee.
type TxEstimateFeeResult struct {
	Size    int    `json:"size"`
	FeeRate uint64 `json:"fee_rate"`
	Fee     uint64 `json:"fee"`
}

func (s *Server) txEstimateFee(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p TxEstimateFeeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Inputs <= 0 || p.Outputs <= 0 {
		return nil, invalidParams("inputs and outputs must be positive")
	}

	rate := s.feeRateOrDefault(p.FeeRate)
	if err := wallet.ValidateRate(rate); err != nil {
		return nil, err
	}

	size := wallet.EstimateSize(p.Inputs, p.Outputs)
	return &TxEstimateFeeResult{
		Size:    size,
		FeeRate: rate,
		Fee:     wallet.Fee(size, rate),
	}, nil
}

// TxBuildParams is the parameters for tx_build.
type TxBuildParams struct {
	UTXOs             []wallet.UTXO   `json:"utxos"`
	Outputs           []wallet.Output `json:"outputs"`
	FeeRate           uint64          `json:"fee_rate,omitempty"`
	ChangeAddress     string          `json:"change_address"`
	LockTime          uint32          `json:"locktime,omitempty"`
	ReserveChangeSlot *bool           `json:"reserve_change_slot,omitempty"`
}

// TxBuildResult is the response for tx_build.
type TxBuildResult struct {
	Tx   *wallet.UnsignedTransaction `json:"tx"`
	PSBT string                      `json:"psbt"`
}

func (s *Server) txBuild(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}

	var p TxBuildParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if len(p.UTXOs) == 0 {
		return nil, invalidParams("utxos are required")
	}
	if p.ChangeAddress == "" {
		return nil, invalidParams("change_address is required")
	}

	builder := s.wallet.Builder()
	if p.ReserveChangeSlot != nil {
		builder.ReserveChangeSlot = *p.ReserveChangeSlot
	}

	tx, err := builder.Build(&wallet.BuildRequest{
		UTXOs:         p.UTXOs,
		Outputs:       p.Outputs,
		FeeRate:       s.feeRateOrDefault(p.FeeRate),
		ChangeAddress: p.ChangeAddress,
		Network:       s.wallet.Network(),
		LockTime:      p.LockTime,
	})
	if err != nil {
		return nil, err
	}

	packet, err := wallet.ExportPSBT(tx)
	if err != nil {
		return nil, err
	}

	return &TxBuildResult{Tx: tx, PSBT: packet}, nil
}

// TxPrepareParams is the parameters for tx_prepare and tx_send.
type TxPrepareParams struct {
	Outputs []wallet.Output `json:"outputs"`
	FeeRate uint64          `json:"fee_rate,omitempty"`
}

func (p *TxPrepareParams) request(defaultRate uint64) *wallet.SendRequest {
	rate := p.FeeRate
	if rate == 0 {
		rate = defaultRate
	}
	return &wallet.SendRequest{Outputs: p.Outputs, FeeRate: rate}
}

func (s *Server) txPrepare(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}

	var p TxPrepareParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if len(p.Outputs) == 0 {
		return nil, invalidParams("outputs are required")
	}

	return s.wallet.Prepare(p.request(s.feeRate))
}

// TxIDParams identifies a pending transaction.
type TxIDParams struct {
	ID string `json:"id"`
}

func decodeID(params json.RawMessage) (string, error) {
	var p TxIDParams
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	if p.ID == "" {
		return "", invalidParams("id is required")
	}
	return p.ID, nil
}

func (s *Server) txGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}
	id, err := decodeID(params)
	if err != nil {
		return nil, err
	}
	return s.wallet.Pending(id)
}

func (s *Server) txListPending(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}
	pending := s.wallet.ListPending()
	if pending == nil {
		pending = []*wallet.PendingTx{}
	}
	return map[string]interface{}{
		"pending": pending,
		"count":   len(pending),
	}, nil
}

func (s *Server) txSign(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}
	id, err := decodeID(params)
	if err != nil {
		return nil, err
	}
	return s.wallet.Sign(id)
}

// TxAddSignatureParams is the parameters for tx_addSignature.
type TxAddSignatureParams struct {
	ID        string            `json:"id"`
	Signature *wallet.Signature `json:"signature"`
}

func (s *Server) txAddSignature(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}

	var p TxAddSignatureParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" || p.Signature == nil {
		return nil, invalidParams("id and signature are required")
	}

	return s.wallet.AddSignature(p.ID, p.Signature)
}

// TxSignWithKeyParams is the parameters for tx_signWithKey.
type TxSignWithKeyParams struct {
	Tx  *wallet.UnsignedTransaction `json:"tx"`
	WIF string                      `json:"wif"`
}

// TxSignaturesResult carries detached signatures.
type TxSignaturesResult struct {
	Signatures []*wallet.Signature `json:"signatures"`
}

func (s *Server) txSignWithKey(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p TxSignWithKeyParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Tx == nil || p.WIF == "" {
		return nil, invalidParams("tx and wif are required")
	}

	key, err := wallet.WIFToPrivateKey(p.WIF, p.Tx.Network)
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	sigs, err := wallet.SignWithKey(p.Tx, key)
	if err != nil {
		return nil, err
	}
	return &TxSignaturesResult{Signatures: sigs}, nil
}

// TxFinalizeParams is the parameters for tx_finalize. Either ID names a
// pending transaction or Tx and Signatures are finalized directly.
type TxFinalizeParams struct {
	ID         string                      `json:"id,omitempty"`
	Tx         *wallet.UnsignedTransaction `json:"tx,omitempty"`
	Signatures []*wallet.Signature         `json:"signatures,omitempty"`
}

func (s *Server) txFinalize(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p TxFinalizeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	switch {
	case p.ID != "":
		if s.wallet == nil {
			return nil, errNoWallet
		}
		return s.wallet.Finalize(p.ID)
	case p.Tx != nil:
		return wallet.Finalize(p.Tx, p.Signatures)
	default:
		return nil, invalidParams("id or tx is required")
	}
}

func (s *Server) txAbandon(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}
	id, err := decodeID(params)
	if err != nil {
		return nil, err
	}
	if err := s.wallet.Abandon(id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true}, nil
}

// TxBroadcastParams is the parameters for tx_broadcast. Either ID names a
// finalized pending transaction or Hex is a raw signed transaction.
type TxBroadcastParams struct {
	ID  string `json:"id,omitempty"`
	Hex string `json:"hex,omitempty"`
}

// TxBroadcastResult is the response for tx_broadcast and tx_send.
type TxBroadcastResult struct {
	TxID     string `json:"txid"`
	Explorer string `json:"explorer"`
}

func (s *Server) txBroadcast(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}

	var p TxBroadcastParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	var (
		txid string
		err  error
	)
	switch {
	case p.ID != "":
		txid, err = s.wallet.Broadcast(ctx, p.ID)
	case p.Hex != "":
		txid, err = s.wallet.BroadcastRaw(ctx, p.Hex)
	default:
		return nil, invalidParams("id or hex is required")
	}
	if errors.Is(err, wallet.ErrSpendNotRecorded) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to broadcast: %w", err)
	}

	return &TxBroadcastResult{TxID: txid, Explorer: s.wallet.Params().ExplorerTxURL(txid)}, nil
}

func (s *Server) txSend(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}

	var p TxPrepareParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if len(p.Outputs) == 0 {
		return nil, invalidParams("outputs are required")
	}

	txid, err := s.wallet.Send(ctx, p.request(s.feeRate))
	if err != nil {
		return nil, err
	}
	return &TxBroadcastResult{TxID: txid, Explorer: s.wallet.Params().ExplorerTxURL(txid)}, nil
}

// TxDecodeParams is the parameters for tx_decode.
type TxDecodeParams struct {
	Hex     string        `json:"hex"`
	Network chain.Network `json:"network,omitempty"`
}

// DecodedInput is one input of a decoded transaction.
type DecodedInput struct {
	TxID      string `json:"txid"`
	Vout      uint32 `json:"vout"`
	ScriptSig string `json:"script_sig"`
	Sequence  uint32 `json:"sequence"`
}

// DecodedOutput is one output of a decoded transaction.
type DecodedOutput struct {
	Value        uint64 `json:"value"`
	ScriptPubKey string `json:"script_pubkey"`
	Address      string `json:"address,omitempty"`
}

// TxDecodeResult is the response for tx_decode.
type TxDecodeResult struct {
	TxID     string          `json:"txid"`
	Version  int32           `json:"version"`
	LockTime uint32          `json:"locktime"`
	Size     int             `json:"size"`
	Inputs   []DecodedInput  `json:"inputs"`
	Outputs  []DecodedOutput `json:"outputs"`
}

func (s *Server) txDecode(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p TxDecodeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Hex == "" {
		return nil, invalidParams("hex is required")
	}

	network := p.Network
	if network == "" && s.wallet != nil {
		network = s.wallet.Network()
	}
	netParams, ok := chain.Get(network)
	if !ok {
		return nil, invalidParams("unknown network %q", network)
	}

	msgTx, err := wallet.DecodeFinalized(p.Hex)
	if err != nil {
		return nil, err
	}

	result := &TxDecodeResult{
		TxID:     msgTx.TxHash().String(),
		Version:  msgTx.Version,
		LockTime: msgTx.LockTime,
		Size:     msgTx.SerializeSize(),
		Inputs:   make([]DecodedInput, 0, len(msgTx.TxIn)),
		Outputs:  make([]DecodedOutput, 0, len(msgTx.TxOut)),
	}
	for _, in := range msgTx.TxIn {
		result.Inputs = append(result.Inputs, DecodedInput{
			TxID:      in.PreviousOutPoint.Hash.String(),
			Vout:      in.PreviousOutPoint.Index,
			ScriptSig: wallet.HexBytes(in.SignatureScript).String(),
			Sequence:  in.Sequence,
		})
	}
	for _, out := range msgTx.TxOut {
		decoded := DecodedOutput{
			Value:        uint64(out.Value),
			ScriptPubKey: wallet.HexBytes(out.PkScript).String(),
		}
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, netParams.ChainParams())
		if err == nil && len(addrs) == 1 {
			decoded.Address = addrs[0].EncodeAddress()
		}
		result.Outputs = append(result.Outputs, decoded)
	}

	return result, nil
}

// TxExportPSBTParams is the parameters for tx_exportPSBT.
type TxExportPSBTParams struct {
	ID string                      `json:"id,omitempty"`
	Tx *wallet.UnsignedTransaction `json:"tx,omitempty"`
}

func (s *Server) txExportPSBT(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p TxExportPSBTParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	tx := p.Tx
	if p.ID != "" {
		if s.wallet == nil {
			return nil, errNoWallet
		}
		pending, err := s.wallet.Pending(p.ID)
		if err != nil {
			return nil, err
		}
		tx = pending.Tx
	}
	if tx == nil {
		return nil, invalidParams("id or tx is required")
	}

	packet, err := wallet.ExportPSBT(tx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"psbt": packet}, nil
}

// TxImportPSBTParams is the parameters for tx_importPSBT.
type TxImportPSBTParams struct {
	PSBT  string        `json:"psbt"`
	UTXOs []wallet.UTXO `json:"utxos"`
}

func (s *Server) txImportPSBT(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}

	var p TxImportPSBTParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.PSBT == "" {
		return nil, invalidParams("psbt is required")
	}

	return wallet.ImportPSBT(p.PSBT, p.UTXOs, s.wallet.Network())
}

// ========================================
// Amount handlers
// ========================================

// AmountConvertParams is the parameters for amount_convert. Exactly one of
// Satoshis or BTC must be set.
type AmountConvertParams struct {
	Satoshis *uint64 `json:"satoshis,omitempty"`
	BTC      string  `json:"btc,omitempty"`
}

// AmountConvertResult is the response for amount_convert.
type AmountConvertResult struct {
	Satoshis uint64 `json:"satoshis"`
	BTC      string `json:"btc"`
}

func (s *Server) amountConvert(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p AmountConvertParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	switch {
	case p.Satoshis != nil && p.BTC == "":
		return &AmountConvertResult{Satoshis: *p.Satoshis, BTC: helpers.SatoshisToBTC(*p.Satoshis)}, nil
	case p.Satoshis == nil && p.BTC != "":
		sats, err := helpers.BTCToSatoshis(p.BTC)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", wallet.ErrInvalidAmount, err)
		}
		return &AmountConvertResult{Satoshis: sats, BTC: helpers.SatoshisToBTC(sats)}, nil
	default:
		return nil, invalidParams("exactly one of satoshis or btc is required")
	}
}
