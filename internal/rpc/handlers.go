package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paybyt/paybyt-wallet/internal/chain"
	"github.com/paybyt/paybyt-wallet/internal/wallet"
	"github.com/paybyt/paybyt-wallet/pkg/helpers"
	"github.com/shopspring/decimal"
)

// Version of the daemon
const Version = "0.1.0-dev"

// ========================================
// Multisig handlers
// ========================================

// MultisigCreateParams is the parameters for multisig_create.
type MultisigCreateParams struct {
	M       int           `json:"m"`
	PubKeys []string      `json:"pubkeys"`           // hex, compressed
	Sort    bool          `json:"sort,omitempty"`    // order keys lexicographically (BIP67)
	Network chain.Network `json:"network,omitempty"` // defaults to the wallet network
}

// MultisigResult is the response for multisig_create and multisig_escrow.
type MultisigResult struct {
	Address      string   `json:"address"`
	RedeemScript string   `json:"redeem_script"`
	M            int      `json:"m"`
	N            int      `json:"n"`
	PubKeys      []string `json:"pubkeys"`
}

func (s *Server) multisigNetwork(network chain.Network) (chain.Network, error) {
	if network != "" {
		return network, nil
	}
	if s.wallet == nil {
		return "", invalidParams("network is required")
	}
	return s.wallet.Network(), nil
}

func multisigResult(ms *wallet.MultisigScript, network chain.Network) (*MultisigResult, error) {
	addr, err := wallet.ScriptAddress(ms, network)
	if err != nil {
		return nil, err
	}
	return &MultisigResult{
		Address:      addr.String(),
		RedeemScript: ms.RedeemScriptHex(),
		M:            ms.M,
		N:            ms.N,
		PubKeys:      ms.PubKeysHex(),
	}, nil
}

func (s *Server) multisigCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p MultisigCreateParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	network, err := s.multisigNetwork(p.Network)
	if err != nil {
		return nil, err
	}

	keys, err := wallet.ParsePubKeysHex(p.PubKeys)
	if err != nil {
		return nil, err
	}
	if p.Sort {
		keys = wallet.SortPubKeys(keys)
	}

	ms, err := wallet.BuildRedeemScript(p.M, keys)
	if err != nil {
		return nil, err
	}
	return multisigResult(ms, network)
}

// MultisigEscrowParams is the parameters for multisig_escrow.
type MultisigEscrowParams struct {
	Buyer   string        `json:"buyer"`
	Seller  string        `json:"seller"`
	Arbiter string        `json:"arbiter"`
	Network chain.Network `json:"network,omitempty"`
}

func (s *Server) multisigEscrow(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p MultisigEscrowParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	network, err := s.multisigNetwork(p.Network)
	if err != nil {
		return nil, err
	}

	keys, err := wallet.ParsePubKeysHex([]string{p.Buyer, p.Seller, p.Arbiter})
	if err != nil {
		return nil, err
	}

	ms, err := wallet.EscrowScript(keys[0], keys[1], keys[2])
	if err != nil {
		return nil, err
	}
	return multisigResult(ms, network)
}

// ========================================
// Fiat handlers
// ========================================

// AmountFiatToSatsParams is the parameters for amount_fiatToSats.
type AmountFiatToSatsParams struct {
	Amount   string `json:"amount"`              // decimal string, e.g. "25.50"
	Currency string `json:"currency,omitempty"` // defaults to the configured currency
}

// AmountFiatToSatsResult is the response for amount_fiatToSats.
type AmountFiatToSatsResult struct {
	Satoshis uint64 `json:"satoshis"`
	BTC      string `json:"btc"`
	Currency string `json:"currency"`
	PerBTC   string `json:"per_btc"`
}

func (s *Server) amountFiatToSats(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, errNoWallet
	}

	var p AmountFiatToSatsParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return nil, invalidParams("invalid amount %q", p.Amount)
	}

	sats, price, err := s.wallet.FiatToSatoshis(ctx, amount, p.Currency)
	if err != nil {
		return nil, fmt.Errorf("failed to convert amount: %w", err)
	}

	return &AmountFiatToSatsResult{
		Satoshis: sats,
		BTC:      helpers.SatoshisToBTC(sats),
		Currency: price.Currency,
		PerBTC:   price.PerBTC.String(),
	}, nil
}
