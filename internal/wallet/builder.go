package wallet

import (
	"fmt"

	"github.com/paybyt/paybyt-wallet/internal/chain"
	"github.com/paybyt/paybyt-wallet/pkg/helpers"
)

// BuildRequest describes a payment to assemble.
type BuildRequest struct {
	UTXOs         []UTXO        `json:"utxos"`
	Outputs       []Output      `json:"outputs"`
	FeeRate       uint64        `json:"feeRate"` // sat/byte
	ChangeAddress string        `json:"changeAddress"`
	Network       chain.Network `json:"network"`
	LockTime      uint32        `json:"locktime,omitempty"`
}

// Builder assembles unsigned transactions. It holds no state between
// calls and performs no I/O.
type Builder struct {
	// ReserveChangeSlot counts a change output in the size estimate before
	// knowing whether change will be emitted. Without it the estimate only
	// covers the requested outputs.
	ReserveChangeSlot bool
}

// DefaultBuilder reserves the change slot.
var DefaultBuilder = Builder{ReserveChangeSlot: true}

// BuildTransaction assembles req with DefaultBuilder.
func BuildTransaction(req *BuildRequest) (*UnsignedTransaction, error) {
	return DefaultBuilder.Build(req)
}

// Build spends every UTXO of req to its outputs. Change goes to
// req.ChangeAddress unless it is dust, in which case it is left to the fee.
func (b Builder) Build(req *BuildRequest) (*UnsignedTransaction, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidAmount)
	}
	if _, ok := chain.Get(req.Network); !ok {
		return nil, fmt.Errorf("%w: unknown network %q", ErrNetworkMismatch, req.Network)
	}
	if err := ValidateRate(req.FeeRate); err != nil {
		return nil, err
	}
	if len(req.UTXOs) == 0 {
		return nil, fmt.Errorf("%w: no inputs", ErrInvalidUTXO)
	}
	if len(req.Outputs) == 0 {
		return nil, fmt.Errorf("%w: no outputs", ErrInvalidAmount)
	}

	totalIn, err := sumUTXOs(req.UTXOs)
	if err != nil {
		return nil, err
	}
	totalOut, err := checkOutputs(req.Outputs, req.Network)
	if err != nil {
		return nil, err
	}

	changeAddr, err := ValidateNetwork(req.ChangeAddress, req.Network)
	if err != nil {
		return nil, fmt.Errorf("change address: %w", err)
	}
	changeScript, err := changeAddr.PkScript()
	if err != nil {
		return nil, fmt.Errorf("change address: %w", err)
	}

	sizedOutputs := len(req.Outputs)
	if b.ReserveChangeSlot {
		sizedOutputs++
	}
	size := EstimateSize(len(req.UTXOs), sizedOutputs)
	fee := Fee(size, req.FeeRate)

	required := totalOut + fee
	if totalIn < required {
		return nil, &InsufficientFundsError{Available: totalIn, Required: required}
	}

	outputs := make([]Output, len(req.Outputs), len(req.Outputs)+1)
	copy(outputs, req.Outputs)
	inputs := make([]UTXO, len(req.UTXOs))
	copy(inputs, req.UTXOs)

	changeIndex := NoChange
	change := totalIn - required
	if change > 0 && !IsDust(change, changeScript) {
		changeIndex = len(outputs)
		outputs = append(outputs, Output{Address: changeAddr.Encoded, Value: change})
	} else {
		fee += change
	}

	// The rate is checked on the transaction actually returned, which
	// without a reserved slot is one output larger than the estimate.
	finalSize := EstimateSize(len(inputs), len(outputs))
	if err := ValidateFeeRate(fee, finalSize); err != nil {
		return nil, err
	}

	return &UnsignedTransaction{
		Inputs:      inputs,
		Outputs:     outputs,
		LockTime:    req.LockTime,
		Fee:         fee,
		ChangeIndex: changeIndex,
		Network:     req.Network,
		Size:        finalSize,
	}, nil
}

// sumUTXOs validates the inputs and returns their total value.
func sumUTXOs(utxos []UTXO) (uint64, error) {
	seen := make(map[string]bool, len(utxos))
	var total uint64

	for i := range utxos {
		u := &utxos[i]
		if _, err := u.OutPoint(); err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}
		key := fmt.Sprintf("%s:%d", u.TxID, u.Vout)
		if seen[key] {
			return 0, fmt.Errorf("%w: duplicate outpoint %s", ErrInvalidUTXO, key)
		}
		seen[key] = true

		if u.Value == 0 {
			return 0, fmt.Errorf("%w: %s has zero value", ErrInvalidUTXO, key)
		}
		if len(u.ScriptPubKey) == 0 {
			return 0, fmt.Errorf("%w: %s has no scriptPubKey", ErrInvalidUTXO, key)
		}

		total += u.Value
		if total > helpers.MaxSatoshis {
			return 0, fmt.Errorf("%w: inputs exceed the bitcoin supply", ErrInvalidUTXO)
		}
	}
	return total, nil
}

// checkOutputs validates destinations and returns the total paid.
func checkOutputs(outputs []Output, network chain.Network) (uint64, error) {
	var total uint64
	for i, out := range outputs {
		addr, err := ValidateNetwork(out.Address, network)
		if err != nil {
			return 0, fmt.Errorf("output %d: %w", i, err)
		}
		if out.Value == 0 {
			return 0, fmt.Errorf("%w: output %d has zero value", ErrInvalidAmount, i)
		}
		script, err := addr.PkScript()
		if err != nil {
			return 0, fmt.Errorf("output %d: %w", i, err)
		}
		if IsDust(out.Value, script) {
			return 0, fmt.Errorf("%w: output %d pays %d sat", ErrDustOutput, i, out.Value)
		}

		total += out.Value
		if total > helpers.MaxSatoshis {
			return 0, fmt.Errorf("%w: outputs exceed the bitcoin supply", ErrInvalidAmount)
		}
	}
	return total, nil
}
