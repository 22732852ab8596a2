package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

// Legacy transaction size model, in bytes. InputSize is the average
// P2PKH input; txsizes.RedeemP2PKHInputSize is the 149 byte worst case.
const (
	TxOverheadSize = 10 // version, locktime, counts
	InputSize      = 148
	OutputSize     = txsizes.P2PKHOutputSize // 34
)

// Accepted fee rate range in sat/byte, inclusive.
const (
	MinFeeRate uint64 = 1
	MaxFeeRate uint64 = 100
)

// EstimateSize returns 10 + 148*inputs + 34*outputs.
func EstimateSize(inputs, outputs int) int {
	return TxOverheadSize + InputSize*inputs + OutputSize*outputs
}

// Fee returns the fee of size bytes at rate sat/byte.
func Fee(size int, rate uint64) uint64 {
	if size <= 0 {
		return 0
	}
	return uint64(size) * rate
}

// ValidateFeeRate checks that fee/size lies within [MinFeeRate, MaxFeeRate].
// The comparison is done on integers so exact bounds pass.
func ValidateFeeRate(fee uint64, size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidAmount, size)
	}
	s := uint64(size)
	if fee < MinFeeRate*s {
		return fmt.Errorf("%w: %d sat for %d bytes is below %d sat/byte", ErrFeeTooLow, fee, size, MinFeeRate)
	}
	if fee > MaxFeeRate*s {
		return fmt.Errorf("%w: %d sat for %d bytes exceeds %d sat/byte", ErrFeeTooHigh, fee, size, MaxFeeRate)
	}
	return nil
}

// ValidateRate checks a caller-supplied fee rate in sat/byte.
func ValidateRate(rate uint64) error {
	if rate < MinFeeRate {
		return fmt.Errorf("%w: %d sat/byte", ErrFeeTooLow, rate)
	}
	if rate > MaxFeeRate {
		return fmt.Errorf("%w: %d sat/byte", ErrFeeTooHigh, rate)
	}
	return nil
}

// IsDust reports whether an output of amount paying to pkScript is
// uneconomical to spend at the default relay fee. For P2PKH outputs the
// threshold is 546 satoshis.
func IsDust(amount uint64, pkScript []byte) bool {
	return txrules.IsDustOutput(wire.NewTxOut(int64(amount), pkScript), txrules.DefaultRelayFeePerKb)
}
