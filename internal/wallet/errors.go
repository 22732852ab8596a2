package wallet

import (
	"errors"
	"fmt"
)

// Engine errors. Context is attached with fmt.Errorf("%w: ...") so callers
// match with errors.Is.
var (
	ErrInvalidMnemonic        = errors.New("invalid mnemonic")
	ErrDerivation             = errors.New("key derivation failed")
	ErrInvalidIndex           = fmt.Errorf("%w: index out of range", ErrDerivation)
	ErrInvalidAddress         = errors.New("invalid address")
	ErrNetworkMismatch        = errors.New("network mismatch")
	ErrMultisigConfig         = errors.New("invalid multisig configuration")
	ErrFeeTooLow              = errors.New("fee rate too low")
	ErrFeeTooHigh             = errors.New("fee rate too high")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrSigning                = errors.New("signing failed")
	ErrIncompleteSignatureSet = errors.New("incomplete signature set")
	ErrSerialization          = errors.New("serialization failed")

	ErrInvalidUTXO   = errors.New("invalid utxo")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrDustOutput    = errors.New("output below dust threshold")
	ErrFinalized     = errors.New("transaction already finalized")

	ErrWalletLocked = errors.New("wallet not loaded")
)

// InsufficientFundsError reports how much was available and how much the
// transaction needed, fee included.
type InsufficientFundsError struct {
	Available uint64
	Required  uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: have %d, need %d", e.Available, e.Required)
}

// Is makes errors.Is(err, ErrInsufficientFunds) match.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Shortfall returns Required - Available.
func (e *InsufficientFundsError) Shortfall() uint64 {
	return e.Required - e.Available
}

// IsRecoverable reports whether the caller can fix the request and retry:
// more funds, another fee rate, a larger amount or the right network.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{
		ErrInsufficientFunds,
		ErrFeeTooLow,
		ErrFeeTooHigh,
		ErrDustOutput,
		ErrInvalidAmount,
		ErrNetworkMismatch,
		ErrIncompleteSignatureSet,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsFatal reports whether err indicates bad key material or corrupt
// transaction data that retrying cannot fix.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{
		ErrInvalidMnemonic,
		ErrDerivation,
		ErrInvalidUTXO,
		ErrSerialization,
		ErrSigning,
		ErrMultisigConfig,
		ErrInvalidAddress,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
