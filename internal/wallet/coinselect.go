package wallet

// SelectCoins picks inputs from utxos, in the given order, until they cover
// outputs plus the fee of a transaction spending them at rate. Callers
// pass UTXOs sorted largest first to keep transactions small.
func (b Builder) SelectCoins(utxos []UTXO, outputs []Output, rate uint64) ([]UTXO, error) {
	if err := ValidateRate(rate); err != nil {
		return nil, err
	}

	var target uint64
	for _, out := range outputs {
		target += out.Value
	}

	nOutputs := len(outputs)
	if b.ReserveChangeSlot {
		nOutputs++
	}

	var total uint64
	for i, u := range utxos {
		total += u.Value
		required := target + Fee(EstimateSize(i+1, nOutputs), rate)
		if total >= required {
			selected := make([]UTXO, i+1)
			copy(selected, utxos[:i+1])
			return selected, nil
		}
	}

	n := len(utxos)
	if n == 0 {
		n = 1
	}
	return nil, &InsufficientFundsError{
		Available: total,
		Required:  target + Fee(EstimateSize(n, nOutputs), rate),
	}
}
