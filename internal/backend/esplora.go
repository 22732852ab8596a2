package backend

import (
	"context"
	"fmt"
	"time"
)

// EsploraBackend reads chain state from an Esplora instance such as
// blockstream.info. Esplora serves the same address, tx and block routes
// as mempool.space but differs in fee estimates and has no price feed.
type EsploraBackend struct {
	*MempoolBackend
}

// NewEsploraBackend creates a backend for baseURL, e.g.
// https://blockstream.info/testnet/api.
func NewEsploraBackend(baseURL string) *EsploraBackend {
	return newEsploraBackend(baseURL, defaultTimeout)
}

func newEsploraBackend(baseURL string, timeout time.Duration) *EsploraBackend {
	return &EsploraBackend{MempoolBackend: newMempoolBackend(baseURL, timeout)}
}

// Type returns TypeEsplora.
func (e *EsploraBackend) Type() Type {
	return TypeEsplora
}

// GetFeeEstimates maps Esplora confirmation targets (in blocks) onto the
// mempool.space buckets.
func (e *EsploraBackend) GetFeeEstimates(ctx context.Context) (*FeeEstimate, error) {
	var byTarget map[string]float64
	if err := e.getJSON(ctx, "/fee-estimates", &byTarget); err != nil {
		return nil, err
	}

	return &FeeEstimate{
		FastestFee:  uint64(byTarget["1"]),
		HalfHourFee: uint64(byTarget["3"]),
		HourFee:     uint64(byTarget["6"]),
		EconomyFee:  uint64(byTarget["144"]),
		MinimumFee:  1,
	}, nil
}

// GetPrice always fails: Esplora has no price endpoint.
func (e *EsploraBackend) GetPrice(ctx context.Context, currency string) (*Price, error) {
	return nil, fmt.Errorf("%w: esplora has no price endpoint", ErrPriceUnavailable)
}

var _ Backend = (*EsploraBackend)(nil)
