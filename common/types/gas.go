package types

import "math/big"

// DefaultDeviationPercent is the allowed distance, in percent, between client
// gas parameters and the values observed on the network.
const DefaultDeviationPercent = 10

// GasBounds captures the network-observed gas values a request is checked against.
// It is computed fresh for every request.
type GasBounds struct {
	CurrentNetworkGasPrice  *big.Int
	EstimatedGasLimit       uint64
	AllowedDeviationPercent uint64
}

// Band returns the inclusive [lower, upper] range around center.
//
// Parameters:
// - center: the network-observed value.
//
// Returns:
// - *big.Int: center * (100 - d) / 100.
// - *big.Int: center * (100 + d) / 100.
func (b *GasBounds) Band(center *big.Int) (*big.Int, *big.Int) {
	deviation := new(big.Int).SetUint64(b.AllowedDeviationPercent)
	hundred := big.NewInt(100)

	lower := new(big.Int).Sub(hundred, deviation)
	if lower.Sign() < 0 {
		lower.SetInt64(0)
	}
	lower.Mul(lower, center)
	lower.Div(lower, hundred)

	upper := new(big.Int).Add(hundred, deviation)
	upper.Mul(upper, center)
	upper.Div(upper, hundred)

	return lower, upper
}

// GasPriceWithin reports whether price falls in the band around the network gas price.
func (b *GasBounds) GasPriceWithin(price *big.Int) bool {
	if price == nil || b.CurrentNetworkGasPrice == nil {
		return false
	}
	lower, upper := b.Band(b.CurrentNetworkGasPrice)
	return price.Cmp(lower) >= 0 && price.Cmp(upper) <= 0
}

// GasLimitWithin reports whether limit falls in the band around the estimated gas limit.
func (b *GasBounds) GasLimitWithin(limit uint64) bool {
	lower, upper := b.Band(new(big.Int).SetUint64(b.EstimatedGasLimit))
	value := new(big.Int).SetUint64(limit)
	return value.Cmp(lower) >= 0 && value.Cmp(upper) <= 0
}
