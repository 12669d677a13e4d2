// Package resolver implements the resolver role: a profitability gate and an
// auto-bidding loop over open Dutch auctions.
package resolver

import "github.com/shopspring/decimal"

var bpsDenominator = decimal.NewFromInt(10000)

// IsProfitable decides whether filling an order is worth it. The fee earned
// is orderValue * feeBps / 10000; after subtracting the estimated gas cost
// the net profit must be at least orderValue * minMarginBps / 10000. A
// negative or below-threshold result suppresses bidding entirely.
func IsProfitable(orderValue uint64, feeBps uint16, estimatedGasCost uint64, minMarginBps uint16) bool {
	value := decimal.NewFromUint64(orderValue)

	fee := value.Mul(decimal.NewFromInt(int64(feeBps))).Div(bpsDenominator)
	netProfit := fee.Sub(decimal.NewFromUint64(estimatedGasCost))
	threshold := value.Mul(decimal.NewFromInt(int64(minMarginBps))).Div(bpsDenominator)

	return netProfit.GreaterThanOrEqual(threshold)
}

// Fee returns the resolver fee on an order value, truncated to smallest
// units. Decimal arithmetic: the intermediate product overflows uint64 for
// wei-scale values.
func Fee(orderValue uint64, feeBps uint16) uint64 {
	fee := decimal.NewFromUint64(orderValue).
		Mul(decimal.NewFromInt(int64(feeBps))).
		Div(bpsDenominator).
		Truncate(0)
	return fee.BigInt().Uint64()
}
