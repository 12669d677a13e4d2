// Package config provides centralized protocol parameters for Crosslock.
// ALL swap, auction, and fee parameters (chains, windows, depths, margins)
// MUST be defined here. No hardcoded values should exist elsewhere in the
// codebase.
package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// Chain Definitions
// =============================================================================

// ChainKind represents the family of a supported chain.
type ChainKind string

const (
	ChainKindEVM ChainKind = "evm" // ETH, BSC, ARBITRUM, etc.
	ChainKindSim ChainKind = "sim" // in-process simulated ledger
)

// Chain represents a supported chain.
type Chain struct {
	Symbol        string    // e.g., "ETH", "BSC"
	Name          string    // e.g., "Ethereum"
	Kind          ChainKind // Chain family
	Decimals      uint8     // Decimal places of the native asset
	Confirmations uint64    // Required confirmation depth for finality
	AvgBlockTime  time.Duration
	MinAmount     uint64 // Minimum lock amount in smallest unit
	MaxAmount     uint64 // Maximum lock amount in smallest unit (0 = no limit)

	// MinTimelock and MaxTimelock bound the lock window accepted when
	// escrowing. Locks outside the window are rejected as validation errors.
	MinTimelock time.Duration
	MaxTimelock time.Duration
}

// SupportedChains defines all supported chains.
var SupportedChains = map[string]Chain{
	"ETH": {
		Symbol:        "ETH",
		Name:          "Ethereum",
		Kind:          ChainKindEVM,
		Decimals:      18,
		Confirmations: 12,
		AvgBlockTime:  12 * time.Second,
		MinAmount:     1000000000000000, // 0.001 ETH
		MaxAmount:     0,
		MinTimelock:   30 * time.Minute,
		MaxTimelock:   48 * time.Hour,
	},
	"BSC": {
		Symbol:        "BNB",
		Name:          "BNB Smart Chain",
		Kind:          ChainKindEVM,
		Decimals:      18,
		Confirmations: 15,
		AvgBlockTime:  3 * time.Second,
		MinAmount:     1000000000000000,
		MaxAmount:     0,
		MinTimelock:   30 * time.Minute,
		MaxTimelock:   48 * time.Hour,
	},
	"ARBITRUM": {
		Symbol:        "ETH",
		Name:          "Arbitrum One",
		Kind:          ChainKindEVM,
		Decimals:      18,
		Confirmations: 12,
		AvgBlockTime:  time.Second / 4,
		MinAmount:     1000000000000000,
		MaxAmount:     0,
		MinTimelock:   30 * time.Minute,
		MaxTimelock:   48 * time.Hour,
	},
	"BASE": {
		Symbol:        "ETH",
		Name:          "Base",
		Kind:          ChainKindEVM,
		Decimals:      18,
		Confirmations: 12,
		AvgBlockTime:  2 * time.Second,
		MinAmount:     1000000000000000,
		MaxAmount:     0,
		MinTimelock:   30 * time.Minute,
		MaxTimelock:   48 * time.Hour,
	},
	"SIMA": {
		Symbol:        "SIMA",
		Name:          "Simulated Chain A",
		Kind:          ChainKindSim,
		Decimals:      8,
		Confirmations: 2,
		AvgBlockTime:  time.Second,
		MinAmount:     1000,
		MaxAmount:     0,
		MinTimelock:   time.Minute,
		MaxTimelock:   72 * time.Hour,
	},
	"SIMB": {
		Symbol:        "SIMB",
		Name:          "Simulated Chain B",
		Kind:          ChainKindSim,
		Decimals:      8,
		Confirmations: 2,
		AvgBlockTime:  time.Second,
		MinAmount:     1000,
		MaxAmount:     0,
		MinTimelock:   time.Minute,
		MaxTimelock:   72 * time.Hour,
	},
}

// GetChain returns the chain definition for a given symbol.
func GetChain(symbol string) (Chain, bool) {
	chain, ok := SupportedChains[symbol]
	return chain, ok
}

// IsChainSupported returns true if the chain is supported.
func IsChainSupported(symbol string) bool {
	_, ok := SupportedChains[symbol]
	return ok
}

// ListSupportedChains returns a list of all supported chain symbols.
func ListSupportedChains() []string {
	chains := make([]string, 0, len(SupportedChains))
	for symbol := range SupportedChains {
		chains = append(chains, symbol)
	}
	return chains
}

// =============================================================================
// Swap Configuration
// =============================================================================

// SwapConfig holds swap timing and security parameters.
type SwapConfig struct {
	// SourceWindow is how long the initiator's funds are locked on the
	// source chain. Must exceed DestWindow by at least SafetyMargin.
	SourceWindow time.Duration

	// DestWindow is how long the counterparty's funds are locked on the
	// destination chain.
	DestWindow time.Duration

	// SafetyMargin is the minimum gap between the two windows. The
	// destination lock must expire this long before the source lock so the
	// initiator can never claim on the destination and still refund on the
	// source.
	SafetyMargin time.Duration

	// CompleteGuard is how close to a lock's deadline a withdraw is still
	// attempted. Inside the guard the swap fails instead of racing the
	// refund.
	CompleteGuard time.Duration

	// SecretSize is the size of the swap secret in bytes.
	SecretSize int

	// FinalityCeiling caps how long a finality wait may block before it is
	// reported as a timeout outcome.
	FinalityCeiling time.Duration

	// SweepInterval is the period of the deadline sweep backstop.
	SweepInterval time.Duration
}

// DefaultSwapConfig returns the default swap configuration.
func DefaultSwapConfig() SwapConfig {
	return SwapConfig{
		SourceWindow:    24 * time.Hour,
		DestWindow:      12 * time.Hour,
		SafetyMargin:    2 * time.Hour,
		CompleteGuard:   10 * time.Minute,
		SecretSize:      32, // 32 bytes (256 bits)
		FinalityCeiling: 30 * time.Minute,
		SweepInterval:   30 * time.Second,
	}
}

// ValidateWindows checks the asymmetric timelock invariant for a pair of
// deadlines: the destination lock must expire at least safetyMargin before
// the source lock.
func ValidateWindows(srcDeadline, dstDeadline time.Time, safetyMargin time.Duration) bool {
	return dstDeadline.Add(safetyMargin).Before(srcDeadline) ||
		dstDeadline.Add(safetyMargin).Equal(srcDeadline)
}

// IsSafeToComplete checks if it's safe to attempt a withdraw given the lock
// deadline. Returns false inside the guard window, where both withdraw and
// refund could land.
func IsSafeToComplete(now, deadline time.Time, guard time.Duration) bool {
	return now.Add(guard).Before(deadline)
}

// =============================================================================
// Fee Configuration
// =============================================================================

// FeeConfig holds protocol fee parameters.
type FeeConfig struct {
	// ProtocolFeeBPS is the protocol fee in basis points (100 = 1%).
	ProtocolFeeBPS uint16
}

// DefaultFeeConfig returns the default fee configuration.
// Protocol fee: 0.3%.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		ProtocolFeeBPS: 30, // 0.3%
	}
}

// CalculateFee calculates the fee amount for a given order value, truncated
// to smallest units. Computed in decimal: value * bps overflows uint64 for
// wei-scale values.
func (f FeeConfig) CalculateFee(value uint64) uint64 {
	fee := decimal.NewFromUint64(value).
		Mul(decimal.NewFromInt(int64(f.ProtocolFeeBPS))).
		Div(decimal.NewFromInt(10000)).
		Truncate(0)
	return fee.BigInt().Uint64()
}

// =============================================================================
// Auction Configuration
// =============================================================================

// AuctionConfig holds Dutch auction defaults.
type AuctionConfig struct {
	// DefaultDuration is the auction duration when the creator does not
	// specify one.
	DefaultDuration time.Duration

	// ExpiryTickInterval is the period of the auction expiry sweep.
	ExpiryTickInterval time.Duration
}

// DefaultAuctionConfig returns the default auction configuration.
func DefaultAuctionConfig() AuctionConfig {
	return AuctionConfig{
		DefaultDuration:    2 * time.Minute,
		ExpiryTickInterval: time.Second,
	}
}

// =============================================================================
// Resolver Configuration
// =============================================================================

// ResolverConfig holds parameters for the auto-bidding resolver.
type ResolverConfig struct {
	// FeeBPS is the resolver's fee in basis points on order value.
	FeeBPS uint16

	// MinMarginBPS is the minimum acceptable net margin in basis points.
	MinMarginBPS uint16

	// GasEstimate is the estimated per-fill gas cost in smallest units of
	// the order's asset.
	GasEstimate uint64

	// PollInterval is how often the resolver re-evaluates open auctions.
	PollInterval time.Duration
}

// DefaultResolverConfig returns the default resolver configuration.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		FeeBPS:       30, // 0.3%
		MinMarginBPS: 10, // 0.1%
		GasEstimate:  0,
		PollInterval: 2 * time.Second,
	}
}

// =============================================================================
// Protocol Configuration
// =============================================================================

// ProtocolConfig aggregates all protocol parameters.
type ProtocolConfig struct {
	Swap     SwapConfig
	Fees     FeeConfig
	Auction  AuctionConfig
	Resolver ResolverConfig
	Chains   map[string]Chain
}

// NewProtocolConfig creates a protocol configuration with defaults.
func NewProtocolConfig() *ProtocolConfig {
	return &ProtocolConfig{
		Swap:     DefaultSwapConfig(),
		Fees:     DefaultFeeConfig(),
		Auction:  DefaultAuctionConfig(),
		Resolver: DefaultResolverConfig(),
		Chains:   SupportedChains,
	}
}

// GetChain returns the chain definition from this configuration.
func (c *ProtocolConfig) GetChain(symbol string) (Chain, bool) {
	chain, ok := c.Chains[symbol]
	return chain, ok
}
