// Package finality tracks confirmation depth of transactions across chains.
package finality

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/config"
	"github.com/crosslock-exchange/crosslock/internal/ledger"
	"github.com/crosslock-exchange/crosslock/pkg/logging"
)

// ErrFinalityTimeout is returned when a transaction does not reach the
// required depth before the ceiling elapses. It is an expected outcome the
// caller maps to a refund path, not a crash.
var ErrFinalityTimeout = errors.New("finality timeout")

// ErrUnknownChain is returned for chains without a registered adapter.
var ErrUnknownChain = errors.New("unknown chain")

// Tracker polls adapters until transactions reach their chain's required
// confirmation depth.
type Tracker struct {
	adapters map[ledger.Chain]ledger.Adapter
	depths   map[ledger.Chain]uint64
	poll     map[ledger.Chain]time.Duration
	ceiling  time.Duration
	log      *logging.Logger
}

// NewTracker creates a tracker over the given adapters. Depth and poll
// interval per chain come from the protocol configuration; ceiling caps every
// wait.
func NewTracker(adapters map[ledger.Chain]ledger.Adapter, cfg *config.ProtocolConfig, log *logging.Logger) *Tracker {
	depths := make(map[ledger.Chain]uint64, len(adapters))
	poll := make(map[ledger.Chain]time.Duration, len(adapters))
	for chain := range adapters {
		depths[chain] = 1
		poll[chain] = time.Second
		if c, ok := cfg.GetChain(string(chain)); ok {
			depths[chain] = c.Confirmations
			// Poll at block cadence, clamped so fast chains don't spin.
			interval := c.AvgBlockTime
			if interval < time.Second {
				interval = time.Second
			}
			poll[chain] = interval
		}
	}

	return &Tracker{
		adapters: adapters,
		depths:   depths,
		poll:     poll,
		ceiling:  cfg.Swap.FinalityCeiling,
		log:      log.Component("finality"),
	}
}

// RequiredDepth returns the configured confirmation depth for a chain.
func (t *Tracker) RequiredDepth(chain ledger.Chain) uint64 {
	return t.depths[chain]
}

// WaitForFinality blocks until ref is buried under requiredDepth
// confirmations on chain, the ceiling elapses, or ctx is cancelled.
// requiredDepth of 0 uses the chain's configured depth.
func (t *Tracker) WaitForFinality(ctx context.Context, chain ledger.Chain, ref ledger.TxRef, requiredDepth uint64) error {
	adapter, ok := t.adapters[chain]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChain, chain)
	}
	if requiredDepth == 0 {
		requiredDepth = t.depths[chain]
	}

	ctx, cancel := context.WithTimeout(ctx, t.ceiling)
	defer cancel()

	interval := t.poll[chain]
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.log.Debug("waiting for finality", "chain", chain, "tx", ref, "depth", requiredDepth)

	for {
		confirmed, err := t.confirmations(ctx, adapter, ref)
		if err != nil {
			if !ledger.IsTransient(err) && !ledger.IsNotFound(err) {
				return fmt.Errorf("check finality on %s: %w", chain, err)
			}
			// Not yet visible or node flapping. Keep polling.
			t.log.Debug("finality check retrying", "chain", chain, "tx", ref, "err", err)
		} else if confirmed >= requiredDepth {
			t.log.Debug("finality reached", "chain", chain, "tx", ref, "confirmations", confirmed)
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: tx %s on %s did not reach depth %d within %s",
					ErrFinalityTimeout, ref, chain, requiredDepth, t.ceiling)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// confirmations returns how many blocks bury ref, counting the inclusion
// block as 1.
func (t *Tracker) confirmations(ctx context.Context, adapter ledger.Adapter, ref ledger.TxRef) (uint64, error) {
	txHeight, err := adapter.TxHeight(ctx, ref)
	if err != nil {
		return 0, err
	}
	head, err := adapter.CurrentHeight(ctx)
	if err != nil {
		return 0, err
	}
	if head < txHeight {
		return 0, nil
	}
	return head - txHeight + 1, nil
}
