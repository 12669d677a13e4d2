package swap

import (
	"time"

	"github.com/crosslock-exchange/crosslock/internal/ledger"
)

// consumeLockEvents routes one chain's lock events to their swaps. A
// withdrawal observed on the destination leg carries the preimage and may
// arrive before our own completion call lands; the registry absorbs it.
func (c *Coordinator) consumeLockEvents(chain ledger.Chain, events <-chan ledger.LockEvent) {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.log.Warn("event stream closed", "chain", chain)
				return
			}
			c.handleLockEvent(ev)
		}
	}
}

func (c *Coordinator) handleLockEvent(ev ledger.LockEvent) {
	swapID, ok := c.swapForLock(ev.LockID)
	if !ok {
		// Locks created by other parties on a shared contract.
		c.log.Debug("event for unknown lock", "chain", ev.Chain, "lock", ev.LockID, "kind", ev.Kind)
		return
	}

	as, err := c.entry(swapID)
	if err != nil {
		return
	}

	switch ev.Kind {
	case ledger.EventLockCreated:
		c.log.Debug("lock confirmed on chain", "swap", swapID, "lock", ev.LockID, "height", ev.Height)

	case ledger.EventLockWithdrawn:
		if len(ev.Preimage) > 0 {
			if err := c.secrets.Observe(swapID, ev.Preimage); err != nil {
				c.log.Error("observed preimage rejected", "swap", swapID, "lock", ev.LockID, "err", err)
			}
		}
		as.mu.Lock()
		s := as.swap
		if s.SrcLockID == ev.LockID {
			s.SrcLockState = lockStateWithdrawn
		}
		if s.DstLockID == ev.LockID {
			s.DstLockState = lockStateWithdrawn
		}
		c.persist(s)
		as.mu.Unlock()
		c.log.Info("lock withdrawn", "swap", swapID, "chain", ev.Chain, "lock", ev.LockID)

	case ledger.EventLockRefunded:
		as.mu.Lock()
		s := as.swap
		if s.SrcLockID == ev.LockID {
			s.SrcLockState = lockStateRefunded
		}
		if s.DstLockID == ev.LockID {
			s.DstLockState = lockStateRefunded
		}
		c.persist(s)
		as.mu.Unlock()
		c.log.Info("lock refunded", "swap", swapID, "chain", ev.Chain, "lock", ev.LockID)
	}
}

// runDeadlineSweep is the refund backstop: it periodically scans the arena
// for swaps whose locks are past their timelock and refunds them. It catches
// finality timeouts, cancel requests, and crashes between escrow steps.
func (c *Coordinator) runDeadlineSweep() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Swap.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.CheckDeadlines()
		}
	}
}

// CheckDeadlines refunds every expired lock held by a non-terminal swap.
// Safe to call concurrently with normal swap progress: the per-swap mutex
// serializes it against completion, and the ledger's refund conflict rules
// prevent a refund from racing a withdraw.
func (c *Coordinator) CheckDeadlines() {
	c.mu.RLock()
	entries := make([]*activeSwap, 0, len(c.swaps))
	for _, as := range c.swaps {
		entries = append(entries, as)
	}
	c.mu.RUnlock()

	now := time.Now()
	for _, as := range entries {
		// A swap busy in a long retry elsewhere must not stall the sweep
		// for the rest of the arena; the next tick picks it up.
		if !as.mu.TryLock() {
			continue
		}
		s := as.swap

		if s.IsTerminal() || s.Status == StatusInitiated {
			as.mu.Unlock()
			continue
		}

		// A cancel-requested swap waits here too: its locks refund the same
		// way, once their timelocks run out.
		expired := (s.SrcLockID != "" && now.After(s.SrcDeadline)) ||
			(s.DstLockID != "" && now.After(s.DstDeadline))
		if !expired {
			as.mu.Unlock()
			continue
		}

		if s.FailureReason == "" {
			s.FailureReason = "deadline expired"
		}
		if err := c.refundLocked(c.ctx, s); err != nil {
			c.log.Error("deadline sweep refund failed", "swap", s.ID, "err", err)
		}
		as.mu.Unlock()
	}
}
