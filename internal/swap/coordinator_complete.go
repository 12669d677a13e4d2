package swap

import (
	"context"
	"fmt"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/config"
	"github.com/crosslock-exchange/crosslock/internal/ledger"
)

// Lock states recorded on the swap for terminal reporting.
const (
	lockStateLocked    = "locked"
	lockStateWithdrawn = "withdrawn"
	lockStateRefunded  = "refunded"
)

// DiscloseSecret releases the preimage for a ready swap. Disclosure is the
// point of no return: after it, completion is the only safe outcome.
func (c *Coordinator) DiscloseSecret(ctx context.Context, swapID string) error {
	as, err := c.entry(swapID)
	if err != nil {
		return err
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	s := as.swap

	if s.Status != StatusReady {
		return fmt.Errorf("%w: disclosure requires ready, swap %s is %s", ErrInvalidStatus, s.ID, s.Status)
	}

	// Refuse to disclose when the destination window is about to close: the
	// counterparty could race the initiator's withdraw against the refund.
	if !config.IsSafeToComplete(time.Now(), s.DstDeadline, c.cfg.Swap.CompleteGuard) {
		return fmt.Errorf("%w: destination deadline %s", ErrTimeoutRace, s.DstDeadline.Format(time.RFC3339))
	}

	if _, err := c.secrets.Disclose(s.ID); err != nil {
		return fmt.Errorf("disclose secret: %w", err)
	}
	c.persist(s)

	c.log.Info("secret disclosed", "swap", s.ID)
	return nil
}

// CompleteSwap withdraws both locks of a ready swap whose secret has been
// disclosed. The destination lock is withdrawn first so the initiator is paid
// before the preimage lands on the source chain.
func (c *Coordinator) CompleteSwap(ctx context.Context, swapID string) error {
	as, err := c.entry(swapID)
	if err != nil {
		return err
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	s := as.swap

	if s.Status != StatusReady {
		return fmt.Errorf("%w: completion requires ready, swap %s is %s", ErrInvalidStatus, s.ID, s.Status)
	}

	entry, err := c.secrets.Get(s.ID)
	if err != nil {
		return err
	}
	if !entry.Disclosed {
		return fmt.Errorf("%w: secret not disclosed for swap %s", ErrNotReady, s.ID)
	}

	if err := c.withdrawLock(ctx, s.DestChain, s.DstLockID, entry.Secret); err != nil {
		return fmt.Errorf("withdraw destination lock: %w", err)
	}
	s.DstLockState = lockStateWithdrawn
	c.persist(s)

	if err := c.withdrawLock(ctx, s.SourceChain, s.SrcLockID, entry.Secret); err != nil {
		// Destination already paid out. The preimage is public now, so the
		// counterparty can withdraw the source lock themselves.
		c.persist(s)
		return fmt.Errorf("withdraw source lock: %w", err)
	}
	s.SrcLockState = lockStateWithdrawn

	if err := s.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	s.CompletedAt = time.Now()
	c.persist(s)

	c.log.Info("swap completed", "swap", s.ID)
	c.emit(Event{SwapID: s.ID, Type: EventSwapCompleted, Status: s.Status})
	return nil
}

// withdrawLock withdraws one lock, retrying transient failures and
// reconciling conflicts against on-chain state. A conflict caused by the
// lock already being withdrawn counts as success.
func (c *Coordinator) withdrawLock(ctx context.Context, chain ledger.Chain, lockID string, preimage []byte) error {
	adapter, err := c.adapter(chain)
	if err != nil {
		return err
	}

	err = retryTransient(ctx, c.log, "withdraw", func() error {
		_, err := adapter.Withdraw(ctx, lockID, preimage)
		return err
	})
	if err == nil {
		return nil
	}
	if !ledger.IsConflict(err) {
		return err
	}

	lock, lookupErr := adapter.GetLock(ctx, lockID)
	if lookupErr != nil {
		return fmt.Errorf("reconcile after conflict: %w", lookupErr)
	}
	if lock.Withdrawn {
		return nil
	}
	return err
}

// refundLock refunds one lock with the same reconciliation discipline.
func (c *Coordinator) refundLock(ctx context.Context, chain ledger.Chain, lockID string) error {
	adapter, err := c.adapter(chain)
	if err != nil {
		return err
	}

	err = retryTransient(ctx, c.log, "refund", func() error {
		_, err := adapter.Refund(ctx, lockID)
		return err
	})
	if err == nil {
		return nil
	}
	if !ledger.IsConflict(err) {
		return err
	}

	lock, lookupErr := adapter.GetLock(ctx, lockID)
	if lookupErr != nil {
		return fmt.Errorf("reconcile after conflict: %w", lookupErr)
	}
	if lock.Refunded {
		return nil
	}
	if lock.Withdrawn {
		return fmt.Errorf("lock %s already withdrawn, refund impossible", lockID)
	}
	return err
}

// RefundSwap refunds whatever locks an unfinished swap holds. Locks whose
// deadline has not passed yet are skipped and picked up by the sweep later.
func (c *Coordinator) RefundSwap(ctx context.Context, swapID string) error {
	as, err := c.entry(swapID)
	if err != nil {
		return err
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	return c.refundLocked(ctx, as.swap)
}

// refundLocked does the refund work. Caller holds the swap's mutex.
func (c *Coordinator) refundLocked(ctx context.Context, s *Swap) error {
	if s.IsTerminal() {
		return fmt.Errorf("%w: swap %s is %s", ErrInvalidStatus, s.ID, s.Status)
	}
	if s.Status == StatusInitiated {
		return fmt.Errorf("%w: nothing escrowed for swap %s", ErrInvalidStatus, s.ID)
	}

	now := time.Now()
	remaining := 0

	// Destination expires first under the asymmetric window ordering.
	if s.DstLockID != "" && s.DstLockState != lockStateWithdrawn && s.DstLockState != lockStateRefunded {
		if now.After(s.DstDeadline) {
			if err := c.refundLock(ctx, s.DestChain, s.DstLockID); err != nil {
				return fmt.Errorf("refund destination lock: %w", err)
			}
			s.DstLockState = lockStateRefunded
			c.persist(s)
		} else {
			remaining++
		}
	}

	if s.SrcLockID != "" && s.SrcLockState != lockStateWithdrawn && s.SrcLockState != lockStateRefunded {
		if now.After(s.SrcDeadline) {
			if err := c.refundLock(ctx, s.SourceChain, s.SrcLockID); err != nil {
				return fmt.Errorf("refund source lock: %w", err)
			}
			s.SrcLockState = lockStateRefunded
			c.persist(s)
		} else {
			remaining++
		}
	}

	if remaining > 0 {
		return nil
	}

	// Nothing left outstanding. Where the locks actually ended up decides
	// the terminal status: a withdrawn lock moved funds with the preimage,
	// not back to its sender, so "refunded" would misreport it.
	locks, withdrawn := 0, 0
	if s.SrcLockID != "" {
		locks++
		if s.SrcLockState == lockStateWithdrawn {
			withdrawn++
		}
	}
	if s.DstLockID != "" {
		locks++
		if s.DstLockState == lockStateWithdrawn {
			withdrawn++
		}
	}

	switch {
	case locks == 2 && withdrawn == locks:
		// Both sides were claimed on chain: the swap completed even if our
		// own completion call never landed.
		if err := s.TransitionTo(StatusCompleted); err != nil {
			return err
		}
		s.CompletedAt = time.Now()
		s.FailureReason = ""
		c.persist(s)
		c.log.Info("swap completed", "swap", s.ID)
		c.emit(Event{SwapID: s.ID, Type: EventSwapCompleted, Status: s.Status})
		return nil
	case withdrawn > 0:
		return c.failLocked(s, "locks ended in mixed withdrawn/refunded state")
	}

	if err := s.TransitionTo(StatusRefunded); err != nil {
		return err
	}
	c.persist(s)

	c.log.Info("swap refunded", "swap", s.ID)
	c.emit(Event{SwapID: s.ID, Type: EventSwapRefunded, Status: s.Status})
	return nil
}

// CancelSwap cancels a swap before it is ready. With nothing escrowed the
// swap terminates immediately; with funds locked the cancel is recorded and
// the deadline sweep refunds each lock as its timelock expires.
func (c *Coordinator) CancelSwap(ctx context.Context, swapID string) error {
	as, err := c.entry(swapID)
	if err != nil {
		return err
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	s := as.swap

	switch s.Status {
	case StatusInitiated:
		if err := s.TransitionTo(StatusCancelled); err != nil {
			return err
		}
		c.persist(s)
		c.log.Info("swap cancelled", "swap", s.ID)
		c.emit(Event{SwapID: s.ID, Type: EventSwapCancelled, Status: s.Status})
		return nil
	case StatusSrcEscrowed, StatusDstEscrowed:
		if s.CancelRequested {
			return nil
		}
		s.CancelRequested = true
		s.FailureReason = "cancelled by initiator"
		c.persist(s)
		c.log.Info("cancel requested, locks refund at deadline", "swap", s.ID)
		return nil
	default:
		return fmt.Errorf("%w: swap %s is %s", ErrCancelTooLate, s.ID, s.Status)
	}
}

// failLocked marks a swap failed. Caller holds the swap's mutex. Used only
// when no funds are at risk or the failure reason already covers them.
func (c *Coordinator) failLocked(s *Swap, reason string) error {
	s.FailureReason = reason
	if err := s.TransitionTo(StatusFailed); err != nil {
		c.persist(s)
		return fmt.Errorf("%s (and transition failed: %v)", reason, err)
	}
	c.persist(s)

	c.log.Error("swap failed", "swap", s.ID, "reason", reason)
	c.emit(Event{SwapID: s.ID, Type: EventSwapFailed, Status: s.Status,
		Data: map[string]interface{}{"reason": reason}})
	return fmt.Errorf("swap %s failed: %s", s.ID, reason)
}
