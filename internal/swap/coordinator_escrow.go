package swap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crosslock-exchange/crosslock/internal/config"
	"github.com/crosslock-exchange/crosslock/internal/finality"
	"github.com/crosslock-exchange/crosslock/internal/ledger"
	"github.com/crosslock-exchange/crosslock/pkg/helpers"
)

// InitiateSwap creates a swap: generates the secret, registers it, and
// places the swap in the arena at status initiated. Nothing is escrowed yet.
func (c *Coordinator) InitiateSwap(ctx context.Context, params Params) (*Swap, error) {
	if err := params.Validate(c.cfg); err != nil {
		return nil, fmt.Errorf("initiate swap: %w", err)
	}
	if _, err := c.adapter(params.SourceChain); err != nil {
		return nil, err
	}
	if _, err := c.adapter(params.DestChain); err != nil {
		return nil, err
	}

	secret, hash, err := GenerateSecret(c.cfg.Swap.SecretSize)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s := &Swap{
		ID:           uuid.New().String(),
		SourceChain:  params.SourceChain,
		DestChain:    params.DestChain,
		Initiator:    params.Initiator,
		Counterparty: params.Counterparty,
		SourceAmount: params.SourceAmount,
		DestAmount:   params.DestAmount,
		Hashlock:     hash,
		Status:       StatusInitiated,
		SrcDeadline:  now.Add(c.cfg.Swap.SourceWindow),
		DstDeadline:  now.Add(c.cfg.Swap.DestWindow),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := c.secrets.Register(s.ID, secret, hash); err != nil {
		return nil, fmt.Errorf("register secret: %w", err)
	}

	as := &activeSwap{swap: s}
	c.mu.Lock()
	c.swaps[s.ID] = as
	c.mu.Unlock()

	as.mu.Lock()
	c.persist(s)
	cp := *s
	as.mu.Unlock()

	srcChain, _ := c.cfg.GetChain(string(s.SourceChain))
	dstChain, _ := c.cfg.GetChain(string(s.DestChain))
	c.log.Info("swap initiated", "swap", s.ID,
		"source", s.SourceChain, "dest", s.DestChain,
		"source_amount", helpers.FormatAmount(s.SourceAmount, srcChain.Decimals),
		"dest_amount", helpers.FormatAmount(s.DestAmount, dstChain.Decimals))
	c.emit(Event{SwapID: s.ID, Type: EventSwapInitiated, Status: StatusInitiated})

	return &cp, nil
}

// EscrowSource locks the initiator's funds on the source chain.
func (c *Coordinator) EscrowSource(ctx context.Context, swapID string) error {
	as, err := c.entry(swapID)
	if err != nil {
		return err
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	s := as.swap

	if s.Status != StatusInitiated {
		return fmt.Errorf("%w: escrow source requires initiated, swap %s is %s", ErrInvalidStatus, s.ID, s.Status)
	}

	chain, _ := c.cfg.GetChain(string(s.SourceChain))
	if err := validateTimelock(chain, time.Until(s.SrcDeadline)); err != nil {
		return c.failLocked(s, fmt.Sprintf("source timelock invalid: %v", err))
	}

	adapter, err := c.adapter(s.SourceChain)
	if err != nil {
		return err
	}

	var result *ledger.CreateLockResult
	err = retryTransient(ctx, c.log, "escrow source", func() error {
		var err error
		result, err = adapter.CreateLock(ctx, ledger.CreateLockParams{
			Sender:   s.Initiator,
			Receiver: s.Counterparty,
			Asset:    string(s.SourceChain),
			Amount:   s.SourceAmount,
			Hashlock: s.Hashlock,
			Deadline: s.SrcDeadline,
		})
		return err
	})
	if err != nil {
		return c.failLocked(s, fmt.Sprintf("source escrow failed: %v", err))
	}

	s.SrcLockID = result.LockID
	s.SrcTx = result.TxRef
	s.SrcLockState = lockStateLocked
	if err := s.TransitionTo(StatusSrcEscrowed); err != nil {
		return err
	}
	c.indexLock(result.LockID, s.ID)
	if err := c.secrets.Link(s.ID, result.LockID, true); err != nil {
		return err
	}
	c.persist(s)

	c.log.Info("source escrowed", "swap", s.ID, "lock", result.LockID, "tx", result.TxRef)
	c.emit(Event{SwapID: s.ID, Type: EventSrcEscrowed, Status: s.Status,
		Data: map[string]interface{}{"lock_id": result.LockID, "tx": string(result.TxRef)}})

	return nil
}

// Leg selects one side of a swap.
type Leg string

const (
	LegSource Leg = "source"
	LegDest   Leg = "dest"
)

// AwaitFinality blocks until the leg's funding transaction is final. A
// finality timeout is recorded on the swap and reported: the caller stops
// progressing and the deadline sweep refunds whatever is locked once its
// timelock expires.
func (c *Coordinator) AwaitFinality(ctx context.Context, swapID string, leg Leg) error {
	as, err := c.entry(swapID)
	if err != nil {
		return err
	}

	as.mu.Lock()
	s := as.swap
	var chain ledger.Chain
	var ref ledger.TxRef
	switch leg {
	case LegSource:
		chain, ref = s.SourceChain, s.SrcTx
	case LegDest:
		chain, ref = s.DestChain, s.DstTx
	}
	as.mu.Unlock()

	if ref == "" {
		return fmt.Errorf("%w: no %s funding tx for swap %s", ErrInvalidStatus, leg, swapID)
	}

	err = c.tracker.WaitForFinality(ctx, chain, ref, 0)
	if err == nil {
		return nil
	}

	if errors.Is(err, finality.ErrFinalityTimeout) {
		as.mu.Lock()
		s.FailureReason = fmt.Sprintf("finality timeout on %s", chain)
		c.persist(s)
		as.mu.Unlock()
		c.log.Warn("finality timeout, swap will be refunded at deadline", "swap", swapID, "chain", chain)
	}
	return err
}

// EscrowDestination locks the counterparty's funds on the destination chain.
// Enforces the asymmetric timelock invariant before funds move.
func (c *Coordinator) EscrowDestination(ctx context.Context, swapID string) error {
	as, err := c.entry(swapID)
	if err != nil {
		return err
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	s := as.swap

	if s.Status != StatusSrcEscrowed {
		return fmt.Errorf("%w: escrow destination requires src_escrowed, swap %s is %s", ErrInvalidStatus, s.ID, s.Status)
	}

	// Destination lock must expire safetyMargin before the source lock.
	// Source funds are already locked here, so the swap is not failed
	// outright: the sweep refunds them once the source timelock expires.
	if !config.ValidateWindows(s.SrcDeadline, s.DstDeadline, c.cfg.Swap.SafetyMargin) {
		s.FailureReason = "window ordering violated"
		c.persist(s)
		return fmt.Errorf("escrow destination for swap %s: %w", s.ID, ErrWindowOrdering)
	}

	chain, _ := c.cfg.GetChain(string(s.DestChain))
	if err := validateTimelock(chain, time.Until(s.DstDeadline)); err != nil {
		s.FailureReason = fmt.Sprintf("destination timelock invalid: %v", err)
		c.persist(s)
		return err
	}

	adapter, err := c.adapter(s.DestChain)
	if err != nil {
		return err
	}

	var result *ledger.CreateLockResult
	err = retryTransient(ctx, c.log, "escrow destination", func() error {
		var err error
		result, err = adapter.CreateLock(ctx, ledger.CreateLockParams{
			Sender:   s.Counterparty,
			Receiver: s.Initiator,
			Asset:    string(s.DestChain),
			Amount:   s.DestAmount,
			Hashlock: s.Hashlock,
			Deadline: s.DstDeadline,
		})
		return err
	})
	if err != nil {
		// Source funds stay locked; the sweep refunds them at expiry.
		s.FailureReason = fmt.Sprintf("destination escrow failed: %v", err)
		c.persist(s)
		return fmt.Errorf("escrow destination: %w", err)
	}

	s.DstLockID = result.LockID
	s.DstTx = result.TxRef
	s.DstLockState = lockStateLocked
	if err := s.TransitionTo(StatusDstEscrowed); err != nil {
		return err
	}
	c.indexLock(result.LockID, s.ID)
	if err := c.secrets.Link(s.ID, result.LockID, false); err != nil {
		return err
	}
	c.persist(s)

	c.log.Info("destination escrowed", "swap", s.ID, "lock", result.LockID, "tx", result.TxRef)
	c.emit(Event{SwapID: s.ID, Type: EventDstEscrowed, Status: s.Status,
		Data: map[string]interface{}{"lock_id": result.LockID, "tx": string(result.TxRef)}})

	return nil
}

// MarkReady transitions a swap with both locks final to ready.
func (c *Coordinator) MarkReady(ctx context.Context, swapID string) error {
	as, err := c.entry(swapID)
	if err != nil {
		return err
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	s := as.swap

	if s.Status != StatusDstEscrowed {
		return fmt.Errorf("%w: mark ready requires dst_escrowed, swap %s is %s", ErrInvalidStatus, s.ID, s.Status)
	}
	if err := s.TransitionTo(StatusReady); err != nil {
		return err
	}
	c.persist(s)

	c.log.Info("swap ready", "swap", s.ID)
	c.emit(Event{SwapID: s.ID, Type: EventSwapReady, Status: s.Status})
	return nil
}

// Run drives a swap through the whole happy path: escrow both legs with
// finality in between, disclose, and complete. On error the swap is left in
// whatever state it reached; the deadline sweep takes over the refund path.
func (c *Coordinator) Run(ctx context.Context, swapID string) error {
	if err := c.EscrowSource(ctx, swapID); err != nil {
		return err
	}
	if err := c.AwaitFinality(ctx, swapID, LegSource); err != nil {
		return err
	}
	if err := c.EscrowDestination(ctx, swapID); err != nil {
		return err
	}
	if err := c.AwaitFinality(ctx, swapID, LegDest); err != nil {
		return err
	}
	if err := c.MarkReady(ctx, swapID); err != nil {
		return err
	}
	if err := c.DiscloseSecret(ctx, swapID); err != nil {
		return err
	}
	return c.CompleteSwap(ctx, swapID)
}
