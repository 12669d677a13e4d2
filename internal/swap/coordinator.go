package swap

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/config"
	"github.com/crosslock-exchange/crosslock/internal/finality"
	"github.com/crosslock-exchange/crosslock/internal/ledger"
	"github.com/crosslock-exchange/crosslock/internal/storage"
	"github.com/crosslock-exchange/crosslock/pkg/logging"
)

// EventType identifies a swap lifecycle event.
type EventType string

const (
	EventSwapInitiated EventType = "swap_initiated"
	EventSrcEscrowed   EventType = "src_escrowed"
	EventDstEscrowed   EventType = "dst_escrowed"
	EventSwapReady     EventType = "swap_ready"
	EventSwapCompleted EventType = "swap_completed"
	EventSwapRefunded  EventType = "swap_refunded"
	EventSwapFailed    EventType = "swap_failed"
	EventSwapCancelled EventType = "swap_cancelled"
)

// Event is emitted on swap status changes.
type Event struct {
	SwapID    string                 `json:"swap_id"`
	Type      EventType              `json:"type"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventHandler receives swap events.
type EventHandler func(Event)

// activeSwap is an arena entry. Its mutex serializes all operations on one
// swap; unrelated swaps never contend.
type activeSwap struct {
	mu   sync.Mutex
	swap *Swap
}

// Coordinator drives swaps across two ledgers: escrow on both sides with
// finality checks, secret disclosure, completion, and the refund backstop.
type Coordinator struct {
	cfg      *config.ProtocolConfig
	adapters map[ledger.Chain]ledger.Adapter
	tracker  *finality.Tracker
	store    *storage.Storage
	secrets  *SecretRegistry
	log      *logging.Logger

	mu       sync.RWMutex
	swaps    map[string]*activeSwap
	locks    map[string]string // lock id -> swap id
	handlers []EventHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator over the given adapters.
func NewCoordinator(
	cfg *config.ProtocolConfig,
	adapters map[ledger.Chain]ledger.Adapter,
	tracker *finality.Tracker,
	store *storage.Storage,
	log *logging.Logger,
) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		cfg:      cfg,
		adapters: adapters,
		tracker:  tracker,
		store:    store,
		secrets:  NewSecretRegistry(store),
		log:      log.Component("coordinator"),
		swaps:    make(map[string]*activeSwap),
		locks:    make(map[string]string),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the adapter event loops and the deadline sweep.
func (c *Coordinator) Start() error {
	for chain, adapter := range c.adapters {
		events, err := adapter.SubscribeLockEvents(c.ctx)
		if err != nil {
			return fmt.Errorf("subscribe to %s events: %w", chain, err)
		}
		c.wg.Add(1)
		go c.consumeLockEvents(chain, events)
	}

	c.wg.Add(1)
	go c.runDeadlineSweep()

	c.log.Info("coordinator started", "chains", len(c.adapters))
	return nil
}

// Stop shuts down background goroutines and waits for them.
func (c *Coordinator) Stop() {
	c.cancel()
	c.wg.Wait()
	c.log.Info("coordinator stopped")
}

// Secrets exposes the secret registry.
func (c *Coordinator) Secrets() *SecretRegistry {
	return c.secrets
}

// OnEvent registers a handler for swap events.
func (c *Coordinator) OnEvent(h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *Coordinator) emit(event Event) {
	event.Timestamp = time.Now()

	c.mu.RLock()
	handlers := make([]EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// AssignResolver records the auction winner on an initiated swap. Called
// when an auction over the swap fills, before execution starts.
func (c *Coordinator) AssignResolver(swapID, resolver string) error {
	as, err := c.entry(swapID)
	if err != nil {
		return err
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	s := as.swap

	if s.Status != StatusInitiated {
		return fmt.Errorf("%w: resolver assignment requires initiated, swap %s is %s", ErrInvalidStatus, s.ID, s.Status)
	}

	s.Resolver = resolver
	s.UpdatedAt = time.Now()
	c.persist(s)

	c.log.Info("resolver assigned", "swap", s.ID, "resolver", resolver)
	return nil
}

// entry returns the arena entry for a swap.
func (c *Coordinator) entry(swapID string) (*activeSwap, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	as, ok := c.swaps[swapID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSwapNotFound, swapID)
	}
	return as, nil
}

// indexLock maps a lock id to its swap for event routing.
func (c *Coordinator) indexLock(lockID, swapID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locks[lockID] = swapID
}

func (c *Coordinator) swapForLock(lockID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	swapID, ok := c.locks[lockID]
	return swapID, ok
}

// adapter returns the adapter for a chain.
func (c *Coordinator) adapter(chain ledger.Chain) (ledger.Adapter, error) {
	adapter, ok := c.adapters[chain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChain, chain)
	}
	return adapter, nil
}

// GetSwap returns a snapshot of a swap.
func (c *Coordinator) GetSwap(swapID string) (*Swap, error) {
	as, err := c.entry(swapID)
	if err != nil {
		return nil, err
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	cp := *as.swap
	cp.Hashlock = append([]byte(nil), as.swap.Hashlock...)
	return &cp, nil
}

// ListSwaps returns snapshots of all swaps in the arena.
func (c *Coordinator) ListSwaps() []*Swap {
	c.mu.RLock()
	entries := make([]*activeSwap, 0, len(c.swaps))
	for _, as := range c.swaps {
		entries = append(entries, as)
	}
	c.mu.RUnlock()

	swaps := make([]*Swap, 0, len(entries))
	for _, as := range entries {
		as.mu.Lock()
		cp := *as.swap
		as.mu.Unlock()
		swaps = append(swaps, &cp)
	}
	return swaps
}

// persist writes the swap's current state. Caller holds the swap's mutex.
func (c *Coordinator) persist(s *Swap) {
	if c.store == nil {
		return
	}

	record := &storage.SwapRecord{
		ID:              s.ID,
		SourceChain:     string(s.SourceChain),
		DestChain:       string(s.DestChain),
		Initiator:       s.Initiator,
		Counterparty:    s.Counterparty,
		Resolver:        s.Resolver,
		SourceAmount:    s.SourceAmount,
		DestAmount:      s.DestAmount,
		Hashlock:        hex.EncodeToString(s.Hashlock),
		Status:          string(s.Status),
		SrcLockID:       s.SrcLockID,
		DstLockID:       s.DstLockID,
		SrcTx:           string(s.SrcTx),
		DstTx:           string(s.DstTx),
		SrcDeadline:     s.SrcDeadline,
		DstDeadline:     s.DstDeadline,
		FailureReason:   s.FailureReason,
		SrcLockState:    s.SrcLockState,
		DstLockState:    s.DstLockState,
		CancelRequested: s.CancelRequested,
		CreatedAt:       s.CreatedAt,
		CompletedAt:     s.CompletedAt,
	}
	if err := c.store.SaveSwap(record); err != nil {
		c.log.Error("failed to persist swap", "swap", s.ID, "err", err)
	}
}

// LoadPendingSwaps restores in-flight swaps from storage into the arena.
// Called once on startup, before Start.
func (c *Coordinator) LoadPendingSwaps() (int, error) {
	if c.store == nil {
		return 0, nil
	}

	records, err := c.store.ListPendingSwaps()
	if err != nil {
		return 0, fmt.Errorf("load pending swaps: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range records {
		hashlock, err := hex.DecodeString(r.Hashlock)
		if err != nil {
			c.log.Error("skipping swap with bad hashlock", "swap", r.ID, "err", err)
			continue
		}

		s := &Swap{
			ID:              r.ID,
			SourceChain:     ledger.Chain(r.SourceChain),
			DestChain:       ledger.Chain(r.DestChain),
			Initiator:       r.Initiator,
			Counterparty:    r.Counterparty,
			Resolver:        r.Resolver,
			SourceAmount:    r.SourceAmount,
			DestAmount:      r.DestAmount,
			Hashlock:        hashlock,
			Status:          Status(r.Status),
			SrcLockID:       r.SrcLockID,
			DstLockID:       r.DstLockID,
			SrcTx:           ledger.TxRef(r.SrcTx),
			DstTx:           ledger.TxRef(r.DstTx),
			SrcDeadline:     r.SrcDeadline,
			DstDeadline:     r.DstDeadline,
			FailureReason:   r.FailureReason,
			SrcLockState:    r.SrcLockState,
			DstLockState:    r.DstLockState,
			CancelRequested: r.CancelRequested,
			CreatedAt:       r.CreatedAt,
			UpdatedAt:       r.UpdatedAt,
		}

		c.swaps[r.ID] = &activeSwap{swap: s}
		if s.SrcLockID != "" {
			c.locks[s.SrcLockID] = s.ID
		}
		if s.DstLockID != "" {
			c.locks[s.DstLockID] = s.ID
		}
		if err := c.secrets.Restore(r.ID, s.SrcLockID, s.DstLockID); err != nil {
			c.log.Error("failed to restore secret", "swap", r.ID, "err", err)
		}
		c.log.Info("restored pending swap", "swap", r.ID, "status", r.Status)
	}

	return len(records), nil
}
