// Package auction implements a Dutch auction over swap intents: price decays
// linearly from a start price to an end price over a fixed duration, and the
// first bid at or above the current price wins. Amounts are exact decimals.
package auction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crosslock-exchange/crosslock/internal/config"
	"github.com/crosslock-exchange/crosslock/internal/storage"
	"github.com/crosslock-exchange/crosslock/pkg/logging"
)

// Auction errors
var (
	ErrOrderNotFound     = errors.New("auction order not found")
	ErrInvalidPriceRange = errors.New("start price must be at or above end price")
	ErrInvalidDuration   = errors.New("auction duration must be positive")
	ErrOrderNotActive    = errors.New("auction order is not active")
)

// Status is the lifecycle state of an auction order.
type Status string

const (
	StatusActive    Status = "active"
	StatusFilled    Status = "filled"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Bid is one resolver's offer on an order.
type Bid struct {
	ID        string
	OrderID   string
	Resolver  string
	Price     decimal.Decimal
	Accepted  bool
	CreatedAt time.Time
}

// Order is a Dutch auction over one swap intent.
type Order struct {
	ID     string
	SwapID string
	Asset  string
	Value  uint64 // order value in smallest units

	StartPrice decimal.Decimal
	EndPrice   decimal.Decimal
	Duration   time.Duration
	StartedAt  time.Time

	Status Status
	Bids   []Bid

	// ClearingPrice is the decay price frozen at the instant the order left
	// active. Zero while active.
	ClearingPrice decimal.Decimal
	WinningBidID  string
	ClosedAt      time.Time
}

// FillResult reports the outcome of a bid.
type FillResult struct {
	Accepted      bool
	Reason        string
	BidID         string
	ClearingPrice decimal.Decimal
}

// FillHandler is invoked when an order fills, with the winning bid. Execution
// of the underlying swap is handed off here.
type FillHandler func(order *Order, winning *Bid)

// ExpireHandler is invoked when an order expires unfilled.
type ExpireHandler func(order *Order)

// orderEntry guards one order. Bid acceptance is serialized per order so
// exactly one bid can win.
type orderEntry struct {
	mu    sync.Mutex
	order *Order
}

// Engine runs Dutch auctions.
type Engine struct {
	cfg   *config.ProtocolConfig
	store *storage.Storage
	log   *logging.Logger

	mu       sync.RWMutex
	orders   map[string]*orderEntry
	onFill   FillHandler
	onExpire ExpireHandler

	// clock is swappable for decay tests.
	clock func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an auction engine. store may be nil; orders are then
// memory-only.
func NewEngine(cfg *config.ProtocolConfig, store *storage.Storage, log *logging.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:    cfg,
		store:  store,
		log:    log.Component("auction"),
		orders: make(map[string]*orderEntry),
		clock:  time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetClock replaces the engine's clock. Test hook.
func (e *Engine) SetClock(clock func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = clock
}

// OnFill registers the handler invoked when an order fills.
func (e *Engine) OnFill(h FillHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFill = h
}

// OnExpire registers the handler invoked when an order expires.
func (e *Engine) OnExpire(h ExpireHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onExpire = h
}

// Start launches the expiry sweep.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.runExpirySweep()
	e.log.Info("auction engine started")
}

// Stop shuts the engine down and waits for the sweep.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
	e.log.Info("auction engine stopped")
}

// CreateAuction opens a Dutch auction for a swap intent. A zero duration uses
// the configured default.
func (e *Engine) CreateAuction(swapID, asset string, value uint64, startPrice, endPrice decimal.Decimal, duration time.Duration) (*Order, error) {
	if startPrice.LessThan(endPrice) {
		return nil, fmt.Errorf("%w: start %s < end %s", ErrInvalidPriceRange, startPrice, endPrice)
	}
	if duration == 0 {
		duration = e.cfg.Auction.DefaultDuration
	}
	if duration < 0 {
		return nil, ErrInvalidDuration
	}

	order := &Order{
		ID:         uuid.New().String(),
		SwapID:     swapID,
		Asset:      asset,
		Value:      value,
		StartPrice: startPrice,
		EndPrice:   endPrice,
		Duration:   duration,
		StartedAt:  e.now(),
		Status:     StatusActive,
	}

	e.mu.Lock()
	e.orders[order.ID] = &orderEntry{order: order}
	e.mu.Unlock()

	e.persistOrder(order)
	e.log.Info("auction created", "order", order.ID, "swap", swapID,
		"start", startPrice, "end", endPrice, "duration", duration)

	return snapshot(order), nil
}

// CurrentPrice returns the decay price of an order right now. For orders that
// have left active it returns the frozen clearing price.
func (e *Engine) CurrentPrice(orderID string) (decimal.Decimal, error) {
	entry, err := e.entry(orderID)
	if err != nil {
		return decimal.Zero, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	order := entry.order
	if order.Status != StatusActive {
		return order.ClearingPrice, nil
	}
	return priceAt(order, e.now()), nil
}

// priceAt computes the linear decay price at time now:
// price(t) = start - (start-end) * min(t/duration, 1).
func priceAt(order *Order, now time.Time) decimal.Decimal {
	elapsed := now.Sub(order.StartedAt)
	if elapsed >= order.Duration || order.Duration == 0 {
		return order.EndPrice
	}
	if elapsed <= 0 {
		return order.StartPrice
	}

	frac := decimal.NewFromInt(elapsed.Nanoseconds()).
		Div(decimal.NewFromInt(order.Duration.Nanoseconds()))
	spread := order.StartPrice.Sub(order.EndPrice)
	return order.StartPrice.Sub(spread.Mul(frac))
}

// Bid submits a resolver's offer. Accepted iff the order is still active and
// the price meets the current decay price; acceptance is serialized per order
// so exactly one bid wins. Rejected bids are recorded on the order.
func (e *Engine) Bid(orderID, resolver string, price decimal.Decimal) (*FillResult, error) {
	entry, err := e.entry(orderID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	order := entry.order
	now := e.now()

	// Auto-expire a stale order before judging the bid.
	if order.Status == StatusActive && now.Sub(order.StartedAt) >= order.Duration {
		e.expireLocked(order)
		cp := snapshot(order)
		entry.mu.Unlock()
		e.notifyExpire(cp)
		return &FillResult{Accepted: false, Reason: fmt.Sprintf("order is %s", cp.Status)}, nil
	}

	if order.Status != StatusActive {
		entry.mu.Unlock()
		return &FillResult{Accepted: false, Reason: fmt.Sprintf("order is %s", order.Status)}, nil
	}

	current := priceAt(order, now)
	bid := Bid{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		Resolver:  resolver,
		Price:     price,
		CreatedAt: now,
	}

	if price.LessThan(current) {
		order.Bids = append(order.Bids, bid)
		entry.mu.Unlock()
		e.persistBid(&bid)
		return &FillResult{
			Accepted: false,
			Reason:   fmt.Sprintf("bid %s below current price %s", price, current),
			BidID:    bid.ID,
		}, nil
	}

	bid.Accepted = true
	order.Bids = append(order.Bids, bid)
	order.Status = StatusFilled
	order.ClearingPrice = current
	order.WinningBidID = bid.ID
	order.ClosedAt = now

	cp := snapshot(order)
	entry.mu.Unlock()

	e.persistOrder(cp)
	e.persistBid(&bid)
	e.log.Info("auction filled", "order", cp.ID, "resolver", resolver,
		"bid", price, "clearing", current,
		"protocol_fee", e.cfg.Fees.CalculateFee(cp.Value))

	e.mu.RLock()
	onFill := e.onFill
	e.mu.RUnlock()
	if onFill != nil {
		onFill(cp, &bid)
	}

	return &FillResult{Accepted: true, BidID: bid.ID, ClearingPrice: current}, nil
}

// Cancel withdraws an active order before any bid is accepted.
func (e *Engine) Cancel(orderID string) error {
	entry, err := e.entry(orderID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	order := entry.order
	if order.Status != StatusActive {
		return fmt.Errorf("%w: order %s is %s", ErrOrderNotActive, order.ID, order.Status)
	}

	order.Status = StatusCancelled
	order.ClearingPrice = priceAt(order, e.now())
	order.ClosedAt = e.now()
	e.persistOrder(order)

	e.log.Info("auction cancelled", "order", order.ID)
	return nil
}

// GetOrder returns a snapshot of an order.
func (e *Engine) GetOrder(orderID string) (*Order, error) {
	entry, err := e.entry(orderID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return snapshot(entry.order), nil
}

// ListOrders returns snapshots of all orders, optionally filtered by status.
// An empty status returns everything.
func (e *Engine) ListOrders(status Status) []*Order {
	e.mu.RLock()
	entries := make([]*orderEntry, 0, len(e.orders))
	for _, entry := range e.orders {
		entries = append(entries, entry)
	}
	e.mu.RUnlock()

	orders := make([]*Order, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		if status == "" || entry.order.Status == status {
			orders = append(orders, snapshot(entry.order))
		}
		entry.mu.Unlock()
	}
	return orders
}

// CheckExpiry expires every active order past its duration. Called by the
// sweep and callable directly from tests.
func (e *Engine) CheckExpiry() {
	e.mu.RLock()
	entries := make([]*orderEntry, 0, len(e.orders))
	for _, entry := range e.orders {
		entries = append(entries, entry)
	}
	e.mu.RUnlock()

	now := e.now()
	var expired []*Order
	for _, entry := range entries {
		entry.mu.Lock()
		order := entry.order
		if order.Status == StatusActive && now.Sub(order.StartedAt) >= order.Duration {
			e.expireLocked(order)
			expired = append(expired, snapshot(order))
		}
		entry.mu.Unlock()
	}

	for _, order := range expired {
		e.notifyExpire(order)
	}
}

// expireLocked transitions an active order to expired with the price frozen
// at the end price. Caller holds the order's mutex.
func (e *Engine) expireLocked(order *Order) {
	order.Status = StatusExpired
	order.ClearingPrice = order.EndPrice
	order.ClosedAt = e.now()
	e.persistOrder(order)
	e.log.Info("auction expired", "order", order.ID)
}

// notifyExpire invokes the expiry handler outside any order lock.
func (e *Engine) notifyExpire(order *Order) {
	e.mu.RLock()
	onExpire := e.onExpire
	e.mu.RUnlock()
	if onExpire != nil {
		onExpire(order)
	}
}

func (e *Engine) runExpirySweep() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Auction.ExpiryTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.CheckExpiry()
		}
	}
}

func (e *Engine) entry(orderID string) (*orderEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entry, ok := e.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return entry, nil
}

func (e *Engine) now() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clock()
}

func snapshot(order *Order) *Order {
	cp := *order
	cp.Bids = append([]Bid(nil), order.Bids...)
	return &cp
}

// persistOrder writes the order's current state. Best effort: persistence
// failures are logged, the in-memory order stays authoritative.
func (e *Engine) persistOrder(order *Order) {
	if e.store == nil {
		return
	}

	record := &storage.OrderRecord{
		ID:           order.ID,
		SwapID:       order.SwapID,
		Asset:        order.Asset,
		Value:        order.Value,
		StartPrice:   order.StartPrice.String(),
		EndPrice:     order.EndPrice.String(),
		Duration:     order.Duration,
		Status:       string(order.Status),
		WinningBidID: order.WinningBidID,
		CreatedAt:    order.StartedAt,
		ClosedAt:     order.ClosedAt,
	}
	if order.Status != StatusActive {
		record.ClearingPrice = order.ClearingPrice.String()
	}
	if err := e.store.SaveOrder(record); err != nil {
		e.log.Error("failed to persist order", "order", order.ID, "err", err)
	}
}

func (e *Engine) persistBid(bid *Bid) {
	if e.store == nil {
		return
	}

	record := &storage.BidRecord{
		ID:         bid.ID,
		OrderID:    bid.OrderID,
		ResolverID: bid.Resolver,
		Price:      bid.Price.String(),
		Accepted:   bid.Accepted,
		CreatedAt:  bid.CreatedAt,
	}
	if err := e.store.SaveBid(record); err != nil {
		e.log.Error("failed to persist bid", "bid", bid.ID, "err", err)
	}
}
