package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/auction"
	"github.com/crosslock-exchange/crosslock/internal/config"
	"github.com/crosslock-exchange/crosslock/pkg/logging"
)

// Resolver watches open auctions and bids at the current decay price whenever
// the profitability gate clears. One resolver instance represents one bidding
// identity.
type Resolver struct {
	id     string
	cfg    config.ResolverConfig
	engine *auction.Engine
	log    *logging.Logger

	mu        sync.Mutex
	evaluated map[string]bool // orders already bid on or skipped for good

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a resolver bidding as id.
func New(id string, cfg config.ResolverConfig, engine *auction.Engine, log *logging.Logger) *Resolver {
	ctx, cancel := context.WithCancel(context.Background())

	return &Resolver{
		id:        id,
		cfg:       cfg,
		engine:    engine,
		log:       log.Component("resolver").With("resolver", id),
		evaluated: make(map[string]bool),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the bidding loop.
func (r *Resolver) Start() {
	r.wg.Add(1)
	go r.run()
	r.log.Info("resolver started")
}

// Stop shuts the resolver down.
func (r *Resolver) Stop() {
	r.cancel()
	r.wg.Wait()
	r.log.Info("resolver stopped")
}

func (r *Resolver) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.EvaluateOnce()
		}
	}
}

// EvaluateOnce scans active orders and bids on every profitable one not yet
// acted on. Callable directly from tests.
func (r *Resolver) EvaluateOnce() {
	for _, order := range r.engine.ListOrders(auction.StatusActive) {
		if r.alreadyHandled(order.ID) {
			continue
		}

		if !IsProfitable(order.Value, r.cfg.FeeBPS, r.cfg.GasEstimate, r.cfg.MinMarginBPS) {
			r.log.Debug("order below margin, skipping", "order", order.ID, "value", order.Value)
			r.markHandled(order.ID)
			continue
		}

		price, err := r.engine.CurrentPrice(order.ID)
		if err != nil {
			continue
		}

		result, err := r.engine.Bid(order.ID, r.id, price)
		if err != nil {
			r.log.Error("bid failed", "order", order.ID, "err", err)
			continue
		}
		r.markHandled(order.ID)

		if result.Accepted {
			r.log.Info("won auction", "order", order.ID,
				"clearing", result.ClearingPrice,
				"fee", Fee(order.Value, r.cfg.FeeBPS))
		} else {
			r.log.Debug("bid rejected", "order", order.ID, "reason", result.Reason)
		}
	}
}

func (r *Resolver) alreadyHandled(orderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evaluated[orderID]
}

func (r *Resolver) markHandled(orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluated[orderID] = true
}
