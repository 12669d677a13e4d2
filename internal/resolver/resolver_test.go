package resolver

import (
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crosslock-exchange/crosslock/internal/auction"
	"github.com/crosslock-exchange/crosslock/internal/config"
	"github.com/crosslock-exchange/crosslock/pkg/logging"
)

func TestIsProfitable(t *testing.T) {
	tests := []struct {
		name         string
		orderValue   uint64
		feeBps       uint16
		gasCost      uint64
		minMarginBps uint16
		want         bool
	}{
		// fee = 300000, threshold = 100000, net = 300000
		{"no gas cost", 100000000, 30, 0, 10, true},
		// net = 300000 - 200000 = 100000 == threshold
		{"net exactly at threshold", 100000000, 30, 200000, 10, true},
		// net = 300000 - 200001 = 99999 < threshold
		{"net just below threshold", 100000000, 30, 200001, 10, false},
		// gas swamps the fee entirely
		{"negative net profit", 100000000, 30, 400000, 10, false},
		{"zero margin accepts break-even", 100000000, 30, 300000, 0, true},
		{"zero value order", 0, 30, 1, 10, false},
		{"zero fee with gas", 100000000, 0, 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsProfitable(tt.orderValue, tt.feeBps, tt.gasCost, tt.minMarginBps)
			if got != tt.want {
				t.Errorf("IsProfitable(%d, %d, %d, %d) = %v, want %v",
					tt.orderValue, tt.feeBps, tt.gasCost, tt.minMarginBps, got, tt.want)
			}
		})
	}
}

func TestFee(t *testing.T) {
	if got := Fee(100000000, 30); got != 300000 {
		t.Errorf("Fee(1e8, 30) = %d, want 300000", got)
	}
	// Truncation, never rounding up
	if got := Fee(9999, 30); got != 29 {
		t.Errorf("Fee(9999, 30) = %d, want 29", got)
	}
	// Wei-scale values: 1e18 * 30 overflows uint64 if multiplied raw
	if got := Fee(1000000000000000000, 30); got != 3000000000000000 {
		t.Errorf("Fee(1e18, 30) = %d, want 3e15", got)
	}
}

func newTestAuctionEngine(t *testing.T) *auction.Engine {
	t.Helper()
	cfg := config.NewProtocolConfig()
	log := logging.New(&logging.Config{Output: io.Discard})
	return auction.NewEngine(cfg, nil, log)
}

func TestResolverBidsOnProfitableOrder(t *testing.T) {
	engine := newTestAuctionEngine(t)
	log := logging.New(&logging.Config{Output: io.Discard})

	rcfg := config.DefaultResolverConfig()
	r := New("resolver-1", rcfg, engine, log)

	start, _ := decimal.NewFromString("1.1")
	end, _ := decimal.NewFromString("0.95")
	order, err := engine.CreateAuction("swap-1", "SIMA", 100000000, start, end, time.Hour)
	if err != nil {
		t.Fatalf("CreateAuction() error = %v", err)
	}

	r.EvaluateOnce()

	got, err := engine.GetOrder(order.ID)
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if got.Status != auction.StatusFilled {
		t.Fatalf("status = %s, want filled", got.Status)
	}
	if len(got.Bids) != 1 || got.Bids[0].Resolver != "resolver-1" {
		t.Errorf("bids = %+v, want one bid from resolver-1", got.Bids)
	}

	// A second pass does not re-bid
	r.EvaluateOnce()
	got, _ = engine.GetOrder(order.ID)
	if len(got.Bids) != 1 {
		t.Errorf("bids after second pass = %d, want 1", len(got.Bids))
	}
}

func TestResolverSkipsUnprofitableOrder(t *testing.T) {
	engine := newTestAuctionEngine(t)
	log := logging.New(&logging.Config{Output: io.Discard})

	rcfg := config.DefaultResolverConfig()
	rcfg.GasEstimate = 1 << 40 // gas dwarfs any fee
	r := New("resolver-1", rcfg, engine, log)

	start, _ := decimal.NewFromString("1.1")
	end, _ := decimal.NewFromString("0.95")
	order, err := engine.CreateAuction("swap-1", "SIMA", 100000, start, end, time.Hour)
	if err != nil {
		t.Fatalf("CreateAuction() error = %v", err)
	}

	r.EvaluateOnce()

	got, _ := engine.GetOrder(order.ID)
	if got.Status != auction.StatusActive {
		t.Errorf("status = %s, want active (no bid placed)", got.Status)
	}
	if len(got.Bids) != 0 {
		t.Errorf("bids = %d, want 0", len(got.Bids))
	}
}
