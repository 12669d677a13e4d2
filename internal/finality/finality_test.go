package finality

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/config"
	"github.com/crosslock-exchange/crosslock/internal/ledger"
	"github.com/crosslock-exchange/crosslock/internal/ledger/sim"
	"github.com/crosslock-exchange/crosslock/pkg/logging"
)

func newTracker(t *testing.T, led *sim.Ledger, ceiling time.Duration) *Tracker {
	t.Helper()

	cfg := config.NewProtocolConfig()
	cfg.Swap.FinalityCeiling = ceiling
	adapters := map[ledger.Chain]ledger.Adapter{
		led.Chain(): led,
	}
	return NewTracker(adapters, cfg, logging.Default())
}

func createLock(t *testing.T, led *sim.Ledger) ledger.TxRef {
	t.Helper()

	preimage := []byte("0123456789abcdef0123456789abcdef")
	hashlock := sha256.Sum256(preimage)
	res, err := led.CreateLock(context.Background(), ledger.CreateLockParams{
		Sender: "a", Receiver: "b", Asset: "SIMA", Amount: 1,
		Hashlock: hashlock[:],
		Deadline: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateLock() error = %v", err)
	}
	return res.TxRef
}

func TestWaitForFinalityReached(t *testing.T) {
	led := sim.New("SIMA")
	tracker := newTracker(t, led, 5*time.Second)
	ref := createLock(t, led)

	// SIMA requires 2 confirmations; inclusion counts as 1
	led.AdvanceBlocks(1)

	err := tracker.WaitForFinality(context.Background(), "SIMA", ref, 0)
	if err != nil {
		t.Fatalf("WaitForFinality() error = %v", err)
	}
}

func TestWaitForFinalityTimeout(t *testing.T) {
	led := sim.New("SIMA")
	tracker := newTracker(t, led, 100*time.Millisecond)
	ref := createLock(t, led)

	// Ask for a depth the chain never reaches
	err := tracker.WaitForFinality(context.Background(), "SIMA", ref, 100)
	if !errors.Is(err, ErrFinalityTimeout) {
		t.Fatalf("expected ErrFinalityTimeout, got %v", err)
	}
}

func TestWaitForFinalityUnknownChain(t *testing.T) {
	led := sim.New("SIMA")
	tracker := newTracker(t, led, time.Second)

	err := tracker.WaitForFinality(context.Background(), "NOPE", "tx", 1)
	if !errors.Is(err, ErrUnknownChain) {
		t.Fatalf("expected ErrUnknownChain, got %v", err)
	}
}

func TestWaitForFinalityContextCancel(t *testing.T) {
	led := sim.New("SIMA")
	tracker := newTracker(t, led, time.Minute)
	ref := createLock(t, led)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tracker.WaitForFinality(ctx, "SIMA", ref, 100)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRequiredDepth(t *testing.T) {
	led := sim.New("SIMA")
	tracker := newTracker(t, led, time.Second)

	chain, _ := config.GetChain("SIMA")
	if got := tracker.RequiredDepth("SIMA"); got != chain.Confirmations {
		t.Errorf("RequiredDepth = %d, want %d", got, chain.Confirmations)
	}
}
