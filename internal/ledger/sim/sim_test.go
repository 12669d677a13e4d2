package sim

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/ledger"
)

func newTestLock(t *testing.T, l *Ledger, deadline time.Time) (string, []byte) {
	t.Helper()

	preimage := []byte("0123456789abcdef0123456789abcdef")
	hashlock := sha256.Sum256(preimage)

	res, err := l.CreateLock(context.Background(), ledger.CreateLockParams{
		Sender:   "alice",
		Receiver: "bob",
		Asset:    "SIMA",
		Amount:   100000,
		Hashlock: hashlock[:],
		Deadline: deadline,
	})
	if err != nil {
		t.Fatalf("CreateLock() error = %v", err)
	}
	return res.LockID, preimage
}

func TestCreateLockDeterministicID(t *testing.T) {
	deadline := time.Now().Add(time.Hour)
	params := ledger.CreateLockParams{
		Sender:   "alice",
		Receiver: "bob",
		Asset:    "SIMA",
		Amount:   100000,
		Hashlock: make([]byte, 32),
		Deadline: deadline,
	}

	a := LockID("SIMA", params)
	b := LockID("SIMA", params)
	if a != b {
		t.Error("same params should derive the same lock id")
	}

	other := params
	other.Receiver = "carol"
	if LockID("SIMA", other) == a {
		t.Error("different params should derive a different lock id")
	}
	if LockID("SIMB", params) == a {
		t.Error("different chain should derive a different lock id")
	}
}

func TestCreateLockValidation(t *testing.T) {
	l := New("SIMA")
	ctx := context.Background()

	tests := []struct {
		name   string
		params ledger.CreateLockParams
	}{
		{"short hashlock", ledger.CreateLockParams{
			Sender: "a", Receiver: "b", Amount: 1,
			Hashlock: []byte{1, 2, 3},
			Deadline: time.Now().Add(time.Hour),
		}},
		{"zero amount", ledger.CreateLockParams{
			Sender: "a", Receiver: "b", Amount: 0,
			Hashlock: make([]byte, 32),
			Deadline: time.Now().Add(time.Hour),
		}},
		{"past deadline", ledger.CreateLockParams{
			Sender: "a", Receiver: "b", Amount: 1,
			Hashlock: make([]byte, 32),
			Deadline: time.Now().Add(-time.Hour),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.CreateLock(ctx, tt.params)
			if !ledger.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateLockDuplicate(t *testing.T) {
	l := New("SIMA")
	ctx := context.Background()
	deadline := time.Now().Add(time.Hour).Truncate(time.Second)

	params := ledger.CreateLockParams{
		Sender: "alice", Receiver: "bob", Asset: "SIMA", Amount: 100,
		Hashlock: make([]byte, 32),
		Deadline: deadline,
	}
	if _, err := l.CreateLock(ctx, params); err != nil {
		t.Fatalf("first CreateLock() error = %v", err)
	}
	_, err := l.CreateLock(ctx, params)
	if !ledger.IsConflict(err) {
		t.Errorf("duplicate lock should be a conflict, got %v", err)
	}
}

func TestWithdraw(t *testing.T) {
	l := New("SIMA")
	ctx := context.Background()
	lockID, preimage := newTestLock(t, l, time.Now().Add(time.Hour))

	// Wrong preimage rejected
	_, err := l.Withdraw(ctx, lockID, []byte("wrong"))
	if !ledger.IsValidation(err) {
		t.Errorf("wrong preimage should be a validation error, got %v", err)
	}

	ref, err := l.Withdraw(ctx, lockID, preimage)
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if ref == "" {
		t.Error("withdraw should return a tx ref")
	}

	lock, err := l.GetLock(ctx, lockID)
	if err != nil {
		t.Fatalf("GetLock() error = %v", err)
	}
	if !lock.Withdrawn {
		t.Error("lock should be withdrawn")
	}
	if string(lock.Preimage) != string(preimage) {
		t.Error("lock should record the preimage")
	}

	// Idempotent repeat with the same preimage
	ref2, err := l.Withdraw(ctx, lockID, preimage)
	if err != nil {
		t.Fatalf("repeated Withdraw() error = %v", err)
	}
	if ref2 != ref {
		t.Error("repeated withdraw should return the original tx ref")
	}

	// Refund after withdraw is a conflict
	_, err = l.Refund(ctx, lockID)
	if !ledger.IsConflict(err) {
		t.Errorf("refund after withdraw should be a conflict, got %v", err)
	}
}

func TestRefund(t *testing.T) {
	l := New("SIMA")
	ctx := context.Background()

	now := time.Now()
	l.SetClock(func() time.Time { return now })
	lockID, preimage := newTestLock(t, l, now.Add(time.Hour))

	// Before deadline refund is a conflict
	_, err := l.Refund(ctx, lockID)
	if !ledger.IsConflict(err) {
		t.Errorf("refund before deadline should be a conflict, got %v", err)
	}

	// Past deadline refund succeeds
	l.SetClock(func() time.Time { return now.Add(2 * time.Hour) })
	ref, err := l.Refund(ctx, lockID)
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}

	// Idempotent repeat
	ref2, err := l.Refund(ctx, lockID)
	if err != nil {
		t.Fatalf("repeated Refund() error = %v", err)
	}
	if ref2 != ref {
		t.Error("repeated refund should return the original tx ref")
	}

	// Withdraw after refund is a conflict
	_, err = l.Withdraw(ctx, lockID, preimage)
	if !ledger.IsConflict(err) {
		t.Errorf("withdraw after refund should be a conflict, got %v", err)
	}
}

func TestWithdrawPastDeadline(t *testing.T) {
	l := New("SIMA")
	ctx := context.Background()

	now := time.Now()
	l.SetClock(func() time.Time { return now })
	lockID, preimage := newTestLock(t, l, now.Add(time.Hour))

	l.SetClock(func() time.Time { return now.Add(2 * time.Hour) })
	_, err := l.Withdraw(ctx, lockID, preimage)
	if !ledger.IsConflict(err) {
		t.Errorf("withdraw past deadline should be a conflict, got %v", err)
	}
}

func TestEvents(t *testing.T) {
	l := New("SIMA")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := l.SubscribeLockEvents(ctx)
	if err != nil {
		t.Fatalf("SubscribeLockEvents() error = %v", err)
	}

	lockID, preimage := newTestLock(t, l, time.Now().Add(time.Hour))
	if _, err := l.Withdraw(context.Background(), lockID, preimage); err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}

	created := <-events
	if created.Kind != ledger.EventLockCreated || created.LockID != lockID {
		t.Errorf("first event = %+v, want created for %s", created, lockID)
	}

	withdrawn := <-events
	if withdrawn.Kind != ledger.EventLockWithdrawn {
		t.Errorf("second event kind = %s, want withdrawn", withdrawn.Kind)
	}
	if string(withdrawn.Preimage) != string(preimage) {
		t.Error("withdrawn event should carry the preimage")
	}
}

func TestHeightAndTxHeight(t *testing.T) {
	l := New("SIMA")
	ctx := context.Background()

	h0, _ := l.CurrentHeight(ctx)

	preimage := []byte("0123456789abcdef0123456789abcdef")
	hashlock := sha256.Sum256(preimage)
	res, err := l.CreateLock(ctx, ledger.CreateLockParams{
		Sender: "a", Receiver: "b", Asset: "SIMA", Amount: 1,
		Hashlock: hashlock[:],
		Deadline: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateLock() error = %v", err)
	}

	txh, err := l.TxHeight(ctx, res.TxRef)
	if err != nil {
		t.Fatalf("TxHeight() error = %v", err)
	}
	if txh <= h0 {
		t.Errorf("tx height %d should exceed pre-create height %d", txh, h0)
	}

	l.AdvanceBlocks(5)
	h1, _ := l.CurrentHeight(ctx)
	if h1 != txh+5 {
		t.Errorf("height after 5 blocks = %d, want %d", h1, txh+5)
	}

	if _, err := l.TxHeight(ctx, "missing"); !ledger.IsNotFound(err) {
		t.Errorf("unknown tx should be not-found, got %v", err)
	}
}

func TestFailNext(t *testing.T) {
	l := New("SIMA")
	ctx := context.Background()

	l.FailNext(ledger.Errorf(ledger.KindTransient, "sim", "injected"))

	preimage := []byte("0123456789abcdef0123456789abcdef")
	hashlock := sha256.Sum256(preimage)
	params := ledger.CreateLockParams{
		Sender: "a", Receiver: "b", Asset: "SIMA", Amount: 1,
		Hashlock: hashlock[:],
		Deadline: time.Now().Add(time.Hour),
	}

	_, err := l.CreateLock(ctx, params)
	if !ledger.IsTransient(err) {
		t.Fatalf("expected injected transient error, got %v", err)
	}

	// Failure is consumed; retry succeeds
	if _, err := l.CreateLock(ctx, params); err != nil {
		t.Fatalf("retry after injected failure error = %v", err)
	}
}
