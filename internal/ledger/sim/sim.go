// Package sim provides an in-memory ledger adapter used by tests and by the
// daemon's development mode. It mirrors the contract semantics of the real
// adapters: deterministic lock ids, mutually exclusive withdraw/refund,
// idempotent repeats, and lock lifecycle events.
package sim

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/ledger"
	"github.com/crosslock-exchange/crosslock/pkg/helpers"
)

// Ledger is a simulated single-chain ledger.
type Ledger struct {
	chain ledger.Chain

	mu      sync.Mutex
	height  uint64
	locks   map[string]*ledger.Lock
	txs     map[ledger.TxRef]uint64 // tx ref -> inclusion height
	lockTxs map[lockTxKey]ledger.TxRef
	txSeq   uint64
	subs    []chan ledger.LockEvent

	// clock is swappable for deadline tests.
	clock func() time.Time

	// failNext, when set, makes the next mutating call fail with the given
	// kinded error. Used to exercise retry paths.
	failNext error
}

// New creates a simulated ledger for the given chain.
func New(chain ledger.Chain) *Ledger {
	return &Ledger{
		chain:   chain,
		height:  1,
		locks:   make(map[string]*ledger.Lock),
		txs:     make(map[ledger.TxRef]uint64),
		lockTxs: make(map[lockTxKey]ledger.TxRef),
		clock:   time.Now,
	}
}

// SetClock replaces the ledger's clock. Test hook.
func (l *Ledger) SetClock(clock func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = clock
}

// FailNext makes the next mutating operation fail with err.
func (l *Ledger) FailNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

// AdvanceBlocks mines n empty blocks.
func (l *Ledger) AdvanceBlocks(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.height += n
}

// Chain returns the chain this ledger simulates.
func (l *Ledger) Chain() ledger.Chain {
	return l.chain
}

// LockID derives the deterministic lock id for a set of escrow parameters.
func LockID(chain ledger.Chain, params ledger.CreateLockParams) string {
	h := sha256.New()
	h.Write([]byte(chain))
	h.Write([]byte(params.Sender))
	h.Write([]byte(params.Receiver))
	h.Write(params.Hashlock)
	var deadline [8]byte
	binary.BigEndian.PutUint64(deadline[:], uint64(params.Deadline.Unix()))
	h.Write(deadline[:])
	return hex.EncodeToString(h.Sum(nil))
}

// CreateLock escrows funds under a hashlock.
func (l *Ledger) CreateLock(ctx context.Context, params ledger.CreateLockParams) (*ledger.CreateLockResult, error) {
	const op = "sim.CreateLock"

	if len(params.Hashlock) != sha256.Size {
		return nil, ledger.Errorf(ledger.KindValidation, op, "hashlock must be %d bytes, got %d", sha256.Size, len(params.Hashlock))
	}
	if params.Amount == 0 {
		return nil, ledger.Errorf(ledger.KindValidation, op, "amount must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.takeFailure(op); err != nil {
		return nil, err
	}
	if !params.Deadline.After(l.clock()) {
		return nil, ledger.Errorf(ledger.KindValidation, op, "deadline %s is not in the future", params.Deadline)
	}

	id := LockID(l.chain, params)
	if _, exists := l.locks[id]; exists {
		return nil, ledger.Errorf(ledger.KindConflict, op, "lock %s already exists", id)
	}

	lock := &ledger.Lock{
		ID:       id,
		Chain:    l.chain,
		Sender:   params.Sender,
		Receiver: params.Receiver,
		Asset:    params.Asset,
		Amount:   params.Amount,
		Hashlock: append([]byte(nil), params.Hashlock...),
		Deadline: params.Deadline,
	}
	l.locks[id] = lock

	ref := l.mineTx()
	l.broadcast(ledger.LockEvent{
		Chain:  l.chain,
		LockID: id,
		Kind:   ledger.EventLockCreated,
		Height: l.height,
		TxRef:  ref,
	})

	return &ledger.CreateLockResult{LockID: id, TxRef: ref}, nil
}

// Withdraw claims a lock by revealing the preimage.
func (l *Ledger) Withdraw(ctx context.Context, lockID string, preimage []byte) (ledger.TxRef, error) {
	const op = "sim.Withdraw"

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.takeFailure(op); err != nil {
		return "", err
	}

	lock, ok := l.locks[lockID]
	if !ok {
		return "", ledger.Errorf(ledger.KindNotFound, op, "lock %s not found", lockID)
	}

	// Idempotent repeat with the same preimage
	if lock.Withdrawn {
		if helpers.ConstantTimeCompare(lock.Preimage, preimage) {
			return l.txForLock(lockID, ledger.EventLockWithdrawn), nil
		}
		return "", ledger.Errorf(ledger.KindConflict, op, "lock %s already withdrawn with a different preimage", lockID)
	}
	if lock.Refunded {
		return "", ledger.Errorf(ledger.KindConflict, op, "lock %s already refunded", lockID)
	}

	sum := sha256.Sum256(preimage)
	if !helpers.ConstantTimeCompare(sum[:], lock.Hashlock) {
		return "", ledger.Errorf(ledger.KindValidation, op, "preimage does not match hashlock for lock %s", lockID)
	}
	if !l.clock().Before(lock.Deadline) {
		return "", ledger.Errorf(ledger.KindConflict, op, "lock %s deadline has passed", lockID)
	}

	lock.Withdrawn = true
	lock.Preimage = append([]byte(nil), preimage...)

	ref := l.mineTx()
	l.rememberLockTx(lockID, ledger.EventLockWithdrawn, ref)
	l.broadcast(ledger.LockEvent{
		Chain:    l.chain,
		LockID:   lockID,
		Kind:     ledger.EventLockWithdrawn,
		Height:   l.height,
		TxRef:    ref,
		Preimage: append([]byte(nil), preimage...),
	})

	return ref, nil
}

// Refund returns escrowed funds to the sender after the deadline.
func (l *Ledger) Refund(ctx context.Context, lockID string) (ledger.TxRef, error) {
	const op = "sim.Refund"

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.takeFailure(op); err != nil {
		return "", err
	}

	lock, ok := l.locks[lockID]
	if !ok {
		return "", ledger.Errorf(ledger.KindNotFound, op, "lock %s not found", lockID)
	}

	// Idempotent repeat
	if lock.Refunded {
		return l.txForLock(lockID, ledger.EventLockRefunded), nil
	}
	if lock.Withdrawn {
		return "", ledger.Errorf(ledger.KindConflict, op, "lock %s already withdrawn", lockID)
	}
	if l.clock().Before(lock.Deadline) {
		return "", ledger.Errorf(ledger.KindConflict, op, "lock %s deadline has not passed", lockID)
	}

	lock.Refunded = true

	ref := l.mineTx()
	l.rememberLockTx(lockID, ledger.EventLockRefunded, ref)
	l.broadcast(ledger.LockEvent{
		Chain:  l.chain,
		LockID: lockID,
		Kind:   ledger.EventLockRefunded,
		Height: l.height,
		TxRef:  ref,
	})

	return ref, nil
}

// GetLock returns a copy of the lock's current state.
func (l *Ledger) GetLock(ctx context.Context, lockID string) (*ledger.Lock, error) {
	const op = "sim.GetLock"

	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[lockID]
	if !ok {
		return nil, ledger.Errorf(ledger.KindNotFound, op, "lock %s not found", lockID)
	}

	cp := *lock
	cp.Hashlock = append([]byte(nil), lock.Hashlock...)
	cp.Preimage = append([]byte(nil), lock.Preimage...)
	return &cp, nil
}

// SubscribeLockEvents streams lock events until ctx is cancelled.
func (l *Ledger) SubscribeLockEvents(ctx context.Context) (<-chan ledger.LockEvent, error) {
	ch := make(chan ledger.LockEvent, 64)

	l.mu.Lock()
	l.subs = append(l.subs, ch)
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		for i, sub := range l.subs {
			if sub == ch {
				l.subs = append(l.subs[:i], l.subs[i+1:]...)
				break
			}
		}
		l.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// CurrentHeight returns the simulated chain height.
func (l *Ledger) CurrentHeight(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height, nil
}

// TxHeight returns the inclusion height of a simulated transaction.
func (l *Ledger) TxHeight(ctx context.Context, ref ledger.TxRef) (uint64, error) {
	const op = "sim.TxHeight"

	l.mu.Lock()
	defer l.mu.Unlock()

	height, ok := l.txs[ref]
	if !ok {
		return 0, ledger.Errorf(ledger.KindNotFound, op, "tx %s not found", ref)
	}
	return height, nil
}

// mineTx assigns a tx ref at the next height. Caller holds l.mu.
func (l *Ledger) mineTx() ledger.TxRef {
	l.height++
	l.txSeq++
	h := sha256.New()
	h.Write([]byte(l.chain))
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], l.txSeq)
	h.Write(seq[:])
	ref := ledger.TxRef(hex.EncodeToString(h.Sum(nil)))
	l.txs[ref] = l.height
	return ref
}

// lockTxKey keys the per-lock tx memory used for idempotent repeats.
type lockTxKey struct {
	lockID string
	kind   ledger.EventKind
}

// Callers hold l.mu.
func (l *Ledger) rememberLockTx(lockID string, kind ledger.EventKind, ref ledger.TxRef) {
	l.lockTxs[lockTxKey{lockID, kind}] = ref
}

func (l *Ledger) txForLock(lockID string, kind ledger.EventKind) ledger.TxRef {
	return l.lockTxs[lockTxKey{lockID, kind}]
}

// broadcast fans an event out to all subscribers. Caller holds l.mu.
// Slow subscribers drop events rather than block the ledger.
func (l *Ledger) broadcast(event ledger.LockEvent) {
	for _, sub := range l.subs {
		select {
		case sub <- event:
		default:
		}
	}
}

// takeFailure consumes a pending injected failure. Caller holds l.mu.
func (l *Ledger) takeFailure(op string) error {
	if l.failNext == nil {
		return nil
	}
	err := l.failNext
	l.failNext = nil
	var le *ledger.Error
	if errors.As(err, &le) {
		return err
	}
	return ledger.NewError(ledger.KindTransient, op, err)
}
