// Package ledger defines the capability interface the swap coordinator uses
// to talk to a chain. Each supported chain provides an Adapter; the
// coordinator never touches chain-specific types directly.
package ledger

import (
	"context"
	"time"
)

// Chain identifies a supported chain by its configured symbol.
type Chain string

// TxRef references a transaction on a chain, in the chain's native encoding.
type TxRef string

// Lock is the chain-agnostic view of a hashed-timelock escrow.
type Lock struct {
	ID       string
	Chain    Chain
	Sender   string
	Receiver string
	Asset    string
	Amount   uint64
	Hashlock []byte
	Deadline time.Time

	Withdrawn bool
	Refunded  bool

	// Preimage is set once the lock has been withdrawn. On a real chain it
	// is read back from the withdraw transaction.
	Preimage []byte
}

// CreateLockParams carries everything needed to escrow funds under a hashlock.
type CreateLockParams struct {
	Sender   string
	Receiver string
	Asset    string
	Amount   uint64
	Hashlock []byte
	Deadline time.Time
}

// CreateLockResult reports the created lock and its funding transaction.
type CreateLockResult struct {
	LockID string
	TxRef  TxRef
}

// EventKind classifies a lock lifecycle event.
type EventKind string

const (
	EventLockCreated   EventKind = "created"
	EventLockWithdrawn EventKind = "withdrawn"
	EventLockRefunded  EventKind = "refunded"
)

// LockEvent is emitted by an adapter when a lock changes state on chain.
type LockEvent struct {
	Chain  Chain
	LockID string
	Kind   EventKind
	Height uint64
	TxRef  TxRef

	// Preimage accompanies withdrawn events.
	Preimage []byte
}

// Adapter is the per-chain capability interface.
//
// Implementations must make Withdraw and Refund mutually exclusive per lock
// and idempotent under retry: withdrawing an already-withdrawn lock with the
// same preimage is not an error, and refunding an already-refunded lock is
// not an error. Conflicting repeats return a conflict-kinded error.
type Adapter interface {
	// Chain returns the chain this adapter serves.
	Chain() Chain

	// CreateLock escrows funds under a hashlock with a deadline.
	CreateLock(ctx context.Context, params CreateLockParams) (*CreateLockResult, error)

	// Withdraw claims a lock by revealing the preimage. The preimage becomes
	// public on chain.
	Withdraw(ctx context.Context, lockID string, preimage []byte) (TxRef, error)

	// Refund returns escrowed funds to the sender after the deadline.
	Refund(ctx context.Context, lockID string) (TxRef, error)

	// GetLock returns the current state of a lock.
	GetLock(ctx context.Context, lockID string) (*Lock, error)

	// SubscribeLockEvents streams lock lifecycle events. The channel is
	// closed when ctx is cancelled.
	SubscribeLockEvents(ctx context.Context) (<-chan LockEvent, error)

	// CurrentHeight returns the chain's current block height.
	CurrentHeight(ctx context.Context) (uint64, error)

	// TxHeight returns the height at which a transaction was included.
	TxHeight(ctx context.Context, ref TxRef) (uint64, error)
}
