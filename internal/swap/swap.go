// Package swap implements the cross-chain swap protocol logic: the swap
// state machine, the secret registry, and the coordinator driving escrow,
// disclosure, completion, and refund across two ledgers.
package swap

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/config"
	"github.com/crosslock-exchange/crosslock/internal/ledger"
	"github.com/crosslock-exchange/crosslock/pkg/helpers"
)

// Common errors
var (
	ErrUnsupportedChain = errors.New("unsupported chain")
	ErrInvalidStatus    = errors.New("invalid swap status")
	ErrSwapNotFound     = errors.New("swap not found")
	ErrSecretMismatch   = errors.New("secret does not match hash")
	ErrNotReady         = errors.New("both locks must be linked before disclosure")
	ErrTimeoutRace      = errors.New("too close to deadline - safety margin not met")
	ErrTimelockTooShort = errors.New("timelock below chain minimum")
	ErrTimelockTooLong  = errors.New("timelock above chain maximum")
	ErrWindowOrdering   = errors.New("destination deadline must precede source deadline by the safety margin")
	ErrAmountOutOfRange = errors.New("amount outside chain limits")
	ErrCancelTooLate    = errors.New("swap can only be cancelled before it is ready")
)

// Status represents the current status of a swap.
type Status string

const (
	StatusInitiated   Status = "initiated"    // Secret generated, nothing escrowed
	StatusSrcEscrowed Status = "src_escrowed" // Initiator's funds locked on source chain
	StatusDstEscrowed Status = "dst_escrowed" // Counterparty's funds locked on destination chain
	StatusReady       Status = "ready"        // Both locks final, disclosure permitted
	StatusCompleted   Status = "completed"    // Both locks withdrawn
	StatusRefunded    Status = "refunded"     // Locks returned to their senders
	StatusFailed      Status = "failed"       // Fatal error, terminal
	StatusCancelled   Status = "cancelled"    // Cancelled before any funds moved
)

// Swap represents a cross-chain swap between two parties.
type Swap struct {
	ID string

	// Direction
	SourceChain ledger.Chain
	DestChain   ledger.Chain

	// Parties
	Initiator    string
	Counterparty string

	// Resolver is the auction winner executing this swap, if it was matched
	// through an auction.
	Resolver string

	// Amounts in smallest units
	SourceAmount uint64
	DestAmount   uint64

	// Hashlock shared by both locks
	Hashlock []byte

	Status Status

	// Lock references
	SrcLockID string
	DstLockID string
	SrcTx     ledger.TxRef
	DstTx     ledger.TxRef

	// Deadlines
	SrcDeadline time.Time
	DstDeadline time.Time

	// CancelRequested marks a swap whose owner asked out before readiness
	// while funds were already locked. The deadline sweep refunds it.
	CancelRequested bool

	// Terminal-state reporting
	FailureReason string
	SrcLockState  string
	DstLockState  string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
}

// Params describes a swap to initiate.
type Params struct {
	SourceChain  ledger.Chain
	DestChain    ledger.Chain
	Initiator    string
	Counterparty string
	SourceAmount uint64
	DestAmount   uint64
}

// Validate checks chains and amounts against the protocol configuration.
func (p *Params) Validate(cfg *config.ProtocolConfig) error {
	src, ok := cfg.GetChain(string(p.SourceChain))
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedChain, p.SourceChain)
	}
	dst, ok := cfg.GetChain(string(p.DestChain))
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedChain, p.DestChain)
	}
	if p.SourceChain == p.DestChain {
		return fmt.Errorf("%w: source and destination must differ", ErrUnsupportedChain)
	}

	if p.SourceAmount < src.MinAmount {
		return fmt.Errorf("%w: source amount %d below minimum %d", ErrAmountOutOfRange, p.SourceAmount, src.MinAmount)
	}
	if src.MaxAmount > 0 && p.SourceAmount > src.MaxAmount {
		return fmt.Errorf("%w: source amount %d above maximum %d", ErrAmountOutOfRange, p.SourceAmount, src.MaxAmount)
	}
	if p.DestAmount < dst.MinAmount {
		return fmt.Errorf("%w: destination amount %d below minimum %d", ErrAmountOutOfRange, p.DestAmount, dst.MinAmount)
	}
	if dst.MaxAmount > 0 && p.DestAmount > dst.MaxAmount {
		return fmt.Errorf("%w: destination amount %d above maximum %d", ErrAmountOutOfRange, p.DestAmount, dst.MaxAmount)
	}

	if p.Initiator == "" || p.Counterparty == "" {
		return errors.New("both parties must be set")
	}

	return nil
}

// GenerateSecret generates a random secret of the given size and its SHA256
// hash.
func GenerateSecret(size int) (secret, hash []byte, err error) {
	secret, err = helpers.GenerateSecureRandom(size)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	return secret, HashSecret(secret), nil
}

// HashSecret computes the SHA256 hash of a secret.
func HashSecret(secret []byte) []byte {
	hash := sha256.Sum256(secret)
	return hash[:]
}

// VerifySecret checks if a secret matches a hash in constant time.
func VerifySecret(secret, hash []byte) bool {
	return helpers.ConstantTimeCompare(HashSecret(secret), hash)
}

// TransitionTo attempts to transition the swap to a new status.
func (s *Swap) TransitionTo(newStatus Status) error {
	// Valid status transitions. Refund edges exist from every escrowed
	// status; failed is reachable from any non-terminal status.
	valid := map[Status][]Status{
		StatusInitiated:   {StatusSrcEscrowed, StatusCancelled, StatusFailed},
		StatusSrcEscrowed: {StatusDstEscrowed, StatusRefunded, StatusFailed},
		StatusDstEscrowed: {StatusReady, StatusRefunded, StatusFailed},
		StatusReady:       {StatusCompleted, StatusRefunded, StatusFailed},
		StatusCompleted:   {},
		StatusRefunded:    {},
		StatusFailed:      {},
		StatusCancelled:   {},
	}

	validTransitions, ok := valid[s.Status]
	if !ok {
		return fmt.Errorf("%w: unknown current status %s", ErrInvalidStatus, s.Status)
	}

	for _, validStatus := range validTransitions {
		if validStatus == newStatus {
			s.Status = newStatus
			s.UpdatedAt = time.Now()
			return nil
		}
	}

	return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, s.Status, newStatus)
}

// IsTerminal returns true if the swap is in a terminal status.
func (s *Swap) IsTerminal() bool {
	switch s.Status {
	case StatusCompleted, StatusRefunded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// validateTimelock checks a lock window against the chain's bounds.
func validateTimelock(chain config.Chain, window time.Duration) error {
	if window < chain.MinTimelock {
		return fmt.Errorf("%w: %s < %s on %s", ErrTimelockTooShort, window, chain.MinTimelock, chain.Symbol)
	}
	if window > chain.MaxTimelock {
		return fmt.Errorf("%w: %s > %s on %s", ErrTimelockTooLong, window, chain.MaxTimelock, chain.Symbol)
	}
	return nil
}
