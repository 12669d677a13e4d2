package swap

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/storage"
)

// SecretEntry holds everything the registry knows about a swap's secret.
type SecretEntry struct {
	SwapID      string
	Secret      []byte
	Hash        []byte
	SrcLockID   string
	DstLockID   string
	Disclosed   bool
	DisclosedAt time.Time
}

// bothLinked reports whether both legs reference a lock.
func (e *SecretEntry) bothLinked() bool {
	return e.SrcLockID != "" && e.DstLockID != ""
}

// SecretRegistry maps swap ids to secrets, their hashes, and the locks they
// guard. Disclosure is the point of no return of a swap: the registry refuses
// it until both locks are linked, and repeats are idempotent.
type SecretRegistry struct {
	mu      sync.RWMutex
	entries map[string]*SecretEntry
	store   *storage.Storage
}

// NewSecretRegistry creates a registry. store may be nil in tests; disclosure
// is then memory-only.
func NewSecretRegistry(store *storage.Storage) *SecretRegistry {
	return &SecretRegistry{
		entries: make(map[string]*SecretEntry),
		store:   store,
	}
}

// Register stores a fresh secret for a swap.
func (r *SecretRegistry) Register(swapID string, secret, hash []byte) error {
	if !VerifySecret(secret, hash) {
		return ErrSecretMismatch
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[swapID]; exists {
		return fmt.Errorf("secret already registered for swap %s", swapID)
	}

	r.entries[swapID] = &SecretEntry{
		SwapID: swapID,
		Secret: append([]byte(nil), secret...),
		Hash:   append([]byte(nil), hash...),
	}

	if r.store != nil {
		if err := r.store.CreateSecret(swapID, hex.EncodeToString(hash), hex.EncodeToString(secret)); err != nil {
			delete(r.entries, swapID)
			return fmt.Errorf("persist secret: %w", err)
		}
	}

	return nil
}

// Restore rebuilds a registry entry from persisted state. Used on startup
// when resuming in-flight swaps.
func (r *SecretRegistry) Restore(swapID string, srcLockID, dstLockID string) error {
	if r.store == nil {
		return nil
	}

	rec, err := r.store.GetSecret(swapID)
	if err != nil {
		return fmt.Errorf("load secret for swap %s: %w", swapID, err)
	}

	hash, err := hex.DecodeString(rec.SecretHash)
	if err != nil {
		return fmt.Errorf("decode secret hash for swap %s: %w", swapID, err)
	}
	var secret []byte
	if rec.Secret != "" {
		secret, err = hex.DecodeString(rec.Secret)
		if err != nil {
			return fmt.Errorf("decode secret for swap %s: %w", swapID, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := &SecretEntry{
		SwapID:    swapID,
		Secret:    secret,
		Hash:      hash,
		SrcLockID: srcLockID,
		DstLockID: dstLockID,
	}
	if rec.DisclosedAt != nil {
		entry.Disclosed = true
		entry.DisclosedAt = *rec.DisclosedAt
	}
	r.entries[swapID] = entry
	return nil
}

// Link records the lock guarding one leg of the swap.
func (r *SecretRegistry) Link(swapID, lockID string, sourceLeg bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[swapID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSwapNotFound, swapID)
	}

	if sourceLeg {
		entry.SrcLockID = lockID
	} else {
		entry.DstLockID = lockID
	}
	return nil
}

// Disclose marks the secret as disclosed. It refuses with ErrNotReady until
// both locks are linked, and is idempotent once disclosed.
func (r *SecretRegistry) Disclose(swapID string) (*SecretEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[swapID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSwapNotFound, swapID)
	}

	if entry.Disclosed {
		return entry.copy(), nil
	}
	if !entry.bothLinked() {
		return nil, fmt.Errorf("%w: swap %s", ErrNotReady, swapID)
	}

	entry.Disclosed = true
	entry.DisclosedAt = time.Now()

	if r.store != nil {
		if err := r.store.DiscloseSecret(swapID, hex.EncodeToString(entry.Secret)); err != nil {
			return nil, fmt.Errorf("persist disclosure: %w", err)
		}
	}

	return entry.copy(), nil
}

// Get returns the entry for a swap.
func (r *SecretRegistry) Get(swapID string) (*SecretEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[swapID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSwapNotFound, swapID)
	}
	return entry.copy(), nil
}

// Observe records a secret learned from a chain event (a counterparty
// withdrawing a lock reveals the preimage). Returns ErrSecretMismatch if the
// observed preimage does not hash to the registered value.
func (r *SecretRegistry) Observe(swapID string, preimage []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[swapID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSwapNotFound, swapID)
	}
	if !VerifySecret(preimage, entry.Hash) {
		return ErrSecretMismatch
	}
	if entry.Disclosed {
		return nil
	}

	entry.Secret = append([]byte(nil), preimage...)
	entry.Disclosed = true
	entry.DisclosedAt = time.Now()

	if r.store != nil {
		if err := r.store.DiscloseSecret(swapID, hex.EncodeToString(preimage)); err != nil {
			return fmt.Errorf("persist observed disclosure: %w", err)
		}
	}
	return nil
}

func (e *SecretEntry) copy() *SecretEntry {
	cp := *e
	cp.Secret = append([]byte(nil), e.Secret...)
	cp.Hash = append([]byte(nil), e.Hash...)
	return &cp
}
