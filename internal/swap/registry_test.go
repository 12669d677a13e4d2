package swap

import (
	"bytes"
	"errors"
	"testing"
)

func newTestSecret(t *testing.T) (secret, hash []byte) {
	t.Helper()
	secret, hash, err := GenerateSecret(32)
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	return secret, hash
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewSecretRegistry(nil)
	secret, hash := newTestSecret(t)

	if err := r.Register("swap-1", secret, hash); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	entry, err := r.Get("swap-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(entry.Secret, secret) {
		t.Error("stored secret differs")
	}
	if entry.Disclosed {
		t.Error("fresh entry should not be disclosed")
	}

	if err := r.Register("swap-1", secret, hash); err == nil {
		t.Error("duplicate Register() should fail")
	}
}

func TestRegistryRegisterMismatch(t *testing.T) {
	r := NewSecretRegistry(nil)
	secret, _ := newTestSecret(t)
	_, wrongHash := newTestSecret(t)

	if err := r.Register("swap-1", secret, wrongHash); !errors.Is(err, ErrSecretMismatch) {
		t.Errorf("Register() error = %v, want ErrSecretMismatch", err)
	}
}

func TestRegistryDiscloseRequiresBothLinks(t *testing.T) {
	r := NewSecretRegistry(nil)
	secret, hash := newTestSecret(t)

	if err := r.Register("swap-1", secret, hash); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := r.Disclose("swap-1"); !errors.Is(err, ErrNotReady) {
		t.Errorf("Disclose() with no links: error = %v, want ErrNotReady", err)
	}

	if err := r.Link("swap-1", "lock-src", true); err != nil {
		t.Fatalf("Link() error = %v", err)
	}
	if _, err := r.Disclose("swap-1"); !errors.Is(err, ErrNotReady) {
		t.Errorf("Disclose() with one link: error = %v, want ErrNotReady", err)
	}

	if err := r.Link("swap-1", "lock-dst", false); err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	entry, err := r.Disclose("swap-1")
	if err != nil {
		t.Fatalf("Disclose() error = %v", err)
	}
	if !entry.Disclosed || entry.DisclosedAt.IsZero() {
		t.Error("entry should be disclosed with a timestamp")
	}

	// Idempotent repeat keeps the original timestamp
	again, err := r.Disclose("swap-1")
	if err != nil {
		t.Fatalf("repeated Disclose() error = %v", err)
	}
	if !again.DisclosedAt.Equal(entry.DisclosedAt) {
		t.Error("repeat disclosure moved the timestamp")
	}
}

func TestRegistryObserve(t *testing.T) {
	r := NewSecretRegistry(nil)
	secret, hash := newTestSecret(t)

	if err := r.Register("swap-1", secret, hash); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	wrong, _ := newTestSecret(t)
	if err := r.Observe("swap-1", wrong); !errors.Is(err, ErrSecretMismatch) {
		t.Errorf("Observe() wrong preimage: error = %v, want ErrSecretMismatch", err)
	}

	// A chain-observed preimage discloses without requiring links: the
	// counterparty already revealed it on chain.
	if err := r.Observe("swap-1", secret); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	entry, err := r.Get("swap-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !entry.Disclosed {
		t.Error("observed preimage should disclose the secret")
	}

	// Repeat is a no-op
	if err := r.Observe("swap-1", secret); err != nil {
		t.Errorf("repeated Observe() error = %v", err)
	}
}

func TestRegistryUnknownSwap(t *testing.T) {
	r := NewSecretRegistry(nil)

	if err := r.Link("missing", "lock-1", true); !errors.Is(err, ErrSwapNotFound) {
		t.Errorf("Link() error = %v, want ErrSwapNotFound", err)
	}
	if _, err := r.Disclose("missing"); !errors.Is(err, ErrSwapNotFound) {
		t.Errorf("Disclose() error = %v, want ErrSwapNotFound", err)
	}
	if _, err := r.Get("missing"); !errors.Is(err, ErrSwapNotFound) {
		t.Errorf("Get() error = %v, want ErrSwapNotFound", err)
	}
}
