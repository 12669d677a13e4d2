// Package storage - Secret persistence for hashlock preimages.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Secret errors
var (
	ErrSecretNotFound      = errors.New("secret not found")
	ErrSecretAlreadyExists = errors.New("secret already exists for this swap")
)

// Secret represents a hashlock secret in the database.
type Secret struct {
	SwapID string

	// The secret hash (always known - SHA256 of the preimage)
	SecretHash string // hex-encoded

	// The preimage (only after disclosure)
	Secret string // hex-encoded

	// Timing
	CreatedAt   time.Time
	DisclosedAt *time.Time
}

// CreateSecret records a secret for a swap. The preimage may be empty when
// only the hash is known; disclosed_at stays NULL until disclosure.
func (s *Storage) CreateSecret(swapID, secretHash, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var secretValue *string
	if secret != "" {
		secretValue = &secret
	}

	_, err := s.db.Exec(`
		INSERT INTO secrets (swap_id, secret_hash, secret, created_at) VALUES (?, ?, ?, ?)
	`, swapID, secretHash, secretValue, time.Now().Unix())

	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSecretAlreadyExists
		}
		return fmt.Errorf("failed to create secret: %w", err)
	}

	return nil
}

// GetSecret retrieves the secret record for a swap.
func (s *Storage) GetSecret(swapID string) (*Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var secret Secret
	var secretValue sql.NullString
	var createdAt, disclosedAt sql.NullInt64

	err := s.db.QueryRow(`
		SELECT swap_id, secret_hash, secret, created_at, disclosed_at
		FROM secrets WHERE swap_id = ?
	`, swapID).Scan(
		&secret.SwapID, &secret.SecretHash, &secretValue, &createdAt, &disclosedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrSecretNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}

	if secretValue.Valid {
		secret.Secret = secretValue.String
	}
	secret.CreatedAt = time.Unix(createdAt.Int64, 0)
	if disclosedAt.Valid {
		t := time.Unix(disclosedAt.Int64, 0)
		secret.DisclosedAt = &t
	}

	return &secret, nil
}

// DiscloseSecret records the disclosure of a swap's preimage.
// Idempotent: a repeat on an already-disclosed secret is a no-op.
func (s *Storage) DiscloseSecret(swapID, preimage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()

	result, err := s.db.Exec(`
		UPDATE secrets SET secret = COALESCE(secret, ?), disclosed_at = ?
		WHERE swap_id = ? AND disclosed_at IS NULL
	`, preimage, now, swapID)

	if err != nil {
		return fmt.Errorf("failed to disclose secret: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Either not found or already disclosed
		var existing sql.NullString
		err := s.db.QueryRow("SELECT secret FROM secrets WHERE swap_id = ?", swapID).Scan(&existing)
		if err == sql.ErrNoRows {
			return ErrSecretNotFound
		}
		// Already disclosed - operation is idempotent
		return nil
	}

	return nil
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return contains(err.Error(), "UNIQUE constraint failed")
}

// contains checks if a string contains a substring (simple implementation).
func contains(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
