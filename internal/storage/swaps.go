// Package storage - Swap state persistence.
// This file provides CRUD operations for persisting swap state to SQLite,
// enabling recovery after daemon restart.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Swap persistence errors
var (
	ErrSwapNotFound = errors.New("swap not found")
)

// SwapRecord represents a persisted swap in the database.
// This contains all data needed to recover a swap after restart.
type SwapRecord struct {
	ID string `json:"id"`

	// Direction
	SourceChain string `json:"source_chain"`
	DestChain   string `json:"dest_chain"`

	// Parties
	Initiator    string `json:"initiator"`
	Counterparty string `json:"counterparty"`
	Resolver     string `json:"resolver,omitempty"`

	// Amounts in smallest units
	SourceAmount uint64 `json:"source_amount"`
	DestAmount   uint64 `json:"dest_amount"`

	// Hashlock, hex-encoded
	Hashlock string `json:"hashlock"`

	// Status
	Status string `json:"status"`

	// Lock references
	SrcLockID string `json:"src_lock_id,omitempty"`
	DstLockID string `json:"dst_lock_id,omitempty"`
	SrcTx     string `json:"src_tx,omitempty"`
	DstTx     string `json:"dst_tx,omitempty"`

	// Deadlines
	SrcDeadline time.Time `json:"src_deadline"`
	DstDeadline time.Time `json:"dst_deadline"`

	// Terminal-state reporting
	FailureReason string `json:"failure_reason,omitempty"`
	SrcLockState  string `json:"src_lock_state,omitempty"`
	DstLockState  string `json:"dst_lock_state,omitempty"`

	// CancelRequested records a cancel issued while funds were escrowed.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// Timing
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// SaveSwap saves or updates a swap record.
// Uses UPSERT pattern - creates if not exists, updates if exists.
func (s *Storage) SaveSwap(swap *SwapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if swap.CreatedAt.IsZero() {
		swap.CreatedAt = now
	}
	swap.UpdatedAt = now

	query := `
		INSERT INTO swaps (
			id, source_chain, dest_chain, initiator, counterparty, resolver,
			source_amount, dest_amount, hashlock, status,
			src_lock_id, dst_lock_id, src_tx, dst_tx,
			src_deadline, dst_deadline,
			failure_reason, src_lock_state, dst_lock_state, cancel_requested,
			created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			resolver = excluded.resolver,
			status = excluded.status,
			src_lock_id = excluded.src_lock_id,
			dst_lock_id = excluded.dst_lock_id,
			src_tx = excluded.src_tx,
			dst_tx = excluded.dst_tx,
			src_deadline = excluded.src_deadline,
			dst_deadline = excluded.dst_deadline,
			failure_reason = excluded.failure_reason,
			src_lock_state = excluded.src_lock_state,
			dst_lock_state = excluded.dst_lock_state,
			cancel_requested = excluded.cancel_requested,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`

	_, err := s.db.Exec(query,
		swap.ID,
		swap.SourceChain,
		swap.DestChain,
		swap.Initiator,
		swap.Counterparty,
		swap.Resolver,
		swap.SourceAmount,
		swap.DestAmount,
		swap.Hashlock,
		swap.Status,
		swap.SrcLockID,
		swap.DstLockID,
		swap.SrcTx,
		swap.DstTx,
		timeToUnixOrZero(swap.SrcDeadline),
		timeToUnixOrZero(swap.DstDeadline),
		swap.FailureReason,
		swap.SrcLockState,
		swap.DstLockState,
		swap.CancelRequested,
		swap.CreatedAt.Unix(),
		swap.UpdatedAt.Unix(),
		timeToUnixOrZero(swap.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save swap: %w", err)
	}

	return nil
}

// GetSwap retrieves a swap by ID.
func (s *Storage) GetSwap(id string) (*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, source_chain, dest_chain, initiator, counterparty, resolver,
			   source_amount, dest_amount, hashlock, status,
			   src_lock_id, dst_lock_id, src_tx, dst_tx,
			   src_deadline, dst_deadline,
			   failure_reason, src_lock_state, dst_lock_state, cancel_requested,
			   created_at, updated_at, completed_at
		FROM swaps WHERE id = ?
	`, id)

	swap, err := scanSwap(row)
	if err == sql.ErrNoRows {
		return nil, ErrSwapNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get swap: %w", err)
	}
	return swap, nil
}

// ListSwapsByStatus returns all swaps with the given status.
func (s *Storage) ListSwapsByStatus(status string) ([]*SwapRecord, error) {
	return s.listSwaps(`
		SELECT id, source_chain, dest_chain, initiator, counterparty, resolver,
			   source_amount, dest_amount, hashlock, status,
			   src_lock_id, dst_lock_id, src_tx, dst_tx,
			   src_deadline, dst_deadline,
			   failure_reason, src_lock_state, dst_lock_state, cancel_requested,
			   created_at, updated_at, completed_at
		FROM swaps WHERE status = ?
		ORDER BY created_at
	`, status)
}

// ListPendingSwaps returns all swaps that are not in a terminal state.
// Used on startup to resume in-flight swaps.
func (s *Storage) ListPendingSwaps() ([]*SwapRecord, error) {
	return s.listSwaps(`
		SELECT id, source_chain, dest_chain, initiator, counterparty, resolver,
			   source_amount, dest_amount, hashlock, status,
			   src_lock_id, dst_lock_id, src_tx, dst_tx,
			   src_deadline, dst_deadline,
			   failure_reason, src_lock_state, dst_lock_state, cancel_requested,
			   created_at, updated_at, completed_at
		FROM swaps WHERE status NOT IN ('completed', 'refunded', 'failed', 'cancelled')
		ORDER BY created_at
	`)
}

func (s *Storage) listSwaps(query string, args ...interface{}) ([]*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list swaps: %w", err)
	}
	defer rows.Close()

	var swaps []*SwapRecord
	for rows.Next() {
		swap, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan swap: %w", err)
		}
		swaps = append(swaps, swap)
	}
	return swaps, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSwap(row scanner) (*SwapRecord, error) {
	var swap SwapRecord
	var resolver, srcLockID, dstLockID, srcTx, dstTx sql.NullString
	var failureReason, srcLockState, dstLockState sql.NullString
	var srcDeadline, dstDeadline, createdAt, updatedAt, completedAt sql.NullInt64

	err := row.Scan(
		&swap.ID, &swap.SourceChain, &swap.DestChain, &swap.Initiator, &swap.Counterparty, &resolver,
		&swap.SourceAmount, &swap.DestAmount, &swap.Hashlock, &swap.Status,
		&srcLockID, &dstLockID, &srcTx, &dstTx,
		&srcDeadline, &dstDeadline,
		&failureReason, &srcLockState, &dstLockState, &swap.CancelRequested,
		&createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	swap.Resolver = resolver.String
	swap.SrcLockID = srcLockID.String
	swap.DstLockID = dstLockID.String
	swap.SrcTx = srcTx.String
	swap.DstTx = dstTx.String
	swap.FailureReason = failureReason.String
	swap.SrcLockState = srcLockState.String
	swap.DstLockState = dstLockState.String
	swap.SrcDeadline = unixToTimeOrZero(srcDeadline.Int64)
	swap.DstDeadline = unixToTimeOrZero(dstDeadline.Int64)
	swap.CreatedAt = time.Unix(createdAt.Int64, 0)
	swap.UpdatedAt = time.Unix(updatedAt.Int64, 0)
	swap.CompletedAt = unixToTimeOrZero(completedAt.Int64)

	return &swap, nil
}

func timeToUnixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func unixToTimeOrZero(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}
