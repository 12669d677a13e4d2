// Package storage - Auction order and bid persistence.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Auction persistence errors
var (
	ErrOrderNotFound = errors.New("auction order not found")
)

// OrderRecord represents a persisted auction order.
type OrderRecord struct {
	ID     string `json:"id"`
	SwapID string `json:"swap_id,omitempty"`

	Asset string `json:"asset"`
	Value uint64 `json:"value"`

	// Decay parameters, decimal strings
	StartPrice string        `json:"start_price"`
	EndPrice   string        `json:"end_price"`
	Duration   time.Duration `json:"duration"`

	// Status (active, filled, expired, cancelled)
	Status string `json:"status"`

	// Fill result
	WinningBidID  string `json:"winning_bid_id,omitempty"`
	ClearingPrice string `json:"clearing_price,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ClosedAt  time.Time `json:"closed_at,omitempty"`
}

// SaveOrder saves or updates an auction order.
func (s *Storage) SaveOrder(order *OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	query := `
		INSERT INTO auction_orders (
			id, swap_id, asset, value, start_price, end_price, duration_seconds,
			status, winning_bid_id, clearing_price,
			created_at, updated_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			winning_bid_id = excluded.winning_bid_id,
			clearing_price = excluded.clearing_price,
			updated_at = excluded.updated_at,
			closed_at = excluded.closed_at
	`

	_, err := s.db.Exec(query,
		order.ID,
		order.SwapID,
		order.Asset,
		order.Value,
		order.StartPrice,
		order.EndPrice,
		int64(order.Duration.Seconds()),
		order.Status,
		order.WinningBidID,
		order.ClearingPrice,
		order.CreatedAt.Unix(),
		order.UpdatedAt.Unix(),
		timeToUnixOrZero(order.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}

	return nil
}

// GetOrder retrieves an auction order by ID.
func (s *Storage) GetOrder(id string) (*OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var order OrderRecord
	var swapID, winningBidID, clearingPrice sql.NullString
	var durationSeconds, createdAt, updatedAt, closedAt sql.NullInt64

	err := s.db.QueryRow(`
		SELECT id, swap_id, asset, value, start_price, end_price, duration_seconds,
			   status, winning_bid_id, clearing_price,
			   created_at, updated_at, closed_at
		FROM auction_orders WHERE id = ?
	`, id).Scan(
		&order.ID, &swapID, &order.Asset, &order.Value,
		&order.StartPrice, &order.EndPrice, &durationSeconds,
		&order.Status, &winningBidID, &clearingPrice,
		&createdAt, &updatedAt, &closedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	order.SwapID = swapID.String
	order.WinningBidID = winningBidID.String
	order.ClearingPrice = clearingPrice.String
	order.Duration = time.Duration(durationSeconds.Int64) * time.Second
	order.CreatedAt = time.Unix(createdAt.Int64, 0)
	order.UpdatedAt = time.Unix(updatedAt.Int64, 0)
	order.ClosedAt = unixToTimeOrZero(closedAt.Int64)

	return &order, nil
}

// ListOpenOrders returns all auction orders still accepting bids.
func (s *Storage) ListOpenOrders() ([]*OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, swap_id, asset, value, start_price, end_price, duration_seconds,
			   status, winning_bid_id, clearing_price,
			   created_at, updated_at, closed_at
		FROM auction_orders WHERE status = 'active'
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}
	defer rows.Close()

	var orders []*OrderRecord
	for rows.Next() {
		var order OrderRecord
		var swapID, winningBidID, clearingPrice sql.NullString
		var durationSeconds, createdAt, updatedAt, closedAt sql.NullInt64

		err := rows.Scan(
			&order.ID, &swapID, &order.Asset, &order.Value,
			&order.StartPrice, &order.EndPrice, &durationSeconds,
			&order.Status, &winningBidID, &clearingPrice,
			&createdAt, &updatedAt, &closedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}

		order.SwapID = swapID.String
		order.WinningBidID = winningBidID.String
		order.ClearingPrice = clearingPrice.String
		order.Duration = time.Duration(durationSeconds.Int64) * time.Second
		order.CreatedAt = time.Unix(createdAt.Int64, 0)
		order.UpdatedAt = time.Unix(updatedAt.Int64, 0)
		order.ClosedAt = unixToTimeOrZero(closedAt.Int64)

		orders = append(orders, &order)
	}

	return orders, rows.Err()
}

// BidRecord represents a persisted auction bid.
type BidRecord struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	ResolverID string    `json:"resolver_id"`
	Price      string    `json:"price"`
	Accepted   bool      `json:"accepted"`
	CreatedAt  time.Time `json:"created_at"`
}

// SaveBid records a bid against an auction order.
func (s *Storage) SaveBid(bid *BidRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bid.CreatedAt.IsZero() {
		bid.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO auction_bids (id, order_id, resolver_id, price, accepted, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET accepted = excluded.accepted
	`, bid.ID, bid.OrderID, bid.ResolverID, bid.Price, boolToInt(bid.Accepted), bid.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save bid: %w", err)
	}

	return nil
}

// ListBidsByOrder returns all bids placed against an order.
func (s *Storage) ListBidsByOrder(orderID string) ([]*BidRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, order_id, resolver_id, price, accepted, created_at
		FROM auction_bids WHERE order_id = ?
		ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	defer rows.Close()

	var bids []*BidRecord
	for rows.Next() {
		var bid BidRecord
		var accepted int
		var createdAt int64

		if err := rows.Scan(&bid.ID, &bid.OrderID, &bid.ResolverID, &bid.Price, &accepted, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bid.Accepted = accepted != 0
		bid.CreatedAt = time.Unix(createdAt, 0)
		bids = append(bids, &bid)
	}

	return bids, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
