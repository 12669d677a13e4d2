package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crosslock-exchange/crosslock/internal/auction"
	"github.com/crosslock-exchange/crosslock/internal/ledger"
	"github.com/crosslock-exchange/crosslock/internal/swap"
)

// SwapInfo is the wire representation of a swap.
type SwapInfo struct {
	ID            string `json:"id"`
	SourceChain   string `json:"source_chain"`
	DestChain     string `json:"dest_chain"`
	Initiator     string `json:"initiator"`
	Counterparty  string `json:"counterparty"`
	Resolver      string `json:"resolver,omitempty"`
	SourceAmount  uint64 `json:"source_amount"`
	DestAmount    uint64 `json:"dest_amount"`
	Hashlock      string `json:"hashlock"`
	Status        string `json:"status"`
	SrcLockID     string `json:"src_lock_id,omitempty"`
	DstLockID     string `json:"dst_lock_id,omitempty"`
	SrcTx         string `json:"src_tx,omitempty"`
	DstTx         string `json:"dst_tx,omitempty"`
	SrcDeadline   int64  `json:"src_deadline"`
	DstDeadline   int64  `json:"dst_deadline"`
	SrcLockState  string `json:"src_lock_state,omitempty"`
	DstLockState  string `json:"dst_lock_state,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	Cancelling    bool   `json:"cancelling,omitempty"`
	CreatedAt     int64  `json:"created_at"`
}

func swapToInfo(s *swap.Swap) *SwapInfo {
	return &SwapInfo{
		ID:            s.ID,
		SourceChain:   string(s.SourceChain),
		DestChain:     string(s.DestChain),
		Initiator:     s.Initiator,
		Counterparty:  s.Counterparty,
		Resolver:      s.Resolver,
		SourceAmount:  s.SourceAmount,
		DestAmount:    s.DestAmount,
		Hashlock:      hex.EncodeToString(s.Hashlock),
		Status:        string(s.Status),
		SrcLockID:     s.SrcLockID,
		DstLockID:     s.DstLockID,
		SrcTx:         string(s.SrcTx),
		DstTx:         string(s.DstTx),
		SrcDeadline:   s.SrcDeadline.Unix(),
		DstDeadline:   s.DstDeadline.Unix(),
		SrcLockState:  s.SrcLockState,
		DstLockState:  s.DstLockState,
		FailureReason: s.FailureReason,
		Cancelling:    s.CancelRequested,
		CreatedAt:     s.CreatedAt.Unix(),
	}
}

// OrderInfo is the wire representation of an auction order.
type OrderInfo struct {
	ID            string `json:"id"`
	SwapID        string `json:"swap_id"`
	Asset         string `json:"asset"`
	Value         uint64 `json:"value"`
	StartPrice    string `json:"start_price"`
	EndPrice      string `json:"end_price"`
	Duration      int64  `json:"duration_seconds"`
	Status        string `json:"status"`
	CurrentPrice  string `json:"current_price,omitempty"`
	ClearingPrice string `json:"clearing_price,omitempty"`
	WinningBidID  string `json:"winning_bid_id,omitempty"`
	BidCount      int    `json:"bid_count"`
	StartedAt     int64  `json:"started_at"`
}

func orderToInfo(o *auction.Order) *OrderInfo {
	info := &OrderInfo{
		ID:           o.ID,
		SwapID:       o.SwapID,
		Asset:        o.Asset,
		Value:        o.Value,
		StartPrice:   o.StartPrice.String(),
		EndPrice:     o.EndPrice.String(),
		Duration:     int64(o.Duration.Seconds()),
		Status:       string(o.Status),
		WinningBidID: o.WinningBidID,
		BidCount:     len(o.Bids),
		StartedAt:    o.StartedAt.Unix(),
	}
	if o.Status != auction.StatusActive {
		info.ClearingPrice = o.ClearingPrice.String()
	}
	return info
}

func unmarshalParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return errors.New("missing params")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// nodeStatus returns daemon status.
func (s *Server) nodeStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	status := map[string]interface{}{
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	}
	if s.coordinator != nil {
		status["swaps"] = len(s.coordinator.ListSwaps())
	}
	if s.auctions != nil {
		status["open_auctions"] = len(s.auctions.ListOrders(auction.StatusActive))
	}
	if s.wsHub != nil {
		status["ws_clients"] = s.wsHub.ClientCount()
	}
	return status, nil
}

// nodeChains returns the configured chains and their swap parameters.
func (s *Server) nodeChains(ctx context.Context, params json.RawMessage) (interface{}, error) {
	type chainInfo struct {
		Symbol        string `json:"symbol"`
		Name          string `json:"name"`
		Kind          string `json:"kind"`
		Decimals      uint8  `json:"decimals"`
		Confirmations uint64 `json:"confirmations"`
		MinAmount     uint64 `json:"min_amount"`
		MaxAmount     uint64 `json:"max_amount"`
		MinTimelock   int64  `json:"min_timelock_seconds"`
		MaxTimelock   int64  `json:"max_timelock_seconds"`
	}

	chains := make(map[string]chainInfo, len(s.cfg.Chains))
	for symbol, c := range s.cfg.Chains {
		chains[symbol] = chainInfo{
			Symbol:        c.Symbol,
			Name:          c.Name,
			Kind:          string(c.Kind),
			Decimals:      c.Decimals,
			Confirmations: c.Confirmations,
			MinAmount:     c.MinAmount,
			MaxAmount:     c.MaxAmount,
			MinTimelock:   int64(c.MinTimelock.Seconds()),
			MaxTimelock:   int64(c.MaxTimelock.Seconds()),
		}
	}
	return chains, nil
}

// swapInitiate creates a swap.
func (s *Server) swapInitiate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		SourceChain  string `json:"source_chain"`
		DestChain    string `json:"dest_chain"`
		Initiator    string `json:"initiator"`
		Counterparty string `json:"counterparty"`
		SourceAmount uint64 `json:"source_amount"`
		DestAmount   uint64 `json:"dest_amount"`
	}
	if err := unmarshalParams(params, &req); err != nil {
		return nil, err
	}

	sw, err := s.coordinator.InitiateSwap(ctx, swap.Params{
		SourceChain:  ledger.Chain(req.SourceChain),
		DestChain:    ledger.Chain(req.DestChain),
		Initiator:    req.Initiator,
		Counterparty: req.Counterparty,
		SourceAmount: req.SourceAmount,
		DestAmount:   req.DestAmount,
	})
	if err != nil {
		return nil, err
	}
	return swapToInfo(sw), nil
}

// swapExecute drives an initiated swap through escrow, disclosure, and
// completion in the background. Progress streams over the WebSocket hub.
func (s *Server) swapExecute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		SwapID string `json:"swap_id"`
	}
	if err := unmarshalParams(params, &req); err != nil {
		return nil, err
	}

	sw, err := s.coordinator.GetSwap(req.SwapID)
	if err != nil {
		return nil, err
	}
	if sw.Status != swap.StatusInitiated {
		return nil, fmt.Errorf("swap %s is %s, expected initiated", sw.ID, sw.Status)
	}

	// Outlives the request; bounded by the server's lifetime instead.
	go func() {
		if err := s.coordinator.Run(s.runCtx, req.SwapID); err != nil {
			s.log.Error("swap execution failed", "swap", req.SwapID, "err", err)
		}
	}()

	return map[string]interface{}{"swap_id": req.SwapID, "started": true}, nil
}

// swapGet returns a swap by id.
func (s *Server) swapGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		SwapID string `json:"swap_id"`
	}
	if err := unmarshalParams(params, &req); err != nil {
		return nil, err
	}

	sw, err := s.coordinator.GetSwap(req.SwapID)
	if err != nil {
		return nil, err
	}
	return swapToInfo(sw), nil
}

// swapList returns all swaps, optionally filtered by status.
func (s *Server) swapList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		Status string `json:"status"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}

	infos := make([]*SwapInfo, 0)
	for _, sw := range s.coordinator.ListSwaps() {
		if req.Status != "" && string(sw.Status) != req.Status {
			continue
		}
		infos = append(infos, swapToInfo(sw))
	}
	return infos, nil
}

// swapCancel cancels a swap before it is ready.
func (s *Server) swapCancel(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		SwapID string `json:"swap_id"`
	}
	if err := unmarshalParams(params, &req); err != nil {
		return nil, err
	}

	if err := s.coordinator.CancelSwap(ctx, req.SwapID); err != nil {
		return nil, err
	}
	sw, err := s.coordinator.GetSwap(req.SwapID)
	if err != nil {
		return nil, err
	}
	return swapToInfo(sw), nil
}

// swapRefund refunds the expired locks of a swap.
func (s *Server) swapRefund(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		SwapID string `json:"swap_id"`
	}
	if err := unmarshalParams(params, &req); err != nil {
		return nil, err
	}

	if err := s.coordinator.RefundSwap(ctx, req.SwapID); err != nil {
		return nil, err
	}
	sw, err := s.coordinator.GetSwap(req.SwapID)
	if err != nil {
		return nil, err
	}
	return swapToInfo(sw), nil
}

// auctionCreate opens a Dutch auction for a swap intent.
func (s *Server) auctionCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		SwapID     string `json:"swap_id"`
		Asset      string `json:"asset"`
		Value      uint64 `json:"value"`
		StartPrice string `json:"start_price"`
		EndPrice   string `json:"end_price"`
		Duration   int64  `json:"duration_seconds"`
	}
	if err := unmarshalParams(params, &req); err != nil {
		return nil, err
	}

	start, err := decimal.NewFromString(req.StartPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid start_price: %w", err)
	}
	end, err := decimal.NewFromString(req.EndPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid end_price: %w", err)
	}

	order, err := s.auctions.CreateAuction(req.SwapID, req.Asset, req.Value,
		start, end, time.Duration(req.Duration)*time.Second)
	if err != nil {
		return nil, err
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(EventAuctionCreated, orderToInfo(order))
	}
	return orderToInfo(order), nil
}

// auctionSubmitBid submits a resolver bid on an open order.
func (s *Server) auctionSubmitBid(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		OrderID  string `json:"order_id"`
		Resolver string `json:"resolver"`
		Price    string `json:"price"`
	}
	if err := unmarshalParams(params, &req); err != nil {
		return nil, err
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid price: %w", err)
	}

	result, err := s.auctions.Bid(req.OrderID, req.Resolver, price)
	if err != nil {
		return nil, err
	}

	resp := map[string]interface{}{
		"accepted": result.Accepted,
		"bid_id":   result.BidID,
	}
	if result.Accepted {
		resp["clearing_price"] = result.ClearingPrice.String()
	} else {
		resp["reason"] = result.Reason
	}
	return resp, nil
}

// auctionGetOrder returns an order with its live decay price.
func (s *Server) auctionGetOrder(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := unmarshalParams(params, &req); err != nil {
		return nil, err
	}

	order, err := s.auctions.GetOrder(req.OrderID)
	if err != nil {
		return nil, err
	}

	info := orderToInfo(order)
	if price, err := s.auctions.CurrentPrice(req.OrderID); err == nil {
		info.CurrentPrice = price.String()
	}
	return info, nil
}

// auctionListOrders returns orders, optionally filtered by status.
func (s *Server) auctionListOrders(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		Status string `json:"status"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}

	orders := s.auctions.ListOrders(auction.Status(req.Status))
	infos := make([]*OrderInfo, 0, len(orders))
	for _, order := range orders {
		infos = append(infos, orderToInfo(order))
	}
	return infos, nil
}

// auctionCancel withdraws an active order.
func (s *Server) auctionCancel(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := unmarshalParams(params, &req); err != nil {
		return nil, err
	}

	if err := s.auctions.Cancel(req.OrderID); err != nil {
		return nil, err
	}

	order, err := s.auctions.GetOrder(req.OrderID)
	if err != nil {
		return nil, err
	}

	info := orderToInfo(order)
	if s.wsHub != nil {
		s.wsHub.Broadcast(EventAuctionCancelled, info)
	}
	return info, nil
}
