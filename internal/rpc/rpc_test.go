package rpc

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/auction"
	"github.com/crosslock-exchange/crosslock/internal/config"
	"github.com/crosslock-exchange/crosslock/internal/finality"
	"github.com/crosslock-exchange/crosslock/internal/ledger"
	"github.com/crosslock-exchange/crosslock/internal/ledger/sim"
	"github.com/crosslock-exchange/crosslock/internal/swap"
	"github.com/crosslock-exchange/crosslock/pkg/logging"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.NewProtocolConfig()
	// Single-confirmation finality so background executions finish fast.
	chains := make(map[string]config.Chain, len(cfg.Chains))
	for symbol, chain := range cfg.Chains {
		chain.Confirmations = 1
		chains[symbol] = chain
	}
	cfg.Chains = chains

	log := logging.New(&logging.Config{Output: io.Discard})

	adapters := map[ledger.Chain]ledger.Adapter{
		"SIMA": sim.New("SIMA"),
		"SIMB": sim.New("SIMB"),
	}
	tracker := finality.NewTracker(adapters, cfg, log)
	coord := swap.NewCoordinator(cfg, adapters, tracker, nil, log)
	t.Cleanup(coord.Stop)

	engine := auction.NewEngine(cfg, nil, log)

	s := NewServer(cfg, coord, engine, nil)
	t.Cleanup(func() { s.Stop() })
	return s
}

// call performs one JSON-RPC round trip against the handler.
func call(t *testing.T, s *Server, method string, params interface{}) *Response {
	t.Helper()

	req := Request{JSONRPC: "2.0", Method: method, ID: 1}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		req.Params = raw
	}

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	rec := httptest.NewRecorder()
	s.handleRPC(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return &resp
}

func TestMethodNotFound(t *testing.T) {
	s := newTestServer(t)

	resp := call(t, s, "no_such_method", nil)
	if resp.Error == nil || resp.Error.Code != MethodNotFound {
		t.Errorf("error = %+v, want code %d", resp.Error, MethodNotFound)
	}
}

func TestParseError(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleRPC(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json"))))

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != ParseError {
		t.Errorf("error = %+v, want code %d", resp.Error, ParseError)
	}
}

func TestInvalidVersionRejected(t *testing.T) {
	s := newTestServer(t)

	body := []byte(`{"jsonrpc":"1.0","method":"node_status","id":1}`)
	rec := httptest.NewRecorder()
	s.handleRPC(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != InvalidRequest {
		t.Errorf("error = %+v, want code %d", resp.Error, InvalidRequest)
	}
}

func TestSwapInitiateAndGet(t *testing.T) {
	s := newTestServer(t)

	resp := call(t, s, "swap_initiate", map[string]interface{}{
		"source_chain":  "SIMA",
		"dest_chain":    "SIMB",
		"initiator":     "alice",
		"counterparty":  "bob",
		"source_amount": 100000,
		"dest_amount":   95000,
	})
	if resp.Error != nil {
		t.Fatalf("swap_initiate error = %+v", resp.Error)
	}

	var info SwapInfo
	raw, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, &info); err != nil {
		t.Fatalf("decode swap info: %v", err)
	}
	if info.Status != "initiated" || info.ID == "" {
		t.Errorf("swap = %+v, want initiated with an id", info)
	}
	if info.Hashlock == "" {
		t.Error("hashlock missing")
	}

	resp = call(t, s, "swap_get", map[string]string{"swap_id": info.ID})
	if resp.Error != nil {
		t.Fatalf("swap_get error = %+v", resp.Error)
	}

	resp = call(t, s, "swap_get", map[string]string{"swap_id": "missing"})
	if resp.Error == nil {
		t.Error("swap_get for unknown id should fail")
	}

	resp = call(t, s, "swap_initiate", map[string]interface{}{
		"source_chain":  "SIMA",
		"dest_chain":    "SIMA",
		"initiator":     "alice",
		"counterparty":  "bob",
		"source_amount": 100000,
		"dest_amount":   95000,
	})
	if resp.Error == nil {
		t.Error("swap_initiate with identical chains should fail")
	}
}

func TestAuctionRPCLifecycle(t *testing.T) {
	s := newTestServer(t)

	resp := call(t, s, "auction_create", map[string]interface{}{
		"swap_id":          "swap-1",
		"asset":            "SIMA",
		"value":            100000000,
		"start_price":      "1.1",
		"end_price":        "0.95",
		"duration_seconds": int64(time.Hour.Seconds()),
	})
	if resp.Error != nil {
		t.Fatalf("auction_create error = %+v", resp.Error)
	}

	var order OrderInfo
	raw, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, &order); err != nil {
		t.Fatalf("decode order info: %v", err)
	}
	if order.Status != "active" {
		t.Fatalf("order status = %s, want active", order.Status)
	}

	resp = call(t, s, "auction_getOrder", map[string]string{"order_id": order.ID})
	if resp.Error != nil {
		t.Fatalf("auction_getOrder error = %+v", resp.Error)
	}
	raw, _ = json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, &order); err != nil {
		t.Fatalf("decode order info: %v", err)
	}
	if order.CurrentPrice == "" {
		t.Error("active order should report a current price")
	}

	// Below-price bid rejected
	resp = call(t, s, "auction_submitBid", map[string]string{
		"order_id": order.ID,
		"resolver": "resolver-a",
		"price":    "0.5",
	})
	if resp.Error != nil {
		t.Fatalf("auction_submitBid error = %+v", resp.Error)
	}
	result := resp.Result.(map[string]interface{})
	if result["accepted"] != false {
		t.Error("low bid should be rejected")
	}

	// Clearing bid wins
	resp = call(t, s, "auction_submitBid", map[string]string{
		"order_id": order.ID,
		"resolver": "resolver-b",
		"price":    "1.1",
	})
	if resp.Error != nil {
		t.Fatalf("auction_submitBid error = %+v", resp.Error)
	}
	result = resp.Result.(map[string]interface{})
	if result["accepted"] != true {
		t.Errorf("bid at start price should win, got %+v", result)
	}

	resp = call(t, s, "auction_getOrder", map[string]string{"order_id": order.ID})
	raw, _ = json.Marshal(resp.Result)
	json.Unmarshal(raw, &order)
	if order.Status != "filled" {
		t.Errorf("order status = %s, want filled", order.Status)
	}
}

func TestAuctionFillStartsSwapExecution(t *testing.T) {
	s := newTestServer(t)

	resp := call(t, s, "swap_initiate", map[string]interface{}{
		"source_chain":  "SIMA",
		"dest_chain":    "SIMB",
		"initiator":     "alice",
		"counterparty":  "bob",
		"source_amount": 100000,
		"dest_amount":   95000,
	})
	if resp.Error != nil {
		t.Fatalf("swap_initiate error = %+v", resp.Error)
	}
	var info SwapInfo
	raw, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, &info); err != nil {
		t.Fatalf("decode swap info: %v", err)
	}

	resp = call(t, s, "auction_create", map[string]interface{}{
		"swap_id":          info.ID,
		"asset":            "SIMA",
		"value":            100000,
		"start_price":      "1.1",
		"end_price":        "0.95",
		"duration_seconds": int64(time.Hour.Seconds()),
	})
	if resp.Error != nil {
		t.Fatalf("auction_create error = %+v", resp.Error)
	}
	var order OrderInfo
	raw, _ = json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, &order); err != nil {
		t.Fatalf("decode order info: %v", err)
	}

	resp = call(t, s, "auction_submitBid", map[string]string{
		"order_id": order.ID,
		"resolver": "resolver-b",
		"price":    "1.1",
	})
	if resp.Error != nil {
		t.Fatalf("auction_submitBid error = %+v", resp.Error)
	}
	result := resp.Result.(map[string]interface{})
	if result["accepted"] != true {
		t.Fatalf("bid at start price should win, got %+v", result)
	}

	// The winner is recorded synchronously on acceptance
	sw, err := s.coordinator.GetSwap(info.ID)
	if err != nil {
		t.Fatalf("GetSwap() error = %v", err)
	}
	if sw.Resolver != "resolver-b" {
		t.Errorf("resolver = %q, want resolver-b", sw.Resolver)
	}

	// Execution was handed to the coordinator in the background
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sw, _ = s.coordinator.GetSwap(info.ID)
		if sw.Status == swap.StatusCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if sw.Status != swap.StatusCompleted {
		t.Fatalf("status after fill = %s, want completed", sw.Status)
	}
}

func TestStopCancelsExecutionContext(t *testing.T) {
	s := newTestServer(t)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case <-s.runCtx.Done():
	default:
		t.Error("Stop() should cancel the execution context")
	}
}

func TestWSSubscriptionFiltering(t *testing.T) {
	c := &WSClient{
		events: make(map[EventType]bool),
		swaps:  make(map[string]bool),
		orders: make(map[string]bool),
	}

	filled := &WSEvent{Type: EventAuctionFilled, swapID: "s1", orderID: "o1"}
	if !c.wants(filled) {
		t.Error("unfiltered client should receive everything")
	}

	c.applySubscription(&WSSubscription{Action: "subscribe", Events: []string{"auction_filled"}})
	if !c.wants(filled) {
		t.Error("subscribed type should pass")
	}
	if c.wants(&WSEvent{Type: EventAuctionExpired}) {
		t.Error("unsubscribed type should be filtered")
	}

	c.applySubscription(&WSSubscription{Action: "subscribe", OrderIDs: []string{"o2"}})
	if c.wants(filled) {
		t.Error("order filter for o2 should exclude o1")
	}
	c.applySubscription(&WSSubscription{Action: "subscribe", OrderIDs: []string{"o1"}})
	if !c.wants(filled) {
		t.Error("order filter for o1 should pass o1")
	}

	c.applySubscription(&WSSubscription{Action: "unsubscribe", Events: []string{"auction_filled"}})
	if !c.wants(&WSEvent{Type: EventAuctionExpired, orderID: "o1"}) {
		t.Error("empty type filter should pass any type again")
	}
}

func TestEventScope(t *testing.T) {
	swapID, orderID := eventScope(swap.Event{SwapID: "s1"})
	if swapID != "s1" || orderID != "" {
		t.Errorf("swap event scope = (%s, %s)", swapID, orderID)
	}

	swapID, orderID = eventScope(&OrderInfo{ID: "o1", SwapID: "s1"})
	if swapID != "s1" || orderID != "o1" {
		t.Errorf("order scope = (%s, %s)", swapID, orderID)
	}

	swapID, orderID = eventScope(map[string]string{"x": "y"})
	if swapID != "" || orderID != "" {
		t.Errorf("unknown payload scope = (%s, %s), want empty", swapID, orderID)
	}
}

func TestNodeStatus(t *testing.T) {
	s := newTestServer(t)

	resp := call(t, s, "node_status", nil)
	if resp.Error != nil {
		t.Fatalf("node_status error = %+v", resp.Error)
	}

	status := resp.Result.(map[string]interface{})
	if _, ok := status["uptime_seconds"]; !ok {
		t.Error("node_status missing uptime")
	}

	resp = call(t, s, "node_chains", nil)
	if resp.Error != nil {
		t.Fatalf("node_chains error = %+v", resp.Error)
	}
	chains := resp.Result.(map[string]interface{})
	if _, ok := chains["SIMA"]; !ok {
		t.Error("node_chains missing SIMA")
	}
}
