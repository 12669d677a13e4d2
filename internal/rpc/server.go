// Package rpc provides the JSON-RPC 2.0 and WebSocket surface of the
// Crosslock daemon: swap lifecycle methods for initiators and the auction
// methods resolvers bid through.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/auction"
	"github.com/crosslock-exchange/crosslock/internal/config"
	"github.com/crosslock-exchange/crosslock/internal/storage"
	"github.com/crosslock-exchange/crosslock/internal/swap"
	"github.com/crosslock-exchange/crosslock/pkg/logging"
)

// Server is a JSON-RPC 2.0 server.
type Server struct {
	cfg         *config.ProtocolConfig
	coordinator *swap.Coordinator
	auctions    *auction.Engine
	store       *storage.Storage
	log         *logging.Logger
	wsHub       *WSHub

	server    *http.Server
	listener  net.Listener
	startedAt time.Time

	// runCtx bounds swap executions started from this server; Stop cancels
	// them along with the listener.
	runCtx    context.Context
	runCancel context.CancelFunc

	handlers map[string]Handler
	mu       sync.RWMutex
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// NewServer creates a new JSON-RPC server.
func NewServer(cfg *config.ProtocolConfig, coord *swap.Coordinator, auctions *auction.Engine, store *storage.Storage) *Server {
	runCtx, runCancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:         cfg,
		coordinator: coord,
		auctions:    auctions,
		store:       store,
		log:         logging.GetDefault().Component("rpc"),
		runCtx:      runCtx,
		runCancel:   runCancel,
		handlers:    make(map[string]Handler),
	}

	s.registerHandlers()

	if s.coordinator != nil {
		s.coordinator.OnEvent(func(ev swap.Event) {
			if s.wsHub != nil {
				s.wsHub.Broadcast(EventType(ev.Type), ev)
			}
		})
	}
	if s.auctions != nil {
		s.auctions.OnFill(s.handleAuctionFill)
		s.auctions.OnExpire(func(order *auction.Order) {
			if s.wsHub != nil {
				s.wsHub.Broadcast(EventAuctionExpired, orderToInfo(order))
			}
		})
	}

	return s
}

// handleAuctionFill hands a won auction to the coordinator: the winning
// resolver is recorded on the swap and execution starts in the background.
// Fired synchronously from the engine on bid acceptance.
func (s *Server) handleAuctionFill(order *auction.Order, winning *auction.Bid) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(EventAuctionFilled, orderToInfo(order))
	}

	if s.coordinator == nil || order.SwapID == "" {
		return
	}
	if err := s.coordinator.AssignResolver(order.SwapID, winning.Resolver); err != nil {
		s.log.Error("failed to assign resolver", "order", order.ID, "swap", order.SwapID, "err", err)
		return
	}

	go func() {
		if err := s.coordinator.Run(s.runCtx, order.SwapID); err != nil {
			s.log.Error("swap execution failed", "swap", order.SwapID, "err", err)
		}
	}()
	s.log.Info("auction fill handed to coordinator",
		"order", order.ID, "swap", order.SwapID, "resolver", winning.Resolver)
}

// registerHandlers registers all JSON-RPC method handlers.
func (s *Server) registerHandlers() {
	// Node methods
	s.handlers["node_status"] = s.nodeStatus
	s.handlers["node_chains"] = s.nodeChains

	// Swap methods
	s.handlers["swap_initiate"] = s.swapInitiate
	s.handlers["swap_execute"] = s.swapExecute
	s.handlers["swap_get"] = s.swapGet
	s.handlers["swap_list"] = s.swapList
	s.handlers["swap_cancel"] = s.swapCancel
	s.handlers["swap_refund"] = s.swapRefund

	// Auction methods (resolver surface)
	s.handlers["auction_create"] = s.auctionCreate
	s.handlers["auction_submitBid"] = s.auctionSubmitBid
	s.handlers["auction_getOrder"] = s.auctionGetOrder
	s.handlers["auction_listOrders"] = s.auctionListOrders
	s.handlers["auction_cancel"] = s.auctionCancel
}

// Start starts the RPC server.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.startedAt = time.Now()

	s.wsHub = NewWSHub()
	go s.wsHub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("OPTIONS /", s.handleCORS)
	mux.HandleFunc("OPTIONS /{$}", s.handleCORS)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /ws/", s.handleWS)

	s.server = &http.Server{
		Handler:      corsMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", addr, "ws", "ws://"+addr+"/ws")
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the RPC server and cancels in-flight swap executions it
// started.
func (s *Server) Stop() error {
	s.runCancel()
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "Parse error", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "Invalid Request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, req.ID, MethodNotFound, "Method not found", req.Method)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		s.writeError(w, req.ID, InternalError, err.Error(), nil)
		return
	}

	s.writeResult(w, req.ID, result)
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// handleCORS handles CORS preflight requests.
func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
