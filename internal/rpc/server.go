// Package rpc provides a JSON-RPC 2.0 server for the paybyt wallet daemon.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/paybyt/paybyt-wallet/internal/wallet"
	"github.com/paybyt/paybyt-wallet/pkg/logging"
)

// Server is a JSON-RPC 2.0 server.
type Server struct {
	wallet  *wallet.Service
	feeRate uint64
	log     *logging.Logger
	wsHub   *WSHub

	server   *http.Server
	listener net.Listener

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

// Wallet error codes. A recoverable error can be fixed by the caller
// (more funds, another fee rate); a fatal one cannot.
const (
	RecoverableError = -32001
	FatalError       = -32002
)

// NewServer creates a new JSON-RPC server. feeRate is used by spending
// methods called without an explicit fee rate.
func NewServer(w *wallet.Service, feeRate uint64) *Server {
	s := &Server{
		wallet:   w,
		feeRate:  feeRate,
		log:      logging.GetDefault().Component("rpc"),
		wsHub:    NewWSHub(),
		handlers: make(map[string]Handler),
	}

	s.registerHandlers()

	if w != nil {
		w.SetEventHandler(s.wsHub.Publish)
	}

	return s
}

// registerHandlers registers all JSON-RPC method handlers.
func (s *Server) registerHandlers() {
	// Wallet methods
	s.handlers["wallet_status"] = s.walletStatus
	s.handlers["wallet_generate"] = s.walletGenerate
	s.handlers["wallet_validateMnemonic"] = s.walletValidateMnemonic
	s.handlers["wallet_create"] = s.walletCreate
	s.handlers["wallet_unlock"] = s.walletUnlock
	s.handlers["wallet_lock"] = s.walletLock
	s.handlers["wallet_getAddress"] = s.walletGetAddress
	s.handlers["wallet_listAddresses"] = s.walletListAddresses
	s.handlers["wallet_validateAddress"] = s.walletValidateAddress
	s.handlers["wallet_syncUTXOs"] = s.walletSyncUTXOs
	s.handlers["wallet_listUTXOs"] = s.walletListUTXOs
	s.handlers["wallet_getBalance"] = s.walletGetBalance
	s.handlers["wallet_getFeeEstimates"] = s.walletGetFeeEstimates

	// Transaction methods
	s.handlers["tx_estimateFee"] = s.txEstimateFee
	s.handlers["tx_build"] = s.txBuild
	s.handlers["tx_prepare"] = s.txPrepare
	s.handlers["tx_get"] = s.txGet
	s.handlers["tx_listPending"] = s.txListPending
	s.handlers["tx_sign"] = s.txSign
	s.handlers["tx_addSignature"] = s.txAddSignature
	s.handlers["tx_signWithKey"] = s.txSignWithKey
	s.handlers["tx_finalize"] = s.txFinalize
	s.handlers["tx_abandon"] = s.txAbandon
	s.handlers["tx_broadcast"] = s.txBroadcast
	s.handlers["tx_send"] = s.txSend
	s.handlers["tx_decode"] = s.txDecode
	s.handlers["tx_exportPSBT"] = s.txExportPSBT
	s.handlers["tx_importPSBT"] = s.txImportPSBT

	// Multisig methods
	s.handlers["multisig_create"] = s.multisigCreate
	s.handlers["multisig_escrow"] = s.multisigEscrow

	// Amount methods
	s.handlers["amount_convert"] = s.amountConvert
	s.handlers["amount_fiatToSats"] = s.amountFiatToSats
}

// Handler returns the HTTP handler serving JSON-RPC and WebSocket requests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("OPTIONS /", s.handleCORS)
	mux.HandleFunc("OPTIONS /{$}", s.handleCORS)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /ws/", s.handleWS)
	return corsMiddleware(mux)
}

// Start starts the RPC server.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	go s.wsHub.Run()

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", listener.Addr().String(), "ws", "ws://"+listener.Addr().String()+"/ws")
	return nil
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	s.wsHub.Close()
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

	s.log.Debug("RPC call", "method", req.Method, "params", logParams(req.Method, req.Params))

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		code, data := errorCode(err)
		if code == InternalError || code == FatalError {
			s.log.Warn("RPC call failed", "method", req.Method, "error", err)
		}
		s.writeError(w, req.ID, code, err.Error(), data)
		return
	}

	s.writeResult(w, req.ID, result)
}

// secretMethods carry key material or passwords in their params.
var secretMethods = map[string]bool{
	"wallet_validateMnemonic": true,
	"wallet_create":           true,
	"wallet_unlock":           true,
}

// logParams returns params as a log field, hiding secret-bearing ones.
func logParams(method string, params json.RawMessage) interface{} {
	if secretMethods[method] {
		return logging.Redacted(params)
	}
	return string(params)
}

// paramsError marks a malformed or incomplete request.
type paramsError struct {
	err error
}

func (e *paramsError) Error() string { return e.err.Error() }
func (e *paramsError) Unwrap() error { return e.err }

func invalidParams(format string, args ...interface{}) error {
	return &paramsError{err: fmt.Errorf(format, args...)}
}

// decodeParams unmarshals params into v. Missing params leave v untouched.
func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return invalidParams("invalid params: %v", err)
	}
	return nil
}

// ErrorData is attached to wallet errors.
type ErrorData struct {
	Kind      string `json:"kind"`
	Available uint64 `json:"available,omitempty"`
	Required  uint64 `json:"required,omitempty"`
	Shortfall uint64 `json:"shortfall,omitempty"`
}

// errorCode maps a handler error to its JSON-RPC code.
func errorCode(err error) (int, interface{}) {
	var pe *paramsError
	if errors.As(err, &pe) {
		return InvalidParams, nil
	}

	switch {
	case wallet.IsRecoverable(err):
		data := &ErrorData{Kind: "recoverable"}
		var insufficient *wallet.InsufficientFundsError
		if errors.As(err, &insufficient) {
			data.Available = insufficient.Available
			data.Required = insufficient.Required
			data.Shortfall = insufficient.Shortfall()
		}
		return RecoverableError, data
	case wallet.IsFatal(err):
		return FatalError, &ErrorData{Kind: "fatal"}
	default:
		return InternalError, nil
	}
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
		w.Header().Set("Access-Control-Max-Age", "86400") // Cache preflight for 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
