package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stratvault/crypto"
	"stratvault/observability"
	"stratvault/vault"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// Server exposes the vault engine over JSON-RPC, plus a websocket event stream
// and Prometheus metrics.
type Server struct {
	engine      *vault.Engine
	assets      vault.AssetLedger
	broadcaster *Broadcaster
	auth        *Authenticator
	limiter     *rateLimiter
	logger      *slog.Logger
	metrics     *observability.VaultMetrics
}

// NewServer wires the RPC surface around a fully configured engine. A nil
// authenticator leaves the mutating methods open, which is only appropriate for
// local development networks.
func NewServer(engine *vault.Engine, assets vault.AssetLedger, broadcaster *Broadcaster, auth *Authenticator, ratePerMinute int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:      engine,
		assets:      assets,
		broadcaster: broadcaster,
		auth:        auth,
		limiter:     newRateLimiter(ratePerMinute),
		logger:      logger,
		metrics:     observability.Metrics(),
	}
}

// Router assembles the HTTP surface: the JSON-RPC endpoint, the websocket event
// stream, health and metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.limiter.middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	r.Post("/", s.handle)
	return otelhttp.NewHandler(r, "stratvault.rpc")
}

// Start serves the router until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to specific method handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	handler, needsAuth, ok := s.route(req.Method)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if needsAuth {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}

	started := time.Now()
	handler(w, r, req)
	s.metrics.ObserveOperation(req.Method, time.Since(started), nil)
}

type methodHandler func(http.ResponseWriter, *http.Request, *RPCRequest)

// route resolves a method name to its handler and whether it mutates state.
func (s *Server) route(method string) (methodHandler, bool, bool) {
	switch method {
	// Views.
	case "vault_getState":
		return s.handleGetState, false, true
	case "vault_getStrategy":
		return s.handleGetStrategy, false, true
	case "vault_getQueue":
		return s.handleGetQueue, false, true
	case "vault_balanceOf":
		return s.handleBalanceOf, false, true
	case "vault_assetBalanceOf":
		return s.handleAssetBalanceOf, false, true
	case "vault_allowance":
		return s.handleAllowance, false, true
	case "vault_custodyOf":
		return s.handleCustodyOf, false, true
	case "vault_roles":
		return s.handleRoles, false, true
	case "vault_convertToShares":
		return s.handleConvertToShares, false, true
	case "vault_convertToAssets":
		return s.handleConvertToAssets, false, true
	case "vault_pricePerShare":
		return s.handlePricePerShare, false, true
	case "vault_maxDeposit":
		return s.handleMaxDeposit, false, true
	case "vault_maxMint":
		return s.handleMaxMint, false, true
	case "vault_maxWithdraw":
		return s.handleMaxWithdraw, false, true
	case "vault_maxRedeem":
		return s.handleMaxRedeem, false, true

	// User operations.
	case "vault_deposit":
		return s.handleDeposit, true, true
	case "vault_mint":
		return s.handleMint, true, true
	case "vault_withdraw":
		return s.handleWithdraw, true, true
	case "vault_redeem":
		return s.handleRedeem, true, true
	case "vault_transfer":
		return s.handleTransfer, true, true
	case "vault_transferFrom":
		return s.handleTransferFrom, true, true
	case "vault_approve":
		return s.handleApprove, true, true
	case "vault_permit":
		return s.handlePermit, true, true
	case "vault_initiateRageQuit":
		return s.handleInitiateRageQuit, true, true
	case "vault_cancelRageQuit":
		return s.handleCancelRageQuit, true, true

	// Keeper and governance operations.
	case "vault_processReport":
		return s.handleProcessReport, true, true
	case "vault_updateDebt":
		return s.handleUpdateDebt, true, true
	case "vault_addStrategy":
		return s.handleAddStrategy, true, true
	case "vault_revokeStrategy":
		return s.handleRevokeStrategy, true, true
	case "vault_forceRevokeStrategy":
		return s.handleForceRevokeStrategy, true, true
	case "vault_updateMaxDebt":
		return s.handleUpdateMaxDebt, true, true
	case "vault_setDefaultQueue":
		return s.handleSetDefaultQueue, true, true
	case "vault_setUseDefaultQueue":
		return s.handleSetUseDefaultQueue, true, true
	case "vault_setDepositLimit":
		return s.handleSetDepositLimit, true, true
	case "vault_setMinimumTotalIdle":
		return s.handleSetMinimumTotalIdle, true, true
	case "vault_setProfitMaxUnlockTime":
		return s.handleSetProfitMaxUnlockTime, true, true
	case "vault_setProtocolFeeBps":
		return s.handleSetProtocolFeeBps, true, true
	case "vault_shutdown":
		return s.handleShutdown, true, true
	case "vault_grantRoles":
		return s.handleGrantRoles, true, true
	case "vault_revokeRoles":
		return s.handleRevokeRoles, true, true
	case "vault_proposeCooldownChange":
		return s.handleProposeCooldownChange, true, true
	case "vault_finalizeCooldownChange":
		return s.handleFinalizeCooldownChange, true, true
	case "vault_cancelCooldownChange":
		return s.handleCancelCooldownChange, true, true
	}
	return nil, false, false
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.auth == nil {
		return nil
	}
	if err := s.auth.Verify(r); err != nil {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: err.Error()}
	}
	return nil
}

// decodeParams unmarshals the single object parameter every method accepts.
func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one parameter object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(field, raw string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

// parseAmount accepts a decimal string; "max" maps to the full-balance
// sentinel.
func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s: amount required", field)
	}
	if strings.EqualFold(trimmed, "max") {
		return new(big.Int).Set(vault.MaxUint256), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid amount %q", field, raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%s: amount must not be negative", field)
	}
	return value, nil
}

func parseQueue(raw []string) ([]crypto.Address, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	queue := make([]crypto.Address, 0, len(raw))
	for i, entry := range raw {
		addr, err := parseAddress(fmt.Sprintf("queue[%d]", i), entry)
		if err != nil {
			return nil, err
		}
		queue = append(queue, addr)
	}
	return queue, nil
}

func parseRoles(raw []string) (vault.Role, error) {
	var roles vault.Role
	for _, name := range raw {
		role, ok := vault.ParseRole(name)
		if !ok {
			return 0, fmt.Errorf("unknown role %q", name)
		}
		roles = roles.Grant(role)
	}
	return roles, nil
}

func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeServerError, err.Error(), nil)
}
