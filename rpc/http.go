package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/netutil"

	nhberrors "nhbmarket/core/errors"
	"nhbmarket/core/types"
	"nhbmarket/native/bank"
	"nhbmarket/native/common"
	"nhbmarket/native/marketplace"
	"nhbmarket/observability"
	telemetry "nhbmarket/observability/otel"
	"nhbmarket/rpc/middleware"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	shutdownTimeout = 10 * time.Second
)

const (
	codeParseError          = -32700
	codeInvalidRequest      = -32600
	codeMethodNotFound      = -32601
	codeInvalidParams       = -32602
	codeUnauthorized        = -32001
	codeNotFound            = -32004
	codeServerError         = -32000
	codeAlreadyPurchased    = -32010
	codeInsufficientPayment = -32011
	codeSelfPurchase        = -32012
	codeBalanceOverflow     = -32013
	codeRateLimited         = -32020
	codeModulePaused        = -32030
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
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

// Config carries the listener's security and CORS settings.
type Config struct {
	Auth           middleware.AuthConfig
	RateLimit      middleware.RateLimit
	AllowedOrigins []string
	// MaxConnections caps concurrently served connections; zero disables
	// the cap.
	MaxConnections int
}

// Server exposes a Node over JSON-RPC and a websocket event stream.
type Server struct {
	node    Backend
	cfg     Config
	logger  *slog.Logger
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
}

func NewServer(node Backend, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rpc")
	return &Server{
		node:    node,
		cfg:     cfg,
		logger:  logger,
		auth:    middleware.NewAuthenticator(cfg.Auth, logger),
		limiter: middleware.NewRateLimiter(cfg.RateLimit),
	}
}

// Handler returns the full HTTP surface of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(s.cfg.AllowedOrigins))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "ok",
			"eventHead": s.node.EventHead(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.With(s.limiter.Middleware).Get("/ws/events", s.handleEventsWS)
	r.Post("/", s.handle)
	return otelhttp.NewHandler(r, "rpc")
}

// Listen opens a TCP listener on addr, capped at cfg.MaxConnections
// concurrent connections when set.
func (s *Server) Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	return ln, nil
}

// Serve listens on addr until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := s.Listen(addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc listening", "addr", ln.Addr().String(), "max_connections", s.cfg.MaxConnections)
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("rpc: shutdown: %w", err)
	}
	return nil
}

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

	ctx, span := telemetry.Tracer("nhbmarket/rpc").Start(r.Context(), req.Method,
		trace.WithAttributes(attribute.String("rpc.method", req.Method)))
	r = r.WithContext(ctx)
	start := time.Now()
	recorder := &statusRecorder{ResponseWriter: w}
	defer func() {
		span.SetAttributes(attribute.Int("rpc.error_code", recorder.code))
		span.End()
		observability.ModuleMetrics().Observe(marketplace.ModuleName, req.Method, recorder.code, time.Since(start))
	}()

	switch req.Method {
	case "market_name":
		s.handleName(recorder, r, req)
	case "market_productCount":
		s.handleProductCount(recorder, r, req)
	case "market_getProduct":
		s.handleGetProduct(recorder, r, req)
	case "market_listProducts":
		s.handleListProducts(recorder, r, req)
	case "market_getBalance":
		s.handleGetBalance(recorder, r, req)
	case "market_getEvents":
		s.handleGetEvents(recorder, r, req)
	case "market_sendTransaction":
		if err := s.auth.Authorize(r); err != nil {
			writeError(recorder, http.StatusUnauthorized, req.ID, codeUnauthorized, "unauthorized", err.Error())
			return
		}
		if !s.limiter.Allow(r) {
			observability.ModuleMetrics().RecordThrottle(marketplace.ModuleName, "rate_limit")
			writeError(recorder, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", middleware.ClientID(r))
			return
		}
		s.handleSendTransaction(recorder, r, req)
	default:
		writeError(recorder, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if rec, ok := w.(*statusRecorder); ok {
		rec.code = code
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

// writeNodeError maps ledger failures onto JSON-RPC codes and HTTP statuses.
func (s *Server) writeNodeError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, marketplace.ErrInvalidInput),
		errors.Is(err, types.ErrUnknownTxType),
		errors.Is(err, types.ErrUnsigned),
		errors.Is(err, nhberrors.ErrInvalidSignature),
		errors.Is(err, nhberrors.ErrChainIDMismatch),
		errors.Is(err, nhberrors.ErrNonceMismatch),
		errors.Is(err, nhberrors.ErrUnexpectedValue):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, marketplace.ErrNotFound):
		writeError(w, http.StatusNotFound, id, codeNotFound, err.Error(), nil)
	case errors.Is(err, marketplace.ErrAlreadyPurchased):
		writeError(w, http.StatusConflict, id, codeAlreadyPurchased, err.Error(), nil)
	case errors.Is(err, marketplace.ErrInsufficientPayment),
		errors.Is(err, bank.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, id, codeInsufficientPayment, err.Error(), nil)
	case errors.Is(err, marketplace.ErrSelfPurchase):
		writeError(w, http.StatusBadRequest, id, codeSelfPurchase, err.Error(), nil)
	case errors.Is(err, bank.ErrBalanceOverflow):
		writeError(w, http.StatusConflict, id, codeBalanceOverflow, err.Error(), nil)
	case errors.Is(err, common.ErrQuotaExceeded):
		writeError(w, http.StatusTooManyRequests, id, codeRateLimited, err.Error(), nil)
	case errors.Is(err, common.ErrModulePaused):
		writeError(w, http.StatusServiceUnavailable, id, codeModulePaused, err.Error(), nil)
	default:
		s.logger.Error("rpc call failed", "error", err)
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal error", nil)
	}
}

// statusRecorder remembers the JSON-RPC error code written for a call.
type statusRecorder struct {
	http.ResponseWriter
	code int
}
