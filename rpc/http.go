package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"slimhogs/native/piggy"
	"slimhogs/native/token"
	"slimhogs/observability/journal"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	requestIDHeader = "X-Request-ID"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Registry is the piggy engine surface exposed over JSON-RPC.
type Registry interface {
	Create(ctx context.Context, caller common.Address, terms piggy.Terms, resolver, arbiter common.Address, mode piggy.Creation) (common.Hash, error)
	Transfer(ctx context.Context, caller common.Address, terms piggy.Terms, newOwner common.Address) error
	ReclaimAndBurn(ctx context.Context, caller common.Address, terms piggy.Terms) error
	Settle(ctx context.Context, caller common.Address, terms piggy.Terms, holder common.Address) error
	Claim(ctx context.Context, caller common.Address, terms piggy.Terms, amount *uint256.Int) error
	CheckOwner(ctx context.Context, terms piggy.Terms) common.Address
	Position(ctx context.Context, id common.Hash) (*piggy.Position, bool, error)
}

// History serves the event journal for a fingerprint.
type History interface {
	History(ctx context.Context, fingerprint string, limit int) ([]journal.Entry, error)
}

// Operators records operator approvals granted over RPC.
type Operators interface {
	SetApprovalForAll(owner, operator common.Address, approved bool)
	Approve(id common.Hash, owner, operator common.Address, approved bool)
}

// RPCMetrics receives per-call observations.
type RPCMetrics interface {
	Observe(method string, code int, duration time.Duration)
	RecordThrottle(reason string)
}

type noopRPCMetrics struct{}

func (noopRPCMetrics) Observe(string, int, time.Duration) {}
func (noopRPCMetrics) RecordThrottle(string)              {}

// ServerConfig tunes authentication and rate limiting.
type ServerConfig struct {
	Auth              AuthConfig
	RequestsPerMinute float64
	Burst             int
	Metrics           RPCMetrics
	Logger            *slog.Logger
}

type handlerFunc func(ctx context.Context, caller common.Address, params json.RawMessage) (interface{}, *RPCError)

type method struct {
	auth    bool
	handler handlerFunc
}

type Server struct {
	registry  Registry
	tokens    token.Registry
	history   History
	operators Operators

	auth    *Authenticator
	limiter *RateLimiter
	metrics RPCMetrics
	logger  *slog.Logger
	tracer  trace.Tracer
	methods map[string]method
}

func NewServer(registry Registry, tokens token.Registry, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopRPCMetrics{}
	}
	s := &Server{
		registry: registry,
		tokens:   tokens,
		auth:     NewAuthenticator(cfg.Auth),
		limiter:  NewRateLimiter(cfg.RequestsPerMinute, cfg.Burst),
		metrics:  metrics,
		logger:   logger.With("component", "rpc"),
		tracer:   otel.Tracer("slimhogs/rpc"),
	}
	s.methods = map[string]method{
		"piggy_fingerprint":       {handler: s.handleFingerprint},
		"piggy_create":            {auth: true, handler: s.handleCreate},
		"piggy_transfer":          {auth: true, handler: s.handleTransfer},
		"piggy_reclaimAndBurn":    {auth: true, handler: s.handleReclaimAndBurn},
		"piggy_settle":            {auth: true, handler: s.handleSettle},
		"piggy_claimPayout":       {auth: true, handler: s.handleClaimPayout},
		"piggy_setApprovalForAll": {auth: true, handler: s.handleSetApprovalForAll},
		"piggy_approve":           {auth: true, handler: s.handleApprove},
		"piggy_checkOwner":        {handler: s.handleCheckOwner},
		"piggy_position":          {handler: s.handlePosition},
		"piggy_history":           {handler: s.handleHistory},
		"token_balanceOf":         {handler: s.handleBalanceOf},
	}
	return s
}

// SetHistory enables piggy_history.
func (s *Server) SetHistory(h History) { s.history = h }

// SetOperators enables the approval methods.
func (s *Server) SetOperators(o Operators) { s.operators = o }

// Handler returns the HTTP routes: POST /rpc, GET /healthz and GET /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.With(s.limiter.Middleware(s.metrics)).Post("/rpc", s.handle)
	return r
}

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

	status int
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

func invalidParams(format string, args ...interface{}) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: "invalid_params", Data: fmt.Sprintf(format, args...), status: http.StatusBadRequest}
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

// handle decodes one JSON-RPC request, authenticates it when the method
// mutates state and dispatches it.
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
	if strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	start := time.Now()
	ctx, span := s.tracer.Start(r.Context(), "rpc."+req.Method, trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", req.Method),
		attribute.String("request.id", RequestIDFrom(ctx)),
	)
	defer span.End()

	result, rpcErr := s.dispatch(ctx, r, req)
	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
		span.SetStatus(codes.Error, rpcErr.Message)
		s.logger.Debug("rpc call failed",
			"method", req.Method,
			"code", rpcErr.Code,
			"request_id", RequestIDFrom(ctx),
			"data", rpcErr.Data)
		writeError(w, rpcErr.status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	} else {
		writeResult(w, req.ID, result)
	}
	s.metrics.Observe(req.Method, code, time.Since(start))
}

func (s *Server) dispatch(ctx context.Context, r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	m, ok := s.methods[req.Method]
	if !ok {
		return nil, &RPCError{Code: codeMethodNotFound, Message: "method not found", Data: req.Method, status: http.StatusNotFound}
	}
	var caller common.Address
	if m.auth {
		addr, authErr := s.auth.Authenticate(r)
		if authErr != nil {
			return nil, authErr
		}
		caller = addr
	}
	if len(req.Params) != 1 {
		return nil, invalidParams("exactly one parameter object expected")
	}
	return m.handler(ctx, caller, req.Params[0])
}

type requestIDKey struct{}

// requestID tags every request with a correlation id, reusing a well-formed
// inbound X-Request-ID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestIDFrom returns the correlation id attached to ctx.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
